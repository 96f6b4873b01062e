/*
scenarios_test.go - Demo scenarios against the SQLite store

Each scenario is loaded through the HTTP handler and its summary checked
against the figures in its description.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/adnank79d/Wytis-sub002/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupSQLiteRouter(t *testing.T) http.Handler {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRouter(NewHandler(st, st, nil), RouterOptions{})
}

func TestScenarios_Summaries(t *testing.T) {
	cases := []struct {
		id          string
		revenue     string
		netProfit   string
		taxPayable  string
		receivables string
	}{
		{"local-sale", "1000.00", "1000.00", "180.00", "1180.00"},
		{"interstate", "1000.00", "1000.00", "180.00", "1180.00"},
		{"cost-of-sale", "1000.00", "400.00", "180.00", "1180.00"},
		{"void", "0.00", "0.00", "0.00", "0.00"},
		{"orphan-drift", "2000.00", "1400.00", "360.00", "2360.00"},
	}

	router := setupSQLiteRouter(t)
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			rec := do(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: tc.id}, nil)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			resp := decodeBody[LoadScenarioResponse](t, rec)
			assert.Equal(t, tc.revenue, resp.Summary.Revenue)
			assert.Equal(t, tc.netProfit, resp.Summary.NetProfit)
			assert.Equal(t, tc.taxPayable, resp.Summary.TaxPayable)
			assert.Equal(t, tc.receivables, resp.Summary.Receivables)
		})
	}

	rec := do(t, router, "GET", "/api/businesses", nil, nil)
	assert.Len(t, decodeBody[[]BusinessDTO](t, rec), len(cases))

	rec = do(t, router, "GET", "/api/scenarios/current", nil, nil)
	assert.Equal(t, "orphan-drift", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenarios_UnknownScenario(t *testing.T) {
	router := setupSQLiteRouter(t)
	rec := do(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "GET", "/api/scenarios", nil, nil)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))
}
