package ledger

import "time"

// =============================================================================
// PERIOD - Reporting window on the economic date
// =============================================================================

// Period bounds reporting by TransactionDate, inclusive on both ends.
// A zero Start or End leaves that side open; the zero Period is all time.
//
// Examples:
//   - All time:        Period{}
//   - As of Mar 31:    AsOf(mar31)
//   - Calendar month:  MonthOf(date)
//   - Fiscal year Apr: FiscalYearOf(date, time.April)
type Period struct {
	Start time.Time
	End   time.Time
}

// AllTime is the unbounded period.
var AllTime = Period{}

// AsOf returns the period of everything up to and including the day of t.
func AsOf(t time.Time) Period {
	return Period{End: EndOfDay(t)}
}

// Between returns the period [from, to], with to extended to the end of its day.
func Between(from, to time.Time) Period {
	p := Period{Start: StartOfDay(from)}
	if !to.IsZero() {
		p.End = EndOfDay(to)
	}
	if from.IsZero() {
		p.Start = time.Time{}
	}
	return p
}

// Contains returns true if t is within the period.
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false
	}
	return true
}

func (p Period) IsAllTime() bool { return p.Start.IsZero() && p.End.IsZero() }

// Validate rejects a period whose end is before its start.
func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return invalid("period", "end %s before start %s", p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	return nil
}

func (p Period) String() string {
	from, to := "-inf", "+inf"
	if !p.Start.IsZero() {
		from = p.Start.Format(time.DateOnly)
	}
	if !p.End.IsZero() {
		to = p.End.Format(time.DateOnly)
	}
	return "[" + from + ", " + to + "]"
}

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

// PeriodType selects how a date maps to its containing period.
type PeriodType string

const (
	PeriodMonth        PeriodType = "month"
	PeriodQuarter      PeriodType = "quarter"
	PeriodCalendarYear PeriodType = "calendar_year"
	PeriodFiscalYear   PeriodType = "fiscal_year"
)

// PeriodFor returns the period of the given type containing date.
// fiscalStart is only used for PeriodFiscalYear.
func PeriodFor(pt PeriodType, date time.Time, fiscalStart time.Month) (Period, error) {
	switch pt {
	case PeriodMonth:
		return MonthOf(date), nil
	case PeriodQuarter:
		return QuarterOf(date), nil
	case PeriodCalendarYear:
		return FiscalYearOf(date, time.January), nil
	case PeriodFiscalYear:
		if fiscalStart < time.January || fiscalStart > time.December {
			fiscalStart = time.April
		}
		return FiscalYearOf(date, fiscalStart), nil
	}
	return Period{}, invalid("period_type", "unknown period type %q", pt)
}

func MonthOf(date time.Time) Period {
	start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}
}

func QuarterOf(date time.Time) Period {
	firstMonth := time.Month((int(date.Month())-1)/3*3 + 1)
	start := time.Date(date.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 3, 0).Add(-time.Nanosecond)}
}

// FiscalYearOf returns the twelve-month period starting in startMonth that
// contains date. With startMonth April, 2025-02-10 falls in Apr 2024 - Mar 2025.
func FiscalYearOf(date time.Time, startMonth time.Month) Period {
	year := date.Year()
	if date.Month() < startMonth {
		year--
	}
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(1, 0, 0).Add(-time.Nanosecond)}
}

// Previous returns the period of equal calendar shape immediately before p.
// Both ends must be set.
func (p Period) Previous() Period {
	if p.Start.IsZero() || p.End.IsZero() {
		return Period{}
	}
	// Whole months shift by month count so Feb/Mar comparisons line up.
	next := p.End.Add(time.Nanosecond)
	if p.Start.Day() == 1 && next.Day() == 1 && p.Start.Hour() == 0 && next.Hour() == 0 {
		months := (next.Year()-p.Start.Year())*12 + int(next.Month()-p.Start.Month())
		start := p.Start.AddDate(0, -months, 0)
		return Period{Start: start, End: p.Start.Add(-time.Nanosecond)}
	}
	length := p.End.Sub(p.Start)
	end := p.Start.Add(-time.Nanosecond)
	return Period{Start: end.Add(-length), End: end}
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
