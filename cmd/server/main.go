/*
main.go - Application entry point

PURPOSE:
  Runs the multi-tenant ledger: the HTTP API, the background reconciliation
  scheduler, and one-off maintenance commands.

COMMANDS:
  ledgerd serve                          Start the HTTP server
  ledgerd reconcile --business ID        Check one business (add --repair to fix)
  ledgerd migrate                        Create or update the schema and exit

FLAGS:
  --config   Path to ledger.yaml (default: ledger.yaml; missing is fine)

STARTUP SEQUENCE (serve):
  1. Load configuration (file, .env, LEDGER_* environment)
  2. Open the store selected by db.driver (migrates on open)
  3. Create API handler and router
  4. Start the reconciliation scheduler
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  # Run with file database
  ledgerd serve

  # Run against Postgres
  LEDGER_DB_DRIVER=postgres LEDGER_DB_DSN=postgres://localhost/ledger ledgerd serve

  # Run with in-memory database
  LEDGER_DB_DRIVER=memory ledgerd serve

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - reconcile/scheduler.go: Background checks
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adnank79d/Wytis-sub002/api"
	"github.com/adnank79d/Wytis-sub002/config"
	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/ledger/store"
	"github.com/adnank79d/Wytis-sub002/reconcile"
	"github.com/adnank79d/Wytis-sub002/store/postgres"
	"github.com/adnank79d/Wytis-sub002/store/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "ledgerd",
		Short: "Multi-tenant double-entry ledger with invoicing and GST",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "ledger.yaml", "path to the configuration file")

	root.AddCommand(
		newServeCommand(&configPath),
		newReconcileCommand(&configPath),
		newMigrateCommand(&configPath),
	)
	return root
}

// backend is what every store driver provides.
type backend interface {
	ledger.TxStore
	ledger.RunStore
}

// openStore opens the configured driver. The returned close func is never nil.
func openStore(ctx context.Context, cfg config.DBConfig) (backend, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// setup loads configuration and builds the logger.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg.DB)
	if err != nil {
		logger.Error("failed to initialize database", zap.String("driver", cfg.DB.Driver), zap.Error(err))
		return err
	}
	defer closeStore()

	handler := api.NewHandler(st, st, logger, reconcile.WithAutoRepair(cfg.Reconcile.AutoRepair))
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.CORS.AllowedOrigins})

	scheduler := reconcile.NewScheduler(handler.Reconciler, st,
		reconcile.WithInterval(cfg.Reconcile.Interval),
		reconcile.WithEnabled(cfg.Reconcile.Enabled),
		reconcile.WithSchedulerLogger(logger.Named("scheduler")),
	)
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("driver", cfg.DB.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

func newReconcileCommand(configPath *string) *cobra.Command {
	var (
		businessID string
		repair     bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find orphaned rows and unbalanced transactions for one business",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx, cfg.DB)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := reconcile.NewService(st, st,
				reconcile.WithLogger(logger.Named("reconcile")),
				reconcile.WithAutoRepair(repair),
			)
			run, err := svc.Check(ctx, ledger.BusinessID(businessID))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "business:                %s\n", businessID)
			fmt.Fprintf(out, "orphan transactions:     %d\n", run.OrphanTransactions)
			fmt.Fprintf(out, "orphan ledger entries:   %d\n", run.OrphanEntries)
			fmt.Fprintf(out, "orphan gst records:      %d\n", run.OrphanGstRecords)
			fmt.Fprintf(out, "unbalanced transactions: %d\n", run.UnbalancedTransactions)
			fmt.Fprintf(out, "repaired:                %t\n", run.Repaired)
			if !run.Clean() && !run.Repaired {
				return fmt.Errorf("business %s needs attention", businessID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&businessID, "business", "", "business to check")
	cmd.Flags().BoolVar(&repair, "repair", false, "delete orphaned rows that are found")
	cmd.MarkFlagRequired("business")
	return cmd
}

// =============================================================================
// MIGRATE
// =============================================================================

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			_, closeStore, err := openStore(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			closeStore()
			logger.Info("schema up to date", zap.String("driver", cfg.DB.Driver))
			return nil
		},
	}
}
