package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/quoting/cmd/quoting/cli"
	"github.com/odyssey-erp/quoting/internal/app"
	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/internal/shared"
	"github.com/odyssey-erp/quoting/migrations"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quoting",
		Short:         "Quote versioning and pricing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newMaterializeCmd(), newTotalsCmd(), newJobsCmd(), newRatesCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				return serve(ctx, s)
			})
		},
	}
}

func serve(ctx context.Context, s *app.Services) error {
	cfg := s.Config
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("totals_mode", cfg.TotalsMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(cfg)
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := db.Migrate(cmd.Context(), pool, migrations.FS)
			if err != nil {
				return err
			}
			logger.Info("schema migrated", slog.Uint64("version", uint64(version)))
			return nil
		},
	}
}

func newMaterializeCmd() *cobra.Command {
	var (
		quoteID int64
		async   bool
	)
	cmd := &cobra.Command{
		Use:   "materialize <version-id>",
		Short: "Materialize the totals of one version now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || versionID <= 0 {
				return fmt.Errorf("invalid version id %q", args[0])
			}
			if async {
				if quoteID <= 0 {
					return errors.New("--async requires --quote")
				}
				cfg, err := app.LoadConfig()
				if err != nil {
					return err
				}
				jobsCLI, err := cli.NewJobsCLI(cfg.RedisOpts(), cfg.MaterializeMaxRetry)
				if err != nil {
					return err
				}
				defer jobsCLI.Close()
				if err := jobsCLI.EnqueueMaterialize(cmd.Context(), quoteID, versionID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version %d: enqueued\n", versionID)
				return nil
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				run := func(ctx context.Context) error {
					outcome, err := s.Materializer.Materialize(ctx, versionID)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version %d: %s\n", versionID, outcome)
					return nil
				}
				if quoteID <= 0 {
					return run(ctx)
				}
				return s.Locker.WithLock(ctx, shared.MaterializeLockKey(quoteID), s.Config.MaterializeLockTTL, run)
			})
		},
	}
	cmd.Flags().Int64Var(&quoteID, "quote", 0, "quote id; when set the per-quote lock is held while materializing")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue the materialization for the worker")
	return cmd
}

func newTotalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Manage materialized totals",
	}
	var (
		concurrency int
		async       bool
	)
	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-materialize the totals of every active version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.WorkerConcurrency
			}
			if async {
				jobsCLI, err := cli.NewJobsCLI(cfg.RedisOpts(), cfg.MaterializeMaxRetry)
				if err != nil {
					return err
				}
				defer jobsCLI.Close()
				info, err := jobsCLI.EnqueueRebuild(cmd.Context(), concurrency)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
				return nil
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				report, err := s.Materializer.RebuildAll(ctx, concurrency)
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(report); encErr != nil {
					return encErr
				}
				return err
			})
		},
	}
	rebuild.Flags().IntVar(&concurrency, "concurrency", 0, "parallel materializations (defaults to WORKER_CONCURRENCY)")
	rebuild.Flags().BoolVar(&async, "async", false, "enqueue the rebuild for the worker instead of running it here")
	cmd.AddCommand(rebuild)
	return cmd
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisOpts(), cfg.MaterializeMaxRetry)
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			stats, err := jobsCLI.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	})
	return cmd
}

func newRatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Exchange rate helpers",
	}
	var opts cli.RatesCheckOptions
	check := &cobra.Command{
		Use:   "check",
		Short: "Report currencies of active versions without a rate into the reporting currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				ratesCLI, err := cli.NewRatesCLI(s.Rates, s.Rates, s.Config.ReportingCurrency)
				if err != nil {
					return err
				}
				opts.Stdout = cmd.OutOrStdout()
				opts.Stderr = cmd.ErrOrStderr()
				if code := ratesCLI.CheckCommand(ctx, opts); code != 0 {
					return exitError{code: code}
				}
				return nil
			})
		},
	}
	check.Flags().StringVar(&opts.AsOf, "as-of", "", "date to resolve rates on (YYYY-MM-DD, defaults to today)")
	check.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	cmd.AddCommand(check)
	return cmd
}

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	services, err := app.NewServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()
	return fn(ctx, services)
}
