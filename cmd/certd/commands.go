package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/api"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/app"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/config"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveWithScheduler bool
	sweepDate          string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateForServe(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		return serve(ctx, rt)
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the nightly penalty scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		scheduler := app.NewScheduler(rt.sweeper(), rt.clock, cfg.Location, cfg.PenaltyJobSchedule, logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
		logger.Info("scheduler started", zap.String("timezone", cfg.Location.String()))

		<-ctx.Done()
		logger.Info("shutdown signal received, stopping scheduler")
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped gracefully")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the penalty sweep once",
	Long: `Run the penalty sweep once, for --date or for yesterday in the
configured timezone. Communities already swept for the date are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		return runSweep(ctx, rt.sweeper(), rt.clock.Now(), sweepDate, cmd.OutOrStdout())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.StoreDriverPostgres {
			return fmt.Errorf("migrate requires the postgres store, got %q", cfg.StoreDriver)
		}
		ctx := cmd.Context()
		pool, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}

func serve(ctx context.Context, rt *runtime) error {
	handlers := api.NewHandlers(rt.service(), rt.sweeper(), rt.clock, rt.logger)
	handlers.SetCertifyRateLimiter(rt.limiter)

	router := api.NewRouter(handlers, api.RouterOptions{
		JWTSecret:         rt.cfg.JWTSecret,
		TrustUserIDHeader: rt.cfg.TrustUserIDHeader,
		InternalAPIKey:    rt.cfg.InternalAPIKey,
		AllowedOrigins:    rt.cfg.CORSAllowedOrigins,
	}, rt.logger)

	if serveWithScheduler {
		scheduler := app.NewScheduler(rt.sweeper(), rt.clock, rt.cfg.Location, rt.cfg.PenaltyJobSchedule, rt.logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	server := &http.Server{
		Addr:              ":" + rt.cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	rt.logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	rt.logger.Info("server stopped gracefully")
	return nil
}

// runSweep sweeps date, or the day before now when date is empty, and
// writes the summary as JSON.
func runSweep(ctx context.Context, sweeper *app.Sweeper, now time.Time, date string, out io.Writer) error {
	var (
		summary app.SweepSummary
		err     error
	)
	if date == "" {
		summary, err = sweeper.Run(ctx, now)
	} else {
		target, parseErr := civil.ParseDate(date)
		if parseErr != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
		}
		summary, err = sweeper.SweepFor(ctx, target)
	}
	if err != nil {
		return err
	}

	for id, sweepErr := range summary.Errors {
		fmt.Fprintf(os.Stderr, "community %s failed: %v\n", id, sweepErr)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d communities failed", summary.Failed, summary.Communities)
	}
	return nil
}
