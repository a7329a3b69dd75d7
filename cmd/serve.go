package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/api"
	"github.com/sells-group/outreach-cli/internal/casematch"
	"github.com/sells-group/outreach-cli/internal/config"
)

var (
	servePort        int
	serveNoScheduler bool
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Cases.SeedPath != "" {
			if err := seedCases(ctx, env, cfg.Cases.SeedPath); err != nil {
				zap.L().Warn("case seed failed, continuing with stored cases", zap.Error(err))
			}
		}

		srv := api.New(api.Deps{
			Store:       env.Store,
			Settings:    env.Settings,
			Regenerator: env.Processor,
			Cases:       env.Matcher,
			Scheduler:   env.Scheduler,
		}, api.Options{
			APIToken:       cfg.Server.APIToken,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		})
		if cfg.Server.APIToken == "" {
			zap.L().Warn("OUTREACH_SERVER_API_TOKEN not set, API authentication disabled")
		}

		if cfg.Scheduler.Enabled && !serveNoScheduler {
			// Runs before env.Close so the store outlives the last tick.
			stopScheduler := startScheduler(ctx, env.Scheduler, cfg.Scheduler.Interval())
			defer stopScheduler()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		shutdownDone := make(chan struct{})
		go func() {
			defer close(shutdownDone)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		<-shutdownDone

		return nil
	},
}

type schedulerRunner interface {
	Run(ctx context.Context, interval time.Duration)
}

// startScheduler runs s in the background. The returned func cancels it and
// blocks until the in-flight tick has written back.
func startScheduler(ctx context.Context, s schedulerRunner, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, interval)
	}()
	return func() {
		cancel()
		<-done
		zap.L().Info("scheduler drained")
	}
}

// seedCases loads a case file into the store.
func seedCases(ctx context.Context, env *appEnv, path string) error {
	cases, err := casematch.LoadSeedFile(path)
	if err != nil {
		return err
	}
	n, err := env.Store.UpsertCases(ctx, cases)
	if err != nil {
		return eris.Wrap(err, "upsert cases")
	}
	zap.L().Info("cases seeded", zap.String("path", path), zap.Int("cases", n))
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve the API without running the background scheduler")
	rootCmd.AddCommand(serveCmd)
}
