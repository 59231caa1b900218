package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/api"
	"github.com/xkilldash9x/rpa-browser/internal/browser/cdp"
	"github.com/xkilldash9x/rpa-browser/internal/browser/engine"
	"github.com/xkilldash9x/rpa-browser/internal/browser/pool"
	"github.com/xkilldash9x/rpa-browser/internal/config"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"github.com/xkilldash9x/rpa-browser/internal/observability"
	"github.com/xkilldash9x/rpa-browser/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the browser control HTTP API and the idle session sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			profiles, closeDB, err := openProfiles(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			defer closeDB()

			ln, err := net.Listen("tcp", cfg.Server().Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server().Addr, err)
			}
			return runServe(ctx, cfg, logger, ln, cdp.NewDriver(logger), profiles)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("headless", true, "launch browsers without a window (overrides browser.headless)")
	cmd.Flags().String("exec-path", "", "fingerprint browser executable (overrides browser.exec_path)")
	cmd.Flags().String("user-data-dir", "", "root of per-token profile directories (overrides browser.user_data_dir)")
	return cmd
}

// openProfiles connects the PostgreSQL fingerprint store. Without a
// database URL profiles live in memory for the lifetime of the process.
func openProfiles(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) (schemas.ProfileRepository, func(), error) {
	if dbCfg.URL == "" {
		logger.Warn("database.url is not set; fingerprint profiles are kept in memory and lost on exit")
		return store.NewMemory(logger), func() {}, nil
	}

	dbPool, err := pgxpool.New(ctx, dbCfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := store.New(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, nil, err
	}
	if dbCfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			dbPool.Close()
			return nil, nil, err
		}
	}
	return s, dbPool.Close, nil
}

// runServe serves the API on ln until ctx is cancelled, then drains HTTP
// traffic and tears down every browser session.
func runServe(ctx context.Context, cfg config.Interface, logger *zap.Logger, ln net.Listener, driver schemas.Driver, profiles schemas.ProfileRepository) error {
	browserCfg := cfg.Browser()
	poolCfg := cfg.Pool()
	m := metrics.New(prometheus.NewRegistry())

	factory := pool.NewEngineFactory(profiles, driver, engine.Options{
		UserDataRoot:  browserCfg.UserDataDir,
		ExecPath:      browserCfg.ExecPath,
		ExtraArgs:     browserCfg.Args,
		Headless:      browserCfg.Headless,
		LaunchTimeout: browserCfg.LaunchTimeout,
	}, logger)
	sessions := pool.New(factory, pool.Config{
		IdleTimeout:   poolCfg.IdleTimeout,
		SweepInterval: poolCfg.SweepInterval,
	}, logger, pool.WithMetrics(m))

	handlers := api.NewServer(api.Deps{
		Config:   cfg,
		Pool:     sessions,
		Profiles: profiles,
		Metrics:  m,
		Logger:   logger,
	})
	srv := &http.Server{
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	shutdownTimeout := cfg.Server().ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sessions.Run(gctx) })
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()), zap.String("api", handlers.APIPrefix()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		// Live streams and websockets never go idle on their own.
		handlers.Close()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := sessions.CleanupAllSessions(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session cleanup: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
