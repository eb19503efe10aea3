package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-formflow/api"
	"github.com/goliatone/go-formflow/config"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/metrics"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/service"
	"github.com/goliatone/go-formflow/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

type serveCmd struct {
	Addr string `help:"Listen address; overrides server.addr."`
}

func (c *serveCmd) Run(g *Globals) error {
	settings, err := config.LoadSettings(g.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		settings.Server.Addr = c.Addr
	}
	logger := logging.New(settings.Log.Level, settings.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore.Close()

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithUnknownFieldPolicy(settings.UnknownFieldPolicy()),
		service.WithHookFailureMode(service.ParseHookFailureMode(settings.Hooks.FailureMode)),
		service.WithRetry(service.ExponentialBackoffStrategy{
			Base:   settings.Retry.BaseDelay,
			Factor: settings.Retry.Factor,
			Max:    settings.Retry.MaxDelay,
		}, settings.Retry.MaxAttempts),
	}
	var recorder *metrics.Recorder
	if settings.Metrics.Enabled {
		recorder, err = metrics.NewRecorder(metrics.Options{RuntimeCollectors: settings.Metrics.Runtime})
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, service.WithMetrics(recorder))
	}

	svc := service.New(schema.NewRegistry(), st, opts...)
	if err := svc.Hydrate(ctx); err != nil {
		// Definitions that still resolve stay usable.
		logger.Error("hydrate registry: %v", err)
	}

	if len(settings.Definitions.Paths) > 0 {
		reloader := config.NewReloader(svc, settings.Definitions.Paths, logger)
		report, err := reloader.Reload(ctx)
		if err != nil {
			return fmt.Errorf("load definitions: %w", err)
		}
		logger.Info("definitions published=%d skipped=%d", len(report.Published), len(report.Skipped))
		if settings.Definitions.ReloadSchedule != "" {
			if err := reloader.Start(ctx, settings.Definitions.ReloadSchedule); err != nil {
				return err
			}
			defer reloader.Stop()
		}
	}

	serverOpts := []api.Option{api.WithLogger(logger)}
	if recorder != nil {
		serverOpts = append(serverOpts, api.WithRequestRecorder(recorder), api.WithMetricsHandler(recorder.Handler()))
	}
	e := api.NewServer(svc, serverOpts...).Echo()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", settings.Server.Addr)
		errCh <- e.Start(settings.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, settings *config.Settings) (store.Store, io.Closer, error) {
	switch settings.Store.Driver {
	case config.DriverSQLite:
		db, err := store.OpenSQLite(settings.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store.NewSQLiteStore(db, settings.Store.TablePrefix), db, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, settings.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Ping(ctx, 5*time.Second); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if settings.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return pg, closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		return store.NewMemoryStore(), closerFunc(func() error { return nil }), nil
	}
}
