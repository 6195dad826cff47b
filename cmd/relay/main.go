// Command relay launches the fleetrelay real-time fan-out service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/campusgo/fleetrelay/internal/config"
	"github.com/campusgo/fleetrelay/internal/directory"
	"github.com/campusgo/fleetrelay/internal/eta"
	"github.com/campusgo/fleetrelay/internal/locations"
	"github.com/campusgo/fleetrelay/internal/notify"
	"github.com/campusgo/fleetrelay/internal/observability"
	"github.com/campusgo/fleetrelay/internal/persistence/migrations"
	"github.com/campusgo/fleetrelay/internal/persistence/postgres"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/router"
	opsserver "github.com/campusgo/fleetrelay/internal/server/ops"
	wsserver "github.com/campusgo/fleetrelay/internal/server/ws"
	"github.com/campusgo/fleetrelay/internal/telemetry"
)

const (
	relayLoggerPrefix        = "relay "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 10 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML configuration file (defaults apply when empty)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, relayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	appCfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, appCfg.Environment == config.EnvDev))
	logger.Printf("configuration initialised: env=%s, ws=%s%s, ops=%s",
		appCfg.Environment, appCfg.Server.Addr, appCfg.Server.Path, appCfg.Ops.Addr)

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.FromApp(appCfg))
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	notifyStore, pgPool, err := buildNotificationStore(ctx, appCfg, logger)
	if err != nil {
		logger.Fatalf("initialise notification store: %v", err)
	}

	dir := directory.NewRESTClient(appCfg.DataService.BaseURL,
		directory.WithMaxAttempts(appCfg.DataService.MaxAttempts))

	reg := registry.NewChannelRegistry()
	locationStore := locations.NewStore()

	writeTimeout, err := appCfg.WriteTimeout()
	if err != nil {
		logger.Fatalf("invalid fanout config: %v", err)
	}
	rt := router.New(reg, locationStore, notifyStore, dir, router.Config{
		WriteTimeout:      writeTimeout,
		FanoutWorkers:     appCfg.Fanout.Workers,
		DriverSampleRate:  appCfg.Throttle.SamplesPerSecond,
		DriverSampleBurst: appCfg.Throttle.Burst,
	})

	var estimator *eta.Estimator
	if appCfg.ETA.BaseURL != "" {
		estimator = eta.NewEstimator(appCfg.ETA.BaseURL, nil)
	}

	wsMux := http.NewServeMux()
	wsMux.Handle(appCfg.Server.Path, wsserver.NewServer(reg, rt))
	wsServer := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           wsMux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	opsServer := &http.Server{
		Addr:              appCfg.Ops.Addr,
		Handler:           opsserver.NewHandler(reg, locationStore, estimator),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	startServer(&lifecycle, logger, "websocket", wsServer)
	startServer(&lifecycle, logger, "ops", opsServer)

	logger.Print("relay started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		wsServer:   wsServer,
		opsServer:  opsServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		pgPool:     pgPool,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

// buildNotificationStore prefers the direct Postgres store when a DSN is
// configured, otherwise persists through the data service REST API.
func buildNotificationStore(ctx context.Context, cfg config.AppConfig, logger *log.Logger) (notify.Store, *pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		logger.Print("notification store: data service REST API")
		return notify.NewRESTStore(cfg.DataService.BaseURL), nil, nil
	}

	if err := migrations.Apply(ctx, cfg.Postgres.DSN, logger); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	logger.Print("notification store: postgres")
	return postgres.NewNotificationStore(pool), pool, nil
}

func startServer(lifecycle *conc.WaitGroup, logger *log.Logger, name string, server *http.Server) {
	lifecycle.Go(func() {
		logger.Printf("%s server listening on %s", name, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("%s server: %v", name, err)
		}
	})
}

type gracefulShutdownConfig struct {
	wsServer   *http.Server
	opsServer  *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	pgPool     *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.wsServer != nil {
		shutdownStep("stopping websocket server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.wsServer.Shutdown(stepCtx)
		})
	}
	if cfg.opsServer != nil {
		shutdownStep("stopping ops server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.opsServer.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pgPool != nil {
		logger.Print("shutdown: closing postgres pool")
		cfg.pgPool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
