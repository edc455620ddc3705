package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgem/internal/async"
	"chatgem/internal/ledger/adapters"
	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/logging"
	serverHTTP "chatgem/internal/server/http"
)

// RunServer starts the HTTP API server and blocks until ctx is cancelled or
// a shutdown signal is received.
func RunServer(ctx context.Context, configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obs, cleanupObs, err := InitObservability(config.ObservabilityConfig)
	if err != nil {
		return err
	}
	defer cleanupObs()

	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting chatgem server...")
	LogServerConfiguration(logger, configPath, config)

	container, err := BuildContainer(ctx, config, obs)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("Failed to close container: %v", err)
		}
	}()

	var metricsHandler http.Handler
	if obs.Metrics.HTTP() != nil {
		metricsHandler = obs.Metrics.Handler()
	}

	trustedProxies, err := serverHTTP.ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		return err
	}

	router := serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Ledger:         container.Ledger,
		Transactions:   container.Transactions,
		Settlement:     container.Settlement,
		Gate:           container.Gate,
		Plans:          container.Plans,
		Identity:       container.Identity,
		HealthCheck:    container.HealthCheck(),
		MetricsHandler: metricsHandler,
		HTTPMetrics:    obs.Metrics.HTTP(),
		Tracer:         obs.Tracer,
	}, serverHTTP.RouterConfig{
		Environment:    config.Environment,
		AllowedOrigins: config.AllowedOrigins,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: config.RateLimit.RequestsPerMinute,
			Burst:             config.RateLimit.Burst,
		},
		WebhookRateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: config.RateLimit.WebhookRequestsPerMinute,
			Burst:             config.RateLimit.WebhookBurst,
		},
		RequestTimeout: config.RequestTimeout,
		TrustedProxies: trustedProxies,
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := startSweeper(sweepCtx, container.Settlement, config.Settlement.SweepInterval)
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	server := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: config.RequestTimeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	logger.Info("Server listening on :%s", config.Port)
	return serveUntilSignal(ctx, server, logger)
}

// startSweeper cancels stale pending transactions every interval. A
// non-positive interval disables the loop.
func startSweeper(ctx context.Context, coord *settlement.Coordinator, interval time.Duration) <-chan struct{} {
	logger := logging.NewComponentLogger("Sweeper")
	if interval <= 0 {
		logger.Info("Pending sweep disabled")
	}
	return async.Every(ctx, logger, "settlement.sweep", interval, func(ctx context.Context) {
		report, err := coord.ExpirePending(ctx, time.Now())
		if err != nil {
			logger.Error("Pending sweep failed: %v", err)
			return
		}
		if report.Cancelled > 0 || report.Skipped > 0 {
			logger.Info("Pending sweep: scanned=%d cancelled=%d skipped=%d", report.Scanned, report.Cancelled, report.Skipped)
		}
	})
}

// RunSweepOnce runs a single pending sweep against the configured store.
func RunSweepOnce(ctx context.Context, configPath string) (settlement.SweepReport, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return settlement.SweepReport{}, fmt.Errorf("load config: %w", err)
	}
	obs, cleanupObs, err := InitObservability(config.ObservabilityConfig)
	if err != nil {
		return settlement.SweepReport{}, err
	}
	defer cleanupObs()

	container, err := BuildContainer(ctx, config, obs)
	if err != nil {
		return settlement.SweepReport{}, fmt.Errorf("build container: %w", err)
	}
	defer func() { _ = container.Close() }()

	return container.Settlement.ExpirePending(ctx, time.Now())
}

// RunMigrate applies the embedded schema migrations to the configured
// Postgres database.
func RunMigrate(ctx context.Context, configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if config.Store.Driver != StorePostgres {
		return fmt.Errorf("migrate requires the %s store, configured %q", StorePostgres, config.Store.Driver)
	}
	db, err := adapters.OpenPostgres(ctx, config.Store.Postgres)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return adapters.RunMigrations(ctx, db)
}

func serveUntilSignal(ctx context.Context, server *http.Server, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	serveErr := <-errCh
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("Server stopped")
	return nil
}
