package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// Observability bundles the process-wide logger, metrics and tracer.
type Observability struct {
	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
	// Tracer is nil when tracing is disabled; spans then become no-ops.
	Tracer *observability.TracerProvider
}

// InitObservability loads the observability YAML, installs the logger as the
// default backend and returns a cleanup hook. Tracing failures degrade to no
// tracing rather than aborting startup.
func InitObservability(configPath string) (*Observability, func(), error) {
	cfg, err := observability.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load observability config: %w", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logging.SetDefault(logger)
	log := logging.NewComponentLogger("Observability")

	metrics, err := observability.NewMetricsCollector(cfg.Metrics, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}

	var tracer *observability.TracerProvider
	if cfg.Tracing.Enabled {
		tracer, err = observability.NewTracerProvider(cfg.Tracing)
		if err != nil {
			log.Warn("Tracing disabled: %v", err)
			tracer = nil
		}
	}

	obs := &Observability{Logger: logger, Metrics: metrics, Tracer: tracer}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(obs.Metrics.Shutdown(ctx), obs.Tracer.Shutdown(ctx)); err != nil {
			log.Warn("Observability shutdown error: %v", err)
		}
		_ = obs.Logger.Sync()
		logging.SetDefault(nil)
	}
	return obs, cleanup, nil
}
