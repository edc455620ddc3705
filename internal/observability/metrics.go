package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for chatgem
type MetricsCollector struct {
	meter metric.Meter

	// Ledger metrics
	debits      metric.Int64Counter
	credits     metric.Int64Counter
	dailyResets metric.Int64Counter

	// Settlement metrics
	intents          metric.Int64Counter
	reconciles       metric.Int64Counter
	reconcileLatency metric.Float64Histogram
	sweepCancelled   metric.Int64Counter

	http *HTTPMetrics

	registry         *promclient.Registry
	provider         *sdkmetric.MeterProvider
	prometheusServer *http.Server
	logger           *Logger
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a collector exported through a dedicated
// Prometheus registry. A zero PrometheusPort leaves serving to the caller
// via Handler.
func NewMetricsCollector(config MetricsConfig, logger *Logger) (*MetricsCollector, error) {
	if logger == nil {
		logger = NewNopLogger()
	}
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	collector, err := newCollector(exporter)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(collector.provider)

	collector.registry = registry
	collector.logger = logger
	collector.http = NewHTTPMetrics(registry)

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// NewMetricsCollectorWithReader builds a collector on an arbitrary SDK
// reader. Tests pass a manual reader.
func NewMetricsCollectorWithReader(reader sdkmetric.Reader) (*MetricsCollector, error) {
	collector, err := newCollector(reader)
	if err != nil {
		return nil, err
	}
	collector.logger = NewNopLogger()
	return collector, nil
}

func newCollector(reader sdkmetric.Reader) (*MetricsCollector, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("chatgem")

	debits, err := meter.Int64Counter(
		"chatgem.ledger.debits.total",
		metric.WithDescription("Debit attempts by result"),
		metric.WithUnit("{debit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create debits counter: %w", err)
	}

	credits, err := meter.Int64Counter(
		"chatgem.ledger.credited.tokens",
		metric.WithDescription("Tokens credited to user balances"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credits counter: %w", err)
	}

	dailyResets, err := meter.Int64Counter(
		"chatgem.ledger.daily_resets.total",
		metric.WithDescription("Daily free allowance requests by result"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create daily_resets counter: %w", err)
	}

	intents, err := meter.Int64Counter(
		"chatgem.settlement.intents.total",
		metric.WithDescription("Purchase intents created"),
		metric.WithUnit("{intent}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create intents counter: %w", err)
	}

	reconciles, err := meter.Int64Counter(
		"chatgem.settlement.reconciles.total",
		metric.WithDescription("Reconcile calls by source and outcome"),
		metric.WithUnit("{reconcile}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciles counter: %w", err)
	}

	reconcileLatency, err := meter.Float64Histogram(
		"chatgem.settlement.reconcile.latency",
		metric.WithDescription("Reconcile latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile_latency histogram: %w", err)
	}

	sweepCancelled, err := meter.Int64Counter(
		"chatgem.settlement.sweep.cancelled",
		metric.WithDescription("Pending transactions cancelled by the sweeper"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep_cancelled counter: %w", err)
	}

	return &MetricsCollector{
		meter:            meter,
		debits:           debits,
		credits:          credits,
		dailyResets:      dailyResets,
		intents:          intents,
		reconciles:       reconciles,
		reconcileLatency: reconcileLatency,
		sweepCancelled:   sweepCancelled,
		provider:         provider,
	}, nil
}

// Handler serves the collector's Prometheus registry.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTP returns the request metrics bound to the collector's registry.
func (m *MetricsCollector) HTTP() *HTTPMetrics {
	if m == nil {
		return nil
	}
	return m.http
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("prometheus metrics server listening", "port", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("prometheus server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.prometheusServer != nil {
		if err := m.prometheusServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// RecordDebit records a debit attempt. result is granted, insufficient or error.
func (m *MetricsCollector) RecordDebit(ctx context.Context, result string) {
	if m == nil || m.debits == nil {
		return
	}
	m.debits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCredit records tokens added to a balance.
func (m *MetricsCollector) RecordCredit(ctx context.Context, source string, tokens int64) {
	if m == nil || m.credits == nil || tokens <= 0 {
		return
	}
	m.credits.Add(ctx, tokens, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDailyReset records a daily free allowance request.
func (m *MetricsCollector) RecordDailyReset(ctx context.Context, applied bool) {
	if m == nil || m.dailyResets == nil {
		return
	}
	m.dailyResets.Add(ctx, 1, metric.WithAttributes(attribute.Bool("applied", applied)))
}

// RecordIntent records a created purchase intent.
func (m *MetricsCollector) RecordIntent(ctx context.Context, plan string, bonus bool) {
	if m == nil || m.intents == nil {
		return
	}
	m.intents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", plan),
		attribute.Bool("bonus", bonus),
	))
}

// RecordReconcile records a reconcile call and its latency.
func (m *MetricsCollector) RecordReconcile(ctx context.Context, source, outcome string, latency time.Duration) {
	if m == nil || m.reconciles == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	}
	m.reconciles.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.reconcileLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// RecordSweep records transactions cancelled by one sweep pass.
func (m *MetricsCollector) RecordSweep(ctx context.Context, cancelled int) {
	if m == nil || m.sweepCancelled == nil || cancelled <= 0 {
		return
	}
	m.sweepCancelled.Add(ctx, int64(cancelled))
}
