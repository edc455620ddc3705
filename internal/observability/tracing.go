package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "chatgem"

// TracingConfig selects the span exporter and sampling.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp or zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

func (c TracingConfig) withDefaults() TracingConfig {
	if c.ServiceName == "" {
		c.ServiceName = instrumentationName
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4318"
	}
	if c.ZipkinEndpoint == "" {
		c.ZipkinEndpoint = "http://localhost:9411/api/v2/spans"
	}
	return c
}

// TracerProvider owns the SDK provider, if any, and the tracer spans start from.
// The zero value and a nil pointer both hand out non-recording spans.
type TracerProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// NewTracerProvider builds an exporting provider and installs it globally.
// A disabled config returns a no-op provider.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return NewNoopTracerProvider(), nil
	}
	config = config.withDefaults()
	ctx := context.Background()

	exporter, err := newSpanExporter(ctx, config)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	return NewTracerProviderFromSDK(sdk), nil
}

func newSpanExporter(ctx context.Context, config TracingConfig) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch kind := strings.ToLower(strings.TrimSpace(config.Exporter)); kind {
	case "", "otlp":
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		exporter, err = zipkin.New(config.ZipkinEndpoint)
	default:
		return nil, fmt.Errorf("unsupported span exporter %q", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("%s span exporter: %w", config.Exporter, err)
	}
	return exporter, nil
}

// NewTracerProviderFromSDK wraps an already configured SDK provider.
func NewTracerProviderFromSDK(sdk *sdktrace.TracerProvider) *TracerProvider {
	return &TracerProvider{sdk: sdk, tracer: sdk.Tracer(instrumentationName)}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// StartSpan starts a span named name carrying attrs.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := trace.Tracer(nil)
	if tp != nil {
		tracer = tp.tracer
	}
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName).Start(ctx, name)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if set, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(ErrorAttrs(err)...)
	}
	span.End()
}

const (
	SpanCreateIntent = "chatgem.settlement.create_intent"
	SpanReconcile    = "chatgem.settlement.reconcile"
	SpanVerify       = "chatgem.settlement.verify"
	SpanWebhook      = "chatgem.settlement.webhook"
	SpanSweep        = "chatgem.settlement.sweep"
	SpanAuthorize    = "chatgem.gate.authorize"
	SpanHTTPServer   = "chatgem.http.request"
)

const (
	AttrUserID  = "chatgem.user_id"
	AttrOrderID = "chatgem.order_id"
	AttrError   = "chatgem.error"
)

func OrderAttrs(orderID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrOrderID, orderID)}
}

func UserAttrs(userID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrUserID, userID)}
}

func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
