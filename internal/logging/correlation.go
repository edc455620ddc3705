package logging

import (
	"context"

	"github.com/segmentio/ksuid"
)

type correlationKey struct{}

// NewCorrelationID returns a sortable, collision-resistant request id.
func NewCorrelationID() string {
	return ksuid.New().String()
}

// WithCorrelationID stores id in ctx. An empty id leaves ctx untouched.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the id stored by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithCorrelation returns a logger that tags log lines with a correlation id.
func WithCorrelation(logger Logger, id string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if id == "" {
		return logger
	}
	if inner, ok := logger.(*correlationLogger); ok {
		return &correlationLogger{logger: inner.logger, id: id}
	}
	return &correlationLogger{logger: logger, id: id}
}

// FromContext returns a logger tagged with the correlation id found in ctx, if any.
func FromContext(ctx context.Context, logger Logger) Logger {
	return WithCorrelation(logger, CorrelationIDFromContext(ctx))
}

type correlationLogger struct {
	logger Logger
	id     string
}

func (l *correlationLogger) Debug(format string, args ...any) {
	l.logger.Debug(prefixCorrelation(l.id, format), args...)
}

func (l *correlationLogger) Info(format string, args ...any) {
	l.logger.Info(prefixCorrelation(l.id, format), args...)
}

func (l *correlationLogger) Warn(format string, args ...any) {
	l.logger.Warn(prefixCorrelation(l.id, format), args...)
}

func (l *correlationLogger) Error(format string, args ...any) {
	l.logger.Error(prefixCorrelation(l.id, format), args...)
}

func prefixCorrelation(id, format string) string {
	if id == "" {
		return format
	}
	return "cid=" + id + " " + format
}
