package http

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chatgem/internal/observability"
)

// ObservabilityMiddleware instruments requests with a server span and
// Prometheus request metrics. Either dependency may be nil.
func ObservabilityMiddleware(metrics *observability.HTTPMetrics, tracer *observability.TracerProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil && tracer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, wrapped := wrapResponseWriter(w)
			start := time.Now()

			ctx, span := tracer.StartSpan(r.Context(), observability.SpanHTTPServer,
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			)
			// The mux annotates this request in place, so the route is
			// readable after ServeHTTP returns.
			*r = *r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			route := routeFromContext(r.Context())
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rec.status),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			span.End()

			metrics.RecordRequest(route, r.Method, rec.status, time.Since(start))
		})
	}
}
