package http

import (
	"net/http"
	"strings"
	"time"

	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

const maxCorrelationIDLength = 64

// CORSMiddleware handles CORS headers. Outside production any origin is echoed.
func CORSMiddleware(environment string, allowedOrigins []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedSet[origin] = struct{}{}
		}
	}

	env := strings.ToLower(strings.TrimSpace(environment))
	isDev := env != "" && env != "production" && env != "prod"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := allowedSet[origin]

			if origin != "" && (allowed || isDev) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CorrelationHeader+", "+WebhookSignatureHeader)
				w.Header().Set("Access-Control-Expose-Headers", CorrelationHeader)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CorrelationMiddleware tags the request context with a correlation id,
// reusing a well-formed inbound header and echoing it on the response.
func CorrelationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
			if id == "" || len(id) > maxCorrelationIDLength || !correlationIDPattern.MatchString(id) {
				id = logging.NewCorrelationID()
			}
			w.Header().Set(CorrelationHeader, id)
			next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
		})
	}
}

// LoggingMiddleware logs each request once it has been served.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec, wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			logging.FromContext(r.Context(), logger).Info(
				"%s %s status=%d bytes=%d latency_ms=%.2f from %s",
				r.Method, r.URL.Path, rec.status, rec.bytes,
				float64(time.Since(start).Microseconds())/1000.0,
				clientIP(r),
			)
		})
	}
}

// AuthMiddleware requires a bearer token and stores the caller identity in
// the request context.
func AuthMiddleware(verifier ports.IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeJSONError(w, r, http.StatusServiceUnavailable, "authentication not configured", nil)
				return
			}
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeJSONError(w, r, http.StatusUnauthorized, "authorization required", nil)
				return
			}
			identity, err := verifier.Authenticate(r.Context(), token)
			if err != nil {
				writeJSONError(w, r, http.StatusUnauthorized, "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
