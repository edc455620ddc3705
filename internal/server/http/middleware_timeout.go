package http

import (
	"net/http"
	"time"
)

const timeoutBody = `{"error":"request timeout"}` + "\n"

// RequestTimeoutMiddleware answers 503 with a JSON body once timeout elapses
// and cancels the request context so store calls unwind.
func RequestTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		bounded := http.TimeoutHandler(next, timeout, timeoutBody)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			bounded.ServeHTTP(w, r)
		})
	}
}
