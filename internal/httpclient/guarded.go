package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/logging"
)

// Options configures a guarded client for one upstream.
type Options struct {
	// Name labels the breaker in logs and errors.
	Name    string
	Timeout time.Duration
	Breaker chaterrors.CircuitBreakerConfig
	Logger  logging.Logger
}

// NewGuarded builds a client whose transport trips a circuit breaker after
// repeated upstream failures. While open, requests fail fast with a degraded
// error instead of reaching the network.
func NewGuarded(opts Options) *http.Client {
	if opts.Name == "" {
		opts.Name = "upstream"
	}
	if opts.Breaker.FailureThreshold == 0 && opts.Breaker.Timeout == 0 {
		onChange := opts.Breaker.OnStateChange
		opts.Breaker = chaterrors.DefaultCircuitBreakerConfig()
		opts.Breaker.OnStateChange = onChange
	}
	client := New(opts.Timeout, opts.Logger)
	client.Transport = &breakerTransport{
		next:    client.Transport,
		breaker: chaterrors.NewCircuitBreaker(opts.Name, opts.Breaker),
	}
	return client
}

type breakerTransport struct {
	next    http.RoundTripper
	breaker *chaterrors.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp      *http.Response
		tripErr   error
		attempted bool
	)
	err := t.breaker.Execute(req.Context(), func(context.Context) error {
		attempted = true
		resp, tripErr = t.next.RoundTrip(req)
		return upstreamFailure(resp, tripErr)
	})
	if !attempted {
		return nil, err
	}
	return resp, tripErr
}

// upstreamFailure returns the error the breaker should count, or nil.
// Caller cancellation and 4xx answers other than 429 say nothing about the
// upstream's health.
func upstreamFailure(resp *http.Response, err error) error {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return err
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("http status %d", resp.StatusCode)
	default:
		return nil
	}
}
