package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/logging"
)

func TestGuardedClientOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewGuarded(Options{
		Name:    "provider",
		Timeout: time.Second,
		Logger:  logging.Nop(),
		Breaker: chaterrors.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		_ = resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatal("expected open circuit to reject the request")
	}
	if !chaterrors.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", got)
	}
}

func TestGuardedClientDefaultsKeepStateCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opened := make(chan chaterrors.CircuitState, 1)
	client := NewGuarded(Options{
		Timeout: time.Second,
		Breaker: chaterrors.CircuitBreakerConfig{
			OnStateChange: func(_, to chaterrors.CircuitState, _ string) { opened <- to },
		},
	})

	threshold := chaterrors.DefaultCircuitBreakerConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		_ = resp.Body.Close()
	}

	select {
	case to := <-opened:
		if to != chaterrors.StateOpen {
			t.Fatalf("expected open transition, got %s", to)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the callback to survive default breaker settings")
	}
}

func TestGuardedClientIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewGuarded(Options{
		Timeout: time.Second,
		Breaker: chaterrors.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour},
	})

	for i := 0; i < 3; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		_ = resp.Body.Close()
	}
}

func TestUpstreamFailure(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
		counts bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, counts: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, counts: true},
		{name: "dial error", err: errors.New("connection refused"), counts: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp *http.Response
			if tc.err == nil {
				resp = &http.Response{StatusCode: tc.status}
			}
			if got := upstreamFailure(resp, tc.err) != nil; got != tc.counts {
				t.Fatalf("upstreamFailure counts=%v, want %v", got, tc.counts)
			}
		})
	}
}

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestReadBodyWithinLimit(t *testing.T) {
	got, err := ReadBody(response(http.StatusOK, `{"status":"PAID"}`), 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte(`{"status":"PAID"}`)) {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestReadBodyTooLarge(t *testing.T) {
	_, err := ReadBody(response(http.StatusOK, strings.Repeat("x", 10)), 4)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
}

func TestReadBodyStatusErrorKeepsExcerpt(t *testing.T) {
	_, err := ReadBody(response(http.StatusBadRequest, strings.Repeat("e", 1000)), 4096)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest || len(statusErr.Body) != statusExcerptBytes {
		t.Fatalf("unexpected status error %d with %d body bytes", statusErr.StatusCode, len(statusErr.Body))
	}
}

func TestStatusErrorClassification(t *testing.T) {
	if !chaterrors.IsTransient(&StatusError{StatusCode: http.StatusServiceUnavailable}) {
		t.Fatal("expected 503 to be transient")
	}
	if chaterrors.IsTransient(&StatusError{StatusCode: http.StatusBadRequest, Body: "bad order"}) {
		t.Fatal("expected 400 to be permanent")
	}
}
