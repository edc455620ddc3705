package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientIPIgnoresForwardingFromUntrustedPeers(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.10"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}

	tests := []struct {
		name      string
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{name: "spoofed header from the internet", remote: "203.0.113.9:4000", forwarded: "1.2.3.4", want: "203.0.113.9"},
		{name: "spoofed real ip from the internet", remote: "203.0.113.9:4000", realIP: "1.2.3.4", want: "203.0.113.9"},
		{name: "trusted proxy", remote: "10.1.2.3:80", forwarded: "198.51.100.7", want: "198.51.100.7"},
		{name: "client prepends a fake hop", remote: "10.1.2.3:80", forwarded: "1.2.3.4, 198.51.100.7", want: "198.51.100.7"},
		{name: "chained trusted proxies", remote: "192.0.2.10:80", forwarded: "198.51.100.7, 10.4.4.4", want: "198.51.100.7"},
		{name: "trusted proxy without header", remote: "10.1.2.3:80", want: "10.1.2.3"},
		{name: "trusted proxy with real ip", remote: "10.1.2.3:80", realIP: "198.51.100.8", want: "198.51.100.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := resolveClientIP(req, trusted); got != tt.want {
				t.Fatalf("resolveClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebhookLimiterCannotBeDodgedWithForwardedFor(t *testing.T) {
	limited := RateLimitMiddleware(RateLimitConfig{RequestsPerMinute: 1, Burst: 1}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler := ClientIPMiddleware(nil)(routeHandler("/api/payments/webhook", limited))

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", nil)
		req.RemoteAddr = "203.0.113.50:1234"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected one request through, got %v", codes)
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected invalid prefix to fail")
	}
	prefixes, err := ParseTrustedProxies([]string{"", " ::1 "})
	if err != nil || len(prefixes) != 1 {
		t.Fatalf("expected one prefix, got %v (%v)", prefixes, err)
	}
}
