package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateOrderID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "valid ksuid order", id: "order_2ZyQd4fGk1mX0bN7pR3sT5uVwYz", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "whitespace", id: "   ", wantErr: true},
		{name: "missing prefix", id: "2ZyQd4fGk1mX0bN7pR3sT5uVwYz", wantErr: true},
		{name: "too long", id: "order_" + strings.Repeat("a", maxOrderIDLength), wantErr: true},
		{name: "path traversal", id: "order_../../etc", wantErr: true},
		{name: "invalid chars", id: "order_abc$", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOrderID(tt.id)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.id)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.id, err)
			}
		})
	}
}

func TestValidatePaymentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "provider style", id: "pay_29QQoUBi66xm2f", wantErr: false},
		{name: "dotted", id: "cf.payment-01:retry", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "too long", id: strings.Repeat("p", maxPaymentIDLength+1), wantErr: true},
		{name: "spaces", id: "pay 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePaymentID(tt.id)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.id)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.id, err)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Plan string `json:"plan"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"plan":"basic"}`},
		{name: "empty body", body: ``, wantErr: "required"},
		{name: "unknown field", body: `{"plan":"basic","tokens":999}`, wantErr: "unknown field"},
		{name: "trailing object", body: `{"plan":"basic"}{"plan":"premium"}`, wantErr: "single JSON object"},
		{name: "too large", body: `{"plan":"` + strings.Repeat("x", maxJSONBodyBytes) + `"}`, wantErr: "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/payments/intents", strings.NewReader(tt.body))
			var dst payload
			err := decodeJSON(httptest.NewRecorder(), req, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.Plan != "basic" {
					t.Fatalf("expected plan basic, got %q", dst.Plan)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReadRawBodyKeepsBytes(t *testing.T) {
	raw := `{"order_id":"order_1",  "status":"SUCCESS"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(raw))
	got, err := readRawBody(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != raw {
		t.Fatalf("expected body preserved byte for byte, got %q", got)
	}
}
