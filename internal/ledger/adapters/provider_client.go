package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/httpclient"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
)

const maxProviderResponseBytes = 1 << 20

// ProviderConfig locates the payment provider's order status API.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPPaymentVerifier asks the provider for an order's status over HTTP.
// The client trips a circuit breaker when the provider keeps failing.
type HTTPPaymentVerifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPPaymentVerifier builds a verifier with a circuit-breaking client.
func NewHTTPPaymentVerifier(cfg ProviderConfig, logger logging.Logger) (*HTTPPaymentVerifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breakerCfg := chaterrors.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(from, to chaterrors.CircuitState, name string) {
		logging.OrNop(logger).Warn("circuit %s: %s -> %s", name, from, to)
	}
	client := httpclient.NewGuarded(httpclient.Options{
		Name:    "payment-provider",
		Timeout: timeout,
		Breaker: breakerCfg,
		Logger:  logger,
	})
	return NewHTTPPaymentVerifierWithClient(client, cfg.BaseURL, cfg.APIKey), nil
}

// NewHTTPPaymentVerifierWithClient wraps an existing client.
func NewHTTPPaymentVerifierWithClient(client *http.Client, baseURL, apiKey string) *HTTPPaymentVerifier {
	return &HTTPPaymentVerifier{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type providerOrderResponse struct {
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
}

// FetchStatus calls GET {base}/orders/{orderID}[?payment_id=...].
func (v *HTTPPaymentVerifier) FetchStatus(ctx context.Context, orderID, paymentID string) (ports.PaymentStatus, error) {
	endpoint := v.baseURL + "/orders/" + url.PathEscape(orderID)
	if paymentID != "" {
		endpoint += "?" + url.Values{"payment_id": {paymentID}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.PaymentStatus{}, err
	}
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return ports.PaymentStatus{}, err
	}
	body, err := httpclient.ReadBody(resp, maxProviderResponseBytes)
	if err != nil {
		return ports.PaymentStatus{}, fmt.Errorf("provider order %s: %w", orderID, err)
	}

	var decoded providerOrderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ports.PaymentStatus{}, fmt.Errorf("decode provider response: %w", err)
	}
	return ports.PaymentStatus{
		OrderID:       decoded.OrderID,
		PaymentID:     decoded.PaymentID,
		Status:        decoded.Status,
		PaymentMethod: decoded.PaymentMethod,
		Raw:           body,
	}, nil
}

// FakePaymentVerifier answers from a fixed table. Local/test usage.
type FakePaymentVerifier struct {
	mu       sync.Mutex
	statuses map[string]ports.PaymentStatus
	err      error
	calls    int
}

// NewFakePaymentVerifier constructs an empty fake provider.
func NewFakePaymentVerifier() *FakePaymentVerifier {
	return &FakePaymentVerifier{statuses: map[string]ports.PaymentStatus{}}
}

// SetStatus records the status reported for orderID.
func (f *FakePaymentVerifier) SetStatus(orderID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[orderID] = ports.PaymentStatus{
		OrderID:   orderID,
		PaymentID: "pay_" + orderID,
		Status:    status,
		Raw:       []byte(fmt.Sprintf(`{"order_id":%q,"status":%q}`, orderID, status)),
	}
}

// FailWith makes every call fail with err; nil restores normal answers.
func (f *FakePaymentVerifier) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how many lookups were made.
func (f *FakePaymentVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FetchStatus returns the configured status, or PENDING for unknown orders.
func (f *FakePaymentVerifier) FetchStatus(_ context.Context, orderID, _ string) (ports.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ports.PaymentStatus{}, f.err
	}
	if status, ok := f.statuses[orderID]; ok {
		return status, nil
	}
	return ports.PaymentStatus{OrderID: orderID, Status: "PENDING"}, nil
}

var (
	_ ports.PaymentVerifier = (*HTTPPaymentVerifier)(nil)
	_ ports.PaymentVerifier = (*FakePaymentVerifier)(nil)
)
