package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/httpclient"
	"chatgem/internal/ledger/adapters"
	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/app/transactions"
	"chatgem/internal/ledger/domain"
)

type harness struct {
	store     *adapters.MemoryStore
	ledger    *ledger.Service
	txs       *transactions.Service
	coord     *Coordinator
	signer    *adapters.HMACVerifier
	provider  *adapters.FakePaymentVerifier
	publisher *adapters.MemoryEventPublisher
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harnessOption func(*Config, *ledger.Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := DefaultConfig()
	ledgerCfg := ledger.Config{}
	for _, opt := range opts {
		opt(&cfg, &ledgerCfg)
	}

	clock := &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	store := adapters.NewMemoryStore()
	ledgerSvc := ledger.NewService(store.Users(), ledgerCfg)
	ledgerSvc.WithNow(clock.Now)
	txSvc := transactions.NewService(store.Transactions())
	txSvc.WithNow(clock.Now)
	eventIDs, err := adapters.NewSnowflakeEventIDs(1)
	require.NoError(t, err)

	h := &harness{
		store:     store,
		ledger:    ledgerSvc,
		txs:       txSvc,
		signer:    adapters.NewHMACVerifier("whsec_test"),
		provider:  adapters.NewFakePaymentVerifier(),
		publisher: adapters.NewMemoryEventPublisher(),
		clock:     clock,
	}
	h.coord, err = NewCoordinator(Dependencies{
		UnitOfWork:   store,
		Ledger:       ledgerSvc,
		Transactions: txSvc,
		Events:       store.Events(),
		Signatures:   h.signer,
		Provider:     h.provider,
		OrderIDs:     adapters.KSUIDOrderIDs{},
		EventIDs:     eventIDs,
		Publisher:    h.publisher,
	}, cfg)
	require.NoError(t, err)
	h.coord.WithNow(clock.Now)
	return h
}

func withMode(mode Mode, simulate bool) harnessOption {
	return func(cfg *Config, _ *ledger.Config) {
		cfg.Mode = mode
		cfg.SimulateOnProviderFailure = simulate
	}
}

// addUser creates a user directly in the store so the balance starts where
// the test says, without the sign-up grant.
func (h *harness) addUser(t *testing.T, id string, tokens int64) {
	t.Helper()
	_, err := h.store.Users().Create(context.Background(), domain.User{ID: id, Email: id + "@example.com", Tokens: tokens})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, id string) int64 {
	t.Helper()
	user, err := h.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return user.Tokens
}

func (h *harness) status(t *testing.T, orderID string) domain.TransactionStatus {
	t.Helper()
	tx, err := h.txs.GetByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return tx.Status
}

func (h *harness) webhookBody(t *testing.T, orderID, status string) []byte {
	t.Helper()
	body, err := json.Marshal(WebhookNotification{OrderID: orderID, PaymentID: "pay_" + orderID, Status: status, PaymentMethod: "upi"})
	require.NoError(t, err)
	return body
}

func TestCreateIntentBonusRule(t *testing.T) {
	cases := []struct {
		name        string
		amountMinor int64
		base        int64
		wantBonus   int64
		wantTotal   int64
	}{
		{name: "at threshold", amountMinor: 50000, base: 5000, wantBonus: 500, wantTotal: 5500},
		{name: "below threshold", amountMinor: 10000, base: 1000, wantBonus: 0, wantTotal: 1000},
		{name: "just below threshold", amountMinor: 49999, base: 5000, wantBonus: 0, wantTotal: 5000},
		{name: "floored", amountMinor: 100000, base: 10005, wantBonus: 1000, wantTotal: 11005},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.addUser(t, "u1", 0)

			intent, err := h.coord.CreateIntent(context.Background(), "u1", tc.amountMinor, tc.base, "custom")
			require.NoError(t, err)
			assert.Equal(t, tc.wantBonus, intent.BonusTokens)
			assert.Equal(t, tc.wantTotal, intent.TotalTokens)
			assert.Contains(t, intent.OrderID, adapters.OrderIDPrefix)
			assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
		})
	}
}

func TestCreateIntentValidation(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)

	_, err := h.coord.CreateIntent(context.Background(), "ghost", 10000, 1000, "basic")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = h.coord.CreateIntent(context.Background(), "u1", 0, 1000, "basic")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.coord.CreateIntent(context.Background(), "u1", 10000, -5, "basic")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

type collidingOrderIDs struct {
	mu    sync.Mutex
	queue []string
}

func (c *collidingOrderIDs) NewOrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.queue[0]
	if len(c.queue) > 1 {
		c.queue = c.queue[1:]
	}
	return id
}

func TestCreateIntentRetriesOrderIDCollision(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	_, err := h.txs.Create(context.Background(), "u1", "order_taken", 100, 1, 0, "basic")
	require.NoError(t, err)

	h.coord.orderIDs = &collidingOrderIDs{queue: []string{"order_taken", "order_taken", "order_fresh"}}
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)
	assert.Equal(t, "order_fresh", intent.OrderID)
}

func TestCreateIntentGivesUpAfterRepeatedCollisions(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	_, err := h.txs.Create(context.Background(), "u1", "order_taken", 100, 1, 0, "basic")
	require.NoError(t, err)

	h.coord.orderIDs = &collidingOrderIDs{queue: []string{"order_taken"}}
	_, err = h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestEndToEndPurchaseCreditsOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	ctx := context.Background()

	intent, err := h.coord.CreateIntent(ctx, "u1", 10000, 1000, "basic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), intent.BonusTokens)

	result, err := h.coord.Reconcile(ctx, ReconcileRequest{OrderID: intent.OrderID, PaymentID: "pay_1", ProviderStatus: "SUCCESS"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, int64(1000), result.TotalTokensCredited)
	assert.Equal(t, int64(1000), result.NewBalance)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))

	again, err := h.coord.Reconcile(ctx, ReconcileRequest{OrderID: intent.OrderID, PaymentID: "pay_1", ProviderStatus: "SUCCESS"})
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, int64(1000), again.NewBalance)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))

	events, err := h.coord.ListEvents(ctx, intent.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.OutcomeCompleted, events[0].Outcome)
	assert.Equal(t, domain.OutcomeAlreadyCompleted, events[1].Outcome)
	assert.Equal(t, intent.TransactionID, events[0].TransactionID)

	published := h.publisher.Events()
	require.Len(t, published, 2)
	assert.Equal(t, domain.EventTokensCredited, published[0].Type)
	assert.Equal(t, int64(1000), published[0].BalanceAfter)
}

func TestCompletedIgnoresLaterFailureReport(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	_, err = h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: "CAPTURED"})
	require.NoError(t, err)

	result, err := h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: "FAILED"})
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, domain.StatusCompleted, h.status(t, intent.OrderID))
	assert.Equal(t, int64(1000), h.balance(t, "u1"))
}

func TestConcurrentReconcilesCreditExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 50000, 5000, "popular")
	require.NoError(t, err)

	const callers = 12
	results := make([]ReconcileResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: "SUCCESS"})
		}(i)
	}
	close(start)
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success)
		if !results[i].AlreadyProcessed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(5500), h.balance(t, "u1"))
}

func TestWebhookWithBadSignatureHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	body := h.webhookBody(t, intent.OrderID, "SUCCESS")
	_, err = h.coord.HandleWebhook(context.Background(), body, "deadbeef")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
	assert.Equal(t, int64(0), h.balance(t, "u1"))
	assert.Empty(t, h.publisher.Events())

	events, err := h.coord.ListEvents(context.Background(), intent.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeRejectedSignature, events[0].Outcome)
	assert.Empty(t, events[0].TransactionID)
	assert.False(t, events[0].SignatureValid)
}

func TestWebhookWithValidSignatureSettles(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	body := h.webhookBody(t, intent.OrderID, "PAID")
	result, err := h.coord.HandleWebhook(context.Background(), body, "sha256="+h.signer.Sign(body))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))

	tx, err := h.txs.GetByOrderID(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pay_"+intent.OrderID, tx.PaymentID)
	assert.Equal(t, "upi", tx.PaymentMethod)
	assert.JSONEq(t, string(body), string(tx.GatewayResponse))

	events, err := h.coord.ListEvents(context.Background(), intent.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].SignatureValid)
	assert.Equal(t, domain.SourceWebhook, events[0].Source)
}

func TestWebhookMalformedBody(t *testing.T) {
	h := newHarness(t)
	body := []byte("{not json")

	_, err := h.coord.HandleWebhook(context.Background(), body, h.signer.Sign(body))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = h.coord.HandleWebhook(context.Background(), body, "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	missing := []byte(`{"status":"SUCCESS"}`)
	_, err = h.coord.HandleWebhook(context.Background(), missing, h.signer.Sign(missing))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestReconcileUnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: "order_missing", ProviderStatus: "SUCCESS"})
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	events, err := h.coord.ListEvents(context.Background(), "order_missing")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeNotFound, events[0].Outcome)
}

func TestReconcileFailureAndAbandonment(t *testing.T) {
	cases := []struct {
		status string
		want   domain.TransactionStatus
	}{
		{status: "FAILED", want: domain.StatusFailed},
		{status: "declined", want: domain.StatusFailed},
		{status: "USER_DROPPED", want: domain.StatusCancelled},
		{status: "cancelled", want: domain.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			h := newHarness(t)
			h.addUser(t, "u1", 0)
			intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
			require.NoError(t, err)

			result, err := h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: tc.status})
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tc.want, result.Status)
			assert.Equal(t, tc.want, h.status(t, intent.OrderID))

			_, err = h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: "SUCCESS"})
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			assert.Equal(t, int64(0), h.balance(t, "u1"))
		})
	}
}

func TestRedeliveredTerminalReportIsDuplicate(t *testing.T) {
	for _, status := range []string{"FAILED", "USER_DROPPED"} {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			h.addUser(t, "u1", 0)
			intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
			require.NoError(t, err)

			body := h.webhookBody(t, intent.OrderID, status)
			first, err := h.coord.HandleWebhook(context.Background(), body, "sha256="+h.signer.Sign(body))
			require.NoError(t, err)
			assert.False(t, first.AlreadyProcessed)

			again, err := h.coord.HandleWebhook(context.Background(), body, "sha256="+h.signer.Sign(body))
			require.NoError(t, err)
			assert.True(t, again.AlreadyProcessed)
			assert.False(t, again.Success)
			assert.Equal(t, first.Status, again.Status)

			events, err := h.coord.ListEvents(context.Background(), intent.OrderID)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, domain.OutcomeDuplicate, events[1].Outcome)
			assert.Equal(t, int64(0), h.balance(t, "u1"))
		})
	}
}

func TestReconcileProviderStillPending(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	for _, status := range []string{"PENDING", "something-new", ""} {
		result, err := h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: status})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, domain.StatusPending, result.Status)
	}
	assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
}

func TestCreditFailureRollsBackCompletion(t *testing.T) {
	h := newHarness(t, func(_ *Config, l *ledger.Config) { l.MaxBalance = 500 })
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	_, err = h.coord.Reconcile(context.Background(), ReconcileRequest{OrderID: intent.OrderID, ProviderStatus: "SUCCESS"})
	require.ErrorIs(t, err, domain.ErrBalanceLimit)

	assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
	assert.Equal(t, int64(0), h.balance(t, "u1"))
	assert.Empty(t, h.publisher.Events())
}

func TestVerifyAsksProvider(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	h.provider.SetStatus(intent.OrderID, "SUCCESS")
	result, err := h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Simulated)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))

	result, err = h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, 1, h.provider.Calls(), "settled orders are answered from storage")
}

func TestVerifyChecksOwnership(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	h.addUser(t, "u2", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	_, err = h.coord.Verify(context.Background(), "u2", intent.OrderID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 0, h.provider.Calls())
}

func TestVerifyProviderDownInProduction(t *testing.T) {
	h := newHarness(t, withMode(ModeProduction, true))
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	h.provider.FailWith(errors.New("dial tcp: connection refused"))
	_, err = h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, chaterrors.IsTransient(err))
	assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
	assert.Equal(t, int64(0), h.balance(t, "u1"))
}

func TestVerifySimulatesInDevelopment(t *testing.T) {
	h := newHarness(t, withMode(ModeDevelopment, true))
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	h.provider.FailWith(errors.New("dial tcp: connection refused"))
	result, err := h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Simulated)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))

	events, err := h.coord.ListEvents(context.Background(), intent.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SourceSimulated, events[0].Source)
}

func TestVerifyWithoutSimulationFlagInDevelopment(t *testing.T) {
	h := newHarness(t, withMode(ModeDevelopment, false))
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	h.provider.FailWith(errors.New("read tcp 10.0.0.1:443: i/o timeout"))
	_, err = h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestVerifyDefinitiveProviderAnswerNeverSimulates(t *testing.T) {
	cases := map[string]error{
		"order not found": fmt.Errorf("provider order x: %w", &httpclient.StatusError{StatusCode: http.StatusNotFound, Body: `{"message":"order not found"}`}),
		"unauthorized":    fmt.Errorf("provider order x: %w", &httpclient.StatusError{StatusCode: http.StatusUnauthorized}),
		"undecodable":     errors.New("decode provider response: invalid character '<' looking for beginning of value"),
	}
	for name, providerErr := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, withMode(ModeDevelopment, true))
			h.addUser(t, "u1", 0)
			intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
			require.NoError(t, err)

			h.provider.FailWith(providerErr)
			result, err := h.coord.Verify(context.Background(), "u1", intent.OrderID, "pay_forged")
			require.ErrorIs(t, err, domain.ErrPaymentUnverified)
			assert.False(t, chaterrors.IsTransient(err))
			assert.False(t, result.Success)
			assert.False(t, result.Simulated)
			assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
			assert.Equal(t, int64(0), h.balance(t, "u1"))
		})
	}
}

func TestVerifySimulatesOnUpstreamOutage(t *testing.T) {
	cases := map[string]error{
		"bad gateway":  fmt.Errorf("provider order x: %w", &httpclient.StatusError{StatusCode: http.StatusBadGateway}),
		"throttled":    &httpclient.StatusError{StatusCode: http.StatusTooManyRequests},
		"breaker open": chaterrors.NewDegradedError(errors.New("circuit breaker open for payment-provider"), "retry later", ""),
		"transport":    &url.Error{Op: "Get", URL: "https://provider.invalid", Err: errors.New("lookup provider.invalid: no such host")},
	}
	for name, providerErr := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, withMode(ModeTest, true))
			h.addUser(t, "u1", 0)
			intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
			require.NoError(t, err)

			h.provider.FailWith(providerErr)
			result, err := h.coord.Verify(context.Background(), "u1", intent.OrderID, "")
			require.NoError(t, err)
			assert.True(t, result.Simulated)
			assert.Equal(t, int64(1000), h.balance(t, "u1"))
		})
	}
}

func TestVerifyCancelledCallerDoesNotSimulate(t *testing.T) {
	h := newHarness(t, withMode(ModeDevelopment, true))
	h.addUser(t, "u1", 0)
	intent, err := h.coord.CreateIntent(context.Background(), "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.provider.FailWith(context.Canceled)
	cancel()
	_, err = h.coord.Verify(ctx, "u1", intent.OrderID, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusPending, h.status(t, intent.OrderID))
	assert.Equal(t, int64(0), h.balance(t, "u1"))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeDevelopment, ParseMode("dev"))
	assert.Equal(t, ModeDevelopment, ParseMode(" Development "))
	assert.Equal(t, ModeTest, ParseMode("test"))
	assert.Equal(t, ModeProduction, ParseMode("prod"))
	assert.Equal(t, ModeProduction, ParseMode(""))
}

func TestExpirePendingCancelsStaleIntents(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", 0)
	ctx := context.Background()

	stale, err := h.coord.CreateIntent(ctx, "u1", 10000, 1000, "basic")
	require.NoError(t, err)
	settled, err := h.coord.CreateIntent(ctx, "u1", 10000, 1000, "basic")
	require.NoError(t, err)
	_, err = h.coord.Reconcile(ctx, ReconcileRequest{OrderID: settled.OrderID, ProviderStatus: "SUCCESS"})
	require.NoError(t, err)

	h.clock.Advance(h.coord.PendingTTL() + time.Minute)
	fresh, err := h.coord.CreateIntent(ctx, "u1", 10000, 1000, "basic")
	require.NoError(t, err)

	report, err := h.coord.ExpirePending(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Cancelled)

	assert.Equal(t, domain.StatusCancelled, h.status(t, stale.OrderID))
	assert.Equal(t, domain.StatusCompleted, h.status(t, settled.OrderID))
	assert.Equal(t, domain.StatusPending, h.status(t, fresh.OrderID))

	events, err := h.coord.ListEvents(ctx, stale.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SourceSweep, events[0].Source)

	_, err = h.coord.Reconcile(ctx, ReconcileRequest{OrderID: stale.OrderID, ProviderStatus: "SUCCESS"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(1000), h.balance(t, "u1"))
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(Dependencies{}, DefaultConfig())
	require.Error(t, err)
}
