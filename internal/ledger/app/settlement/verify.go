package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// Verify is the client-triggered path: it asks the provider for the order's
// current status and reconciles the answer. Concurrent calls for one order
// share a single provider round trip.
func (c *Coordinator) Verify(ctx context.Context, userID, orderID, paymentID string) (result ReconcileResult, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanVerify, observability.OrderAttrs(orderID)...)
	defer func() { observability.EndSpan(span, err) }()

	orderID = strings.TrimSpace(orderID)
	tx, err := c.transactions.GetByOrderID(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if tx.UserID != userID {
		logging.FromContext(ctx, c.logger).Warn("user %s tried to verify order %s owned by %s", userID, orderID, tx.UserID)
		return ReconcileResult{}, domain.ErrForbidden
	}
	if tx.Status != domain.StatusPending {
		// Settled already; Reconcile answers from the stored state.
		return c.Reconcile(ctx, ReconcileRequest{OrderID: orderID, PaymentID: paymentID, Source: domain.SourceVerify})
	}

	status, err := c.fetchStatus(ctx, orderID, paymentID)
	if err != nil {
		return c.verifyFailed(ctx, orderID, paymentID, err)
	}

	if status.OrderID != "" && status.OrderID != orderID {
		return ReconcileResult{}, fmt.Errorf("%w: provider answered for order %s", domain.ErrInvalidPayload, status.OrderID)
	}
	if status.PaymentID == "" {
		status.PaymentID = paymentID
	}
	return c.Reconcile(ctx, ReconcileRequest{
		OrderID:        orderID,
		PaymentID:      status.PaymentID,
		ProviderStatus: status.Status,
		PaymentMethod:  status.PaymentMethod,
		RawPayload:     status.Raw,
		Source:         domain.SourceVerify,
	})
}

// verifyFailed decides what a failed provider lookup means. Only an
// unreachable provider may fall back to a simulated success; a definitive
// answer leaves the order pending and is reported to the caller.
func (c *Coordinator) verifyFailed(ctx context.Context, orderID, paymentID string, err error) (ReconcileResult, error) {
	logger := logging.FromContext(ctx, c.logger)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ReconcileResult{}, ctxErr
	}
	if !providerUnreachable(err) {
		logger.Warn("provider refused verification of order %s: %v", orderID, err)
		return ReconcileResult{}, chaterrors.NewPermanentError(
			fmt.Errorf("%w: %v", domain.ErrPaymentUnverified, err),
			"payment could not be verified",
		)
	}
	if c.simulationAllowed() {
		logger.Warn("provider unreachable for order %s (%v); settling simulated success in %s mode", orderID, err, c.config.Mode)
		return c.Reconcile(ctx, ReconcileRequest{
			OrderID:        orderID,
			PaymentID:      paymentID,
			ProviderStatus: "SUCCESS",
			PaymentMethod:  "simulated",
			Source:         domain.SourceSimulated,
		})
	}
	return ReconcileResult{}, chaterrors.NewTransientError(
		fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err),
		"payment provider unavailable",
	)
}

// providerUnreachable reports whether err means no usable answer came back:
// no provider configured, a transport failure, an open breaker, or a 5xx/429.
func providerUnreachable(err error) bool {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transport *url.Error
	if errors.As(err, &transport) {
		return true
	}
	switch chaterrors.GetErrorType(err) {
	case chaterrors.ErrorTypeDegraded, chaterrors.ErrorTypeTransient:
		return true
	}
	return false
}

// fetchStatus collapses concurrent lookups for one order. The shared call
// runs detached from the first caller's cancellation so waiters are not
// failed by it; the provider client bounds it with its own timeout.
func (c *Coordinator) fetchStatus(ctx context.Context, orderID, paymentID string) (ports.PaymentStatus, error) {
	if c.provider == nil {
		return ports.PaymentStatus{}, fmt.Errorf("%w: no payment provider configured", domain.ErrProviderUnavailable)
	}
	shared := context.WithoutCancel(ctx)
	result := c.verifyGroup.DoChan(orderID, func() (any, error) {
		return c.provider.FetchStatus(shared, orderID, paymentID)
	})
	select {
	case <-ctx.Done():
		return ports.PaymentStatus{}, ctx.Err()
	case res := <-result:
		if res.Shared {
			logging.FromContext(ctx, c.logger).Debug("collapsed verify call for order %s", orderID)
		}
		if res.Err != nil {
			return ports.PaymentStatus{}, res.Err
		}
		return res.Val.(ports.PaymentStatus), nil
	}
}
