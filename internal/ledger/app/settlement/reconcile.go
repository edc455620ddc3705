package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// ReconcileRequest carries one provider report about an order.
type ReconcileRequest struct {
	OrderID        string
	PaymentID      string
	ProviderStatus string
	PaymentMethod  string
	RawPayload     []byte
	// Signature is checked against RawPayload when set.
	Signature *string
	Source    domain.EventSource
}

// ReconcileResult describes the state after a reconcile call.
type ReconcileResult struct {
	Success             bool
	Status              domain.TransactionStatus
	TotalTokensCredited int64
	NewBalance          int64
	AlreadyProcessed    bool
	Simulated           bool
}

// Reconcile applies a provider report to the transaction for req.OrderID.
// A pending transaction is completed and credited at most once no matter how
// many times or how concurrently the same success is reported.
func (c *Coordinator) Reconcile(ctx context.Context, req ReconcileRequest) (result ReconcileResult, err error) {
	if req.Source == "" {
		req.Source = domain.SourceVerify
		if req.Signature != nil {
			req.Source = domain.SourceWebhook
		}
	}
	started := c.now()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanReconcile, observability.OrderAttrs(req.OrderID)...)

	event := domain.PaymentEvent{
		OrderID:           req.OrderID,
		Source:            req.Source,
		ProviderPaymentID: req.PaymentID,
		ProviderStatus:    req.ProviderStatus,
		Payload:           req.RawPayload,
		SignatureValid:    req.Signature != nil,
	}
	defer func() {
		event.Outcome = outcomeOf(result, err)
		c.appendEvent(ctx, event)
		c.metrics.RecordReconcile(ctx, string(req.Source), event.Outcome, c.now().Sub(started))
		observability.EndSpan(span, err)
	}()

	result.Simulated = req.Source == domain.SourceSimulated
	logger := logging.FromContext(ctx, c.logger)

	if req.Signature != nil {
		if verr := c.signatures.Verify(req.RawPayload, *req.Signature); verr != nil {
			event.SignatureValid = false
			logger.Warn("rejected %s report for order %s: %v", req.Source, req.OrderID, verr)
			return result, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, verr)
		}
	}

	tx, err := c.transactions.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			logger.Error("anomaly: %s report for unknown order %s (payment %s)", req.Source, req.OrderID, req.PaymentID)
		}
		return result, err
	}
	event.TransactionID = tx.ID

	switch tx.Status {
	case domain.StatusCompleted:
		return c.completedResult(ctx, tx, result)
	case domain.StatusFailed, domain.StatusCancelled:
		if target, settles := domain.ClassifyProviderStatus(req.ProviderStatus).TargetStatus(); settles && target == tx.Status {
			logger.Debug("order %s is already %s; duplicate %s report", tx.OrderID, tx.Status, req.Source)
			result.Status = tx.Status
			result.AlreadyProcessed = true
			return result, nil
		}
		logger.Warn("order %s is already %s; ignoring %s report %q", tx.OrderID, tx.Status, req.Source, req.ProviderStatus)
		result.Status = tx.Status
		return result, fmt.Errorf("order %s is %s: %w", tx.OrderID, tx.Status, domain.ErrInvalidTransition)
	}

	outcome := domain.ClassifyProviderStatus(req.ProviderStatus)
	target, settles := outcome.TargetStatus()
	if !settles {
		if outcome == domain.ProviderUnknown {
			logger.Warn("unknown provider status %q for order %s; leaving pending", req.ProviderStatus, tx.OrderID)
		}
		result.Status = domain.StatusPending
		return result, nil
	}

	fields := domain.StatusFields{
		PaymentID:       req.PaymentID,
		PaymentMethod:   req.PaymentMethod,
		GatewayResponse: gatewayResponse(req.RawPayload),
	}
	if target == domain.StatusCompleted {
		return c.settleSuccess(ctx, tx, fields, req.Source, result)
	}

	settled, changed, err := c.transactions.Transition(ctx, tx.ID, target, fields)
	if err != nil {
		result.Status = settled.Status
		if settled.Status == domain.StatusCompleted {
			return c.completedResult(ctx, settled, result)
		}
		return result, err
	}
	result.Status = settled.Status
	if changed {
		logger.Info("order %s settled as %s via %s", settled.OrderID, settled.Status, req.Source)
		c.publish(ctx, domain.LedgerEvent{
			Type:          domain.EventTransactionSettled,
			UserID:        settled.UserID,
			TransactionID: settled.ID,
			OrderID:       settled.OrderID,
			Status:        settled.Status,
			Source:        req.Source,
			OccurredAt:    c.now(),
		})
	}
	return result, nil
}

// settleSuccess completes the transaction and credits its total in one unit
// of work. Only the caller whose status swap wins credits.
func (c *Coordinator) settleSuccess(ctx context.Context, tx domain.Transaction, fields domain.StatusFields, source domain.EventSource, result ReconcileResult) (ReconcileResult, error) {
	var (
		settled    domain.Transaction
		changed    bool
		newBalance int64
	)
	err := c.uow.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		settled, changed, err = c.transactions.Bind(repos.Transactions).Transition(ctx, tx.ID, domain.StatusCompleted, fields)
		if err != nil || !changed {
			return err
		}
		newBalance, err = c.ledger.Bind(repos.Users).Credit(ctx, settled.UserID, settled.TotalTokens)
		if err != nil {
			return fmt.Errorf("credit order %s: %w", settled.OrderID, err)
		}
		return nil
	})
	if err != nil {
		// A concurrent reconcile may have completed it first; a failed or
		// cancelled winner still surfaces as an invalid transition.
		if errors.Is(err, domain.ErrInvalidTransition) {
			result.Status = settled.Status
		}
		return result, err
	}
	if !changed {
		return c.completedResult(ctx, settled, result)
	}

	c.metrics.RecordCredit(ctx, "settlement", settled.TotalTokens)
	logging.FromContext(ctx, c.logger).Info("order %s completed via %s: credited %d tokens to %s (balance %d)",
		settled.OrderID, source, settled.TotalTokens, settled.UserID, newBalance)
	now := c.now()
	c.publish(ctx, domain.LedgerEvent{
		Type:          domain.EventTokensCredited,
		UserID:        settled.UserID,
		TransactionID: settled.ID,
		OrderID:       settled.OrderID,
		Status:        settled.Status,
		Tokens:        settled.TotalTokens,
		BalanceAfter:  newBalance,
		Source:        source,
		OccurredAt:    now,
	})
	c.publish(ctx, domain.LedgerEvent{
		Type:          domain.EventTransactionSettled,
		UserID:        settled.UserID,
		TransactionID: settled.ID,
		OrderID:       settled.OrderID,
		Status:        settled.Status,
		Tokens:        settled.TotalTokens,
		BalanceAfter:  newBalance,
		Source:        source,
		OccurredAt:    now,
	})

	result.Success = true
	result.Status = domain.StatusCompleted
	result.TotalTokensCredited = settled.TotalTokens
	result.NewBalance = newBalance
	return result, nil
}

func (c *Coordinator) completedResult(ctx context.Context, tx domain.Transaction, result ReconcileResult) (ReconcileResult, error) {
	result.Success = true
	result.AlreadyProcessed = true
	result.Status = domain.StatusCompleted
	result.TotalTokensCredited = tx.TotalTokens
	user, err := c.ledger.Get(ctx, tx.UserID)
	if err != nil {
		return result, err
	}
	result.NewBalance = user.Tokens
	return result, nil
}

// appendEvent records the audit trail. Failures never change the outcome.
func (c *Coordinator) appendEvent(ctx context.Context, event domain.PaymentEvent) {
	event.ID = c.eventIDs.NextID()
	event.CreatedAt = c.now()
	logger := logging.FromContext(ctx, c.logger)
	if c.archive != nil && len(event.Payload) > 0 {
		key := fmt.Sprintf("payment-events/%s/%d.json", archiveSegment(event.OrderID), event.ID)
		if location, err := c.archive.Put(ctx, key, event.Payload); err != nil {
			logger.Warn("archive payload for order %s failed: %v", event.OrderID, err)
		} else {
			event.ArchiveKey = location
		}
	}
	if _, err := c.events.Append(ctx, event); err != nil {
		logger.Error("append %s payment event for order %s failed: %v", event.Source, event.OrderID, err)
	}
}

func outcomeOf(result ReconcileResult, err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return domain.OutcomeRejectedSignature
	case errors.Is(err, domain.ErrTransactionNotFound):
		return domain.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return domain.OutcomeInvalidTransition
	case err != nil:
		return domain.OutcomeError
	case result.AlreadyProcessed && result.Status == domain.StatusCompleted:
		return domain.OutcomeAlreadyCompleted
	case result.AlreadyProcessed:
		return domain.OutcomeDuplicate
	}
	switch result.Status {
	case domain.StatusCompleted:
		return domain.OutcomeCompleted
	case domain.StatusFailed:
		return domain.OutcomeFailed
	case domain.StatusCancelled:
		return domain.OutcomeCancelled
	default:
		return domain.OutcomePending
	}
}

// gatewayResponse keeps the payload only when it is a JSON document.
func gatewayResponse(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil
	}
	return append(json.RawMessage(nil), payload...)
}

func archiveSegment(orderID string) string {
	if orderID == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(orderID))
	for _, r := range orderID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
