package settlement

import (
	"context"
	"errors"
	"time"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// SweepReport summarises one ExpirePending pass.
type SweepReport struct {
	Scanned   int
	Cancelled int
	Skipped   int
}

// ExpirePending cancels pending transactions older than the configured TTL.
// Transactions settled concurrently are skipped. The first storage error is
// returned after the whole batch has been attempted.
func (c *Coordinator) ExpirePending(ctx context.Context, now time.Time) (report SweepReport, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanSweep)
	defer func() { observability.EndSpan(span, err) }()

	cutoff := now.Add(-c.config.PendingTTL)
	stale, err := c.transactions.ListPendingBefore(ctx, cutoff, c.config.SweepBatch)
	if err != nil {
		return report, err
	}
	report.Scanned = len(stale)
	logger := logging.FromContext(ctx, c.logger)

	var firstErr error
	for _, tx := range stale {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}
		settled, changed, terr := c.transactions.Transition(ctx, tx.ID, domain.StatusCancelled, domain.StatusFields{})
		if terr != nil {
			if errors.Is(terr, domain.ErrInvalidTransition) {
				report.Skipped++
				continue
			}
			logger.Error("sweep: cancel order %s failed: %v", tx.OrderID, terr)
			if firstErr == nil {
				firstErr = terr
			}
			continue
		}
		if !changed {
			report.Skipped++
			continue
		}
		report.Cancelled++
		c.appendEvent(ctx, domain.PaymentEvent{
			TransactionID:  settled.ID,
			OrderID:        settled.OrderID,
			Source:         domain.SourceSweep,
			ProviderStatus: "EXPIRED",
			Outcome:        domain.OutcomeCancelled,
		})
		c.publish(ctx, domain.LedgerEvent{
			Type:          domain.EventTransactionSettled,
			UserID:        settled.UserID,
			TransactionID: settled.ID,
			OrderID:       settled.OrderID,
			Status:        settled.Status,
			Source:        domain.SourceSweep,
			OccurredAt:    now,
		})
	}

	c.metrics.RecordSweep(ctx, report.Cancelled)
	if report.Scanned > 0 {
		logger.Info("sweep: scanned %d, cancelled %d, skipped %d (cutoff %s)", report.Scanned, report.Cancelled, report.Skipped, cutoff.Format(time.RFC3339))
	}
	return report, firstErr
}

// PendingTTL exposes the configured expiry window.
func (c *Coordinator) PendingTTL() time.Duration {
	return c.config.PendingTTL
}

// Mode returns the configured operating mode.
func (c *Coordinator) Mode() Mode {
	return c.config.Mode
}

// BonusRule returns the rule CreateIntent applies.
func (c *Coordinator) BonusRule() domain.BonusRule {
	return c.config.BonusRule
}
