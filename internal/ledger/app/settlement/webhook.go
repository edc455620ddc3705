package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/observability"
)

// WebhookNotification is the provider's push body.
type WebhookNotification struct {
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
}

// HandleWebhook authenticates and applies a provider push notification.
// The signature is always checked before the body is trusted.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) (result ReconcileResult, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanWebhook)
	defer func() { observability.EndSpan(span, err) }()

	var note WebhookNotification
	decodeErr := json.Unmarshal(payload, &note)
	if decodeErr == nil && strings.TrimSpace(note.OrderID) == "" {
		decodeErr = errors.New("order_id is missing")
	}
	if decodeErr != nil {
		// Unsigned garbage is reported as a signature failure so the
		// response does not reveal whether the body parsed.
		if verr := c.signatures.Verify(payload, signature); verr != nil {
			c.appendEvent(ctx, domain.PaymentEvent{
				Source:  domain.SourceWebhook,
				Outcome: domain.OutcomeRejectedSignature,
				Payload: payload,
			})
			c.metrics.RecordReconcile(ctx, string(domain.SourceWebhook), domain.OutcomeRejectedSignature, 0)
			return ReconcileResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, verr)
		}
		c.appendEvent(ctx, domain.PaymentEvent{
			Source:         domain.SourceWebhook,
			Outcome:        domain.OutcomeError,
			SignatureValid: true,
			Payload:        payload,
		})
		return ReconcileResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, decodeErr)
	}

	return c.Reconcile(ctx, ReconcileRequest{
		OrderID:        strings.TrimSpace(note.OrderID),
		PaymentID:      note.PaymentID,
		ProviderStatus: note.Status,
		PaymentMethod:  note.PaymentMethod,
		RawPayload:     payload,
		Signature:      &signature,
		Source:         domain.SourceWebhook,
	})
}
