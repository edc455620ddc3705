package adapters

import (
	"context"

	"chatgem/internal/dbx"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
)

// PostgresEventRepo appends payment events to payment_events.
type PostgresEventRepo struct {
	db dbx.DBTX
}

// NewPostgresEventRepo binds the repository to db.
func NewPostgresEventRepo(db dbx.DBTX) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

func (r *PostgresEventRepo) Append(ctx context.Context, event domain.PaymentEvent) (domain.PaymentEvent, error) {
	query := `INSERT INTO payment_events (id, transaction_id, order_id, source, provider_payment_id, provider_status,
		outcome, signature_valid, payload, archive_key, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.TransactionID, event.OrderID, string(event.Source), event.ProviderPaymentID, event.ProviderStatus,
		event.Outcome, event.SignatureValid, string(event.Payload), event.ArchiveKey, event.CreatedAt)
	if err != nil {
		return domain.PaymentEvent{}, domain.NewStorageFault("payment_events.append", err)
	}
	return event, nil
}

func (r *PostgresEventRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error) {
	query := `SELECT id, COALESCE(transaction_id::text, ''), order_id, source, provider_payment_id, provider_status,
		outcome, signature_valid, payload, archive_key, created_at
		FROM payment_events WHERE order_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, domain.NewStorageFault("payment_events.list", err)
	}
	defer rows.Close()

	var out []domain.PaymentEvent
	for rows.Next() {
		var (
			event   domain.PaymentEvent
			source  string
			payload string
		)
		if err := rows.Scan(&event.ID, &event.TransactionID, &event.OrderID, &source, &event.ProviderPaymentID,
			&event.ProviderStatus, &event.Outcome, &event.SignatureValid, &payload, &event.ArchiveKey, &event.CreatedAt); err != nil {
			return nil, domain.NewStorageFault("payment_events.list", err)
		}
		event.Source = domain.EventSource(source)
		if payload != "" {
			event.Payload = []byte(payload)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageFault("payment_events.list", err)
	}
	return out, nil
}

var _ ports.PaymentEventRepository = (*PostgresEventRepo)(nil)
