package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"chatgem/internal/dbx"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
)

const txColumns = `id, order_id, user_id, amount, tokens_purchased, bonus_tokens, total_tokens, plan_name, status,
	COALESCE(payment_id, ''), COALESCE(payment_method, ''), gateway_response, created_at, updated_at`

// PostgresTransactionRepo stores purchase intents in the transactions table.
type PostgresTransactionRepo struct {
	db dbx.DBTX
}

// NewPostgresTransactionRepo binds the repository to db.
func NewPostgresTransactionRepo(db dbx.DBTX) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

func (r *PostgresTransactionRepo) Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	query := `INSERT INTO transactions (id, order_id, user_id, amount, tokens_purchased, bonus_tokens, total_tokens, plan_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + txColumns
	created, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		tx.ID, tx.OrderID, tx.UserID, tx.Amount, tx.TokensPurchased, tx.BonusTokens, tx.TotalTokens,
		tx.PlanName, string(tx.Status), tx.CreatedAt, tx.UpdatedAt))
	if err != nil {
		switch {
		case isPgError(err, pgUniqueViolation):
			return domain.Transaction{}, domain.ErrDuplicateOrder
		case isPgError(err, pgForeignKeyViolation):
			return domain.Transaction{}, domain.ErrUserNotFound
		}
		return domain.Transaction{}, domain.NewStorageFault("transactions.create", err)
	}
	return created, nil
}

func (r *PostgresTransactionRepo) FindByID(ctx context.Context, id string) (domain.Transaction, error) {
	return r.findOne(ctx, "transactions.find_by_id", `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *PostgresTransactionRepo) FindByOrderID(ctx context.Context, orderID string) (domain.Transaction, error) {
	return r.findOne(ctx, "transactions.find_by_order", `SELECT `+txColumns+` FROM transactions WHERE order_id = $1`, orderID)
}

func (r *PostgresTransactionRepo) findOne(ctx context.Context, op, query string, arg any) (domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, domain.NewStorageFault(op, err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepo) CompareAndSetStatus(ctx context.Context, id string, from, to domain.TransactionStatus, fields domain.StatusFields, now time.Time) (domain.Transaction, bool, error) {
	query := `UPDATE transactions SET status = $3,
		payment_id = COALESCE(NULLIF($4, ''), payment_id),
		payment_method = COALESCE(NULLIF($5, ''), payment_method),
		gateway_response = COALESCE($6::jsonb, gateway_response),
		updated_at = $7
		WHERE id = $1 AND status = $2
		RETURNING ` + txColumns
	updated, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		id, string(from), string(to), fields.PaymentID, fields.PaymentMethod, jsonArg(fields.GatewayResponse), now))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, domain.NewStorageFault("transactions.compare_and_set", err)
	}
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return current, false, nil
}

func (r *PostgresTransactionRepo) UpdateBonus(ctx context.Context, id string, bonus int64, now time.Time) (domain.Transaction, error) {
	query := `UPDATE transactions SET bonus_tokens = $2, total_tokens = tokens_purchased + $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + txColumns
	updated, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, bonus, now))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, domain.NewStorageFault("transactions.update_bonus", err)
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{}, domain.ErrInvalidTransition
}

func (r *PostgresTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, "transactions.list_by_user", query, userID, limit)
}

func (r *PostgresTransactionRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`
	return r.list(ctx, "transactions.list_pending", query, before, limit)
}

func (r *PostgresTransactionRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageFault(op, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.NewStorageFault(op, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageFault(op, err)
	}
	return out, nil
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		tx       domain.Transaction
		status   string
		response []byte
	)
	err := row.Scan(&tx.ID, &tx.OrderID, &tx.UserID, &tx.Amount, &tx.TokensPurchased, &tx.BonusTokens, &tx.TotalTokens,
		&tx.PlanName, &status, &tx.PaymentID, &tx.PaymentMethod, &response, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Status = domain.TransactionStatus(status)
	if len(response) > 0 {
		tx.GatewayResponse = json.RawMessage(response)
	}
	return tx, nil
}

// jsonArg passes a JSON document as text, or NULL when absent.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ ports.TransactionRepository = (*PostgresTransactionRepo)(nil)
