package adapters

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chatgem/internal/dbx"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const userColumns = `id, email, tokens, is_admin, COALESCE(to_char(last_free_reset, 'YYYY-MM-DD'), ''), created_at, updated_at`

// PostgresUserRepo stores users in the users table. Balance changes are
// single conditional UPDATE statements, so the row lock serializes them.
type PostgresUserRepo struct {
	db dbx.DBTX
}

// NewPostgresUserRepo binds the repository to db, which may be a *sql.DB or a transaction.
func NewPostgresUserRepo(db dbx.DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := `INSERT INTO users (id, email, tokens, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	created, err := scanUser(r.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.Tokens, user.IsAdmin, user.CreatedAt, user.UpdatedAt))
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, domain.NewStorageFault("users.create", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	return r.findOne(ctx, "users.find_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, "users.find_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, arg any) (domain.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, domain.NewStorageFault(op, err)
	}
	return user, nil
}

func (r *PostgresUserRepo) DebitIfSufficient(ctx context.Context, id string, amount int64, now time.Time) (domain.User, bool, error) {
	query := `UPDATE users SET tokens = tokens - $2, updated_at = $3
		WHERE id = $1 AND tokens >= $2
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, amount, now))
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, domain.NewStorageFault("users.debit", err)
	}
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.User{}, false, err
	}
	return current, false, nil
}

func (r *PostgresUserRepo) Credit(ctx context.Context, id string, amount, maxBalance int64, now time.Time) (domain.User, error) {
	query := `UPDATE users SET tokens = tokens + $2, updated_at = $3
		WHERE id = $1 AND tokens <= $4 - $2
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, amount, now, maxBalance))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.NewStorageFault("users.credit", err)
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return domain.User{}, err
	}
	return domain.User{}, domain.ErrBalanceLimit
}

func (r *PostgresUserRepo) RaiseToFloor(ctx context.Context, id string, floor int64, today string, now time.Time) (domain.User, bool, error) {
	query := `UPDATE users SET tokens = $2, last_free_reset = $3::date, updated_at = $4
		WHERE id = $1 AND tokens < $2 AND (last_free_reset IS NULL OR last_free_reset <> $3::date)
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, floor, today, now))
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, domain.NewStorageFault("users.raise_to_floor", err)
	}
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.User{}, false, err
	}
	return current, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.Tokens, &user.IsAdmin, &user.LastFreeReset, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var _ ports.UserRepository = (*PostgresUserRepo)(nil)
