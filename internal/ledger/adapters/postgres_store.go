package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"chatgem/internal/dbx"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/migrations"
	"chatgem/internal/ledger/ports"
)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenPostgres opens a pgx-backed *sql.DB and pings it.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore vends Postgres repositories and runs units of work in a
// database transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Users returns the auto-committing user repository.
func (s *PostgresStore) Users() ports.UserRepository { return NewPostgresUserRepo(s.db) }

// Transactions returns the auto-committing transaction repository.
func (s *PostgresStore) Transactions() ports.TransactionRepository {
	return NewPostgresTransactionRepo(s.db)
}

// Events returns the auto-committing payment event repository.
func (s *PostgresStore) Events() ports.PaymentEventRepository { return NewPostgresEventRepo(s.db) }

// Repositories groups the auto-committing repositories.
func (s *PostgresStore) Repositories() ports.Repositories {
	return ports.Repositories{Users: s.Users(), Transactions: s.Transactions(), Events: s.Events()}
}

// WithinTx runs fn with repositories bound to one database transaction.
// Failures to begin or commit surface as storage faults; errors returned by
// fn pass through unchanged after rollback.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	var fnErr error
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fnErr = fn(ctx, ports.Repositories{
			Users:        NewPostgresUserRepo(tx),
			Transactions: NewPostgresTransactionRepo(tx),
			Events:       NewPostgresEventRepo(tx),
		})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return domain.NewStorageFault("tx", err)
	}
	return err
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.NewStorageFault("ping", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

var _ ports.UnitOfWork = (*PostgresStore)(nil)
