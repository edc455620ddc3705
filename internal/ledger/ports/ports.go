package ports

import (
	"context"
	"time"

	"chatgem/internal/ledger/domain"
)

// UserRepository persists users and exposes the atomic balance primitives
// the ledger is built on. Each primitive must be linearizable per user.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// DebitIfSufficient subtracts amount only when the balance covers it.
	// The bool is false, with a nil error, when the balance is too low.
	DebitIfSufficient(ctx context.Context, id string, amount int64, now time.Time) (domain.User, bool, error)
	// Credit adds amount, refusing to exceed maxBalance.
	Credit(ctx context.Context, id string, amount, maxBalance int64, now time.Time) (domain.User, error)
	// RaiseToFloor lifts the balance to floor when it is below it and the
	// last grant was not on today. The bool reports whether it applied.
	RaiseToFloor(ctx context.Context, id string, floor int64, today string, now time.Time) (domain.User, bool, error)
}

// TransactionRepository persists purchase intents.
type TransactionRepository interface {
	Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	FindByID(ctx context.Context, id string) (domain.Transaction, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Transaction, error)
	// CompareAndSetStatus moves the transaction to `to` only while it is in
	// `from`. The bool is false when the current status differs; the
	// returned transaction then reflects the stored row.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.TransactionStatus, fields domain.StatusFields, now time.Time) (domain.Transaction, bool, error)
	// UpdateBonus rewrites the bonus of a pending transaction and recomputes the total.
	UpdateBonus(ctx context.Context, id string, bonus int64, now time.Time) (domain.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error)
}

// PaymentEventRepository appends audit records.
type PaymentEventRepository interface {
	Append(ctx context.Context, event domain.PaymentEvent) (domain.PaymentEvent, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error)
}

// Repositories groups the stores that share one unit of work.
type Repositories struct {
	Users        UserRepository
	Transactions TransactionRepository
	Events       PaymentEventRepository
}

// UnitOfWork runs fn with repositories bound to a single atomic scope.
// Every write inside fn commits together or not at all.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// SignatureVerifier authenticates a raw webhook payload.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) error
}

// PaymentStatus is a provider's answer to a verification query.
type PaymentStatus struct {
	OrderID       string
	PaymentID     string
	Status        string
	PaymentMethod string
	Raw           []byte
}

// PaymentVerifier queries the provider for the current state of an order.
type PaymentVerifier interface {
	FetchStatus(ctx context.Context, orderID, paymentID string) (PaymentStatus, error)
}

// EventPublisher fans ledger events out to downstream systems.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event domain.LedgerEvent) error
}

// PayloadArchive keeps raw provider payloads outside the database.
type PayloadArchive interface {
	Put(ctx context.Context, key string, payload []byte) (string, error)
}

// OrderIDGenerator issues external order identifiers.
type OrderIDGenerator interface {
	NewOrderID() string
}

// EventIDGenerator issues time-ordered payment event ids.
type EventIDGenerator interface {
	NextID() int64
}

// Identity is the caller established by a bearer token.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

// IdentityVerifier authenticates bearer tokens issued by the identity provider.
type IdentityVerifier interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}
