package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	chaterrors "chatgem/internal/errors"
	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/app/transactions"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// Mode is the operating mode of the deployment.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeTest        Mode = "test"
)

// ParseMode maps a configured mode name. Anything unrecognised is production.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDevelopment, "dev", "local":
		return ModeDevelopment
	case ModeTest:
		return ModeTest
	default:
		return ModeProduction
	}
}

// Config controls settlement policy.
type Config struct {
	Mode Mode
	// SimulateOnProviderFailure lets Verify settle a synthetic success when
	// the provider API is unreachable. Ignored in production.
	SimulateOnProviderFailure bool
	// PendingTTL is how long a pending transaction may wait before the sweep cancels it.
	PendingTTL time.Duration
	// SweepBatch bounds how many transactions one sweep pass cancels.
	SweepBatch int
	BonusRule  domain.BonusRule
	// OrderIDRetry bounds how often CreateIntent retries a colliding order id.
	OrderIDRetry chaterrors.RetryConfig
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeProduction,
		PendingTTL: 30 * time.Minute,
		SweepBatch: 200,
		BonusRule:  domain.DefaultBonusRule(),
		OrderIDRetry: chaterrors.RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    5 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			JitterFactor: 0.25,
		},
	}
}

// Dependencies wires the coordinator's collaborators. Publisher, Archive,
// Metrics and Tracer are optional.
type Dependencies struct {
	UnitOfWork   ports.UnitOfWork
	Ledger       *ledger.Service
	Transactions *transactions.Service
	Events       ports.PaymentEventRepository
	Signatures   ports.SignatureVerifier
	Provider     ports.PaymentVerifier
	OrderIDs     ports.OrderIDGenerator
	EventIDs     ports.EventIDGenerator
	Publisher    ports.EventPublisher
	Archive      ports.PayloadArchive
	Metrics      *observability.MetricsCollector
	Tracer       *observability.TracerProvider
}

// Coordinator orchestrates the purchase lifecycle and credits each
// transaction at most once.
type Coordinator struct {
	uow          ports.UnitOfWork
	ledger       *ledger.Service
	transactions *transactions.Service
	events       ports.PaymentEventRepository
	signatures   ports.SignatureVerifier
	provider     ports.PaymentVerifier
	orderIDs     ports.OrderIDGenerator
	eventIDs     ports.EventIDGenerator
	publisher    ports.EventPublisher
	archive      ports.PayloadArchive
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerProvider
	config       Config
	logger       logging.Logger
	now          func() time.Time
	verifyGroup  singleflight.Group
}

// NewCoordinator validates the dependencies and builds a coordinator.
func NewCoordinator(deps Dependencies, cfg Config) (*Coordinator, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, fmt.Errorf("settlement: unit of work is required")
	case deps.Ledger == nil || deps.Transactions == nil:
		return nil, fmt.Errorf("settlement: ledger and transaction services are required")
	case deps.Events == nil:
		return nil, fmt.Errorf("settlement: payment event repository is required")
	case deps.Signatures == nil:
		return nil, fmt.Errorf("settlement: signature verifier is required")
	case deps.OrderIDs == nil || deps.EventIDs == nil:
		return nil, fmt.Errorf("settlement: id generators are required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultConfig().PendingTTL
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	if cfg.BonusRule == (domain.BonusRule{}) {
		cfg.BonusRule = domain.DefaultBonusRule()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeProduction
	}
	return &Coordinator{
		uow:          deps.UnitOfWork,
		ledger:       deps.Ledger,
		transactions: deps.Transactions,
		events:       deps.Events,
		signatures:   deps.Signatures,
		provider:     deps.Provider,
		orderIDs:     deps.OrderIDs,
		eventIDs:     deps.EventIDs,
		publisher:    deps.Publisher,
		archive:      deps.Archive,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		config:       cfg,
		logger:       logging.NewComponentLogger("settlement"),
		now:          time.Now,
	}, nil
}

// WithNow injects a deterministic clock for tests.
func (c *Coordinator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Intent identifies a freshly created pending transaction.
type Intent struct {
	OrderID       string
	TransactionID string
	AmountMinor   int64
	BaseTokens    int64
	BonusTokens   int64
	TotalTokens   int64
	PlanName      string
}

// CreateIntent records a pending purchase. The bonus is computed once here
// and frozen into the transaction. A colliding order id is retried with a
// fresh id.
func (c *Coordinator) CreateIntent(ctx context.Context, userID string, amountMinor, baseTokens int64, planName string) (intent Intent, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanCreateIntent, observability.UserAttrs(userID)...)
	defer func() { observability.EndSpan(span, err) }()

	if _, err := c.ledger.Get(ctx, userID); err != nil {
		return Intent{}, err
	}
	bonus, err := c.config.BonusRule.Bonus(amountMinor, baseTokens)
	if err != nil {
		return Intent{}, err
	}

	logger := logging.FromContext(ctx, c.logger)
	tx, err := chaterrors.RetryWithResultAndLog(ctx, c.config.OrderIDRetry, func(ctx context.Context) (domain.Transaction, error) {
		orderID := c.orderIDs.NewOrderID()
		tx, err := c.transactions.Create(ctx, userID, orderID, amountMinor, baseTokens, bonus, planName)
		if errors.Is(err, domain.ErrDuplicateOrder) {
			logger.Warn("order id %s collided, retrying with a new id", orderID)
			return tx, chaterrors.NewTransientError(err, "order id collision")
		}
		return tx, err
	}, logger)
	if err != nil {
		return Intent{}, fmt.Errorf("create intent: %w", err)
	}

	c.metrics.RecordIntent(ctx, planName, bonus > 0)
	logger.Info("created intent %s for %s: %d paise, %d+%d tokens", tx.OrderID, userID, tx.Amount, tx.TokensPurchased, tx.BonusTokens)
	return Intent{
		OrderID:       tx.OrderID,
		TransactionID: tx.ID,
		AmountMinor:   tx.Amount,
		BaseTokens:    tx.TokensPurchased,
		BonusTokens:   tx.BonusTokens,
		TotalTokens:   tx.TotalTokens,
		PlanName:      tx.PlanName,
	}, nil
}

func (c *Coordinator) simulationAllowed() bool {
	return c.config.Mode != ModeProduction && c.config.SimulateOnProviderFailure
}

func (c *Coordinator) publish(ctx context.Context, event domain.LedgerEvent) {
	if c.publisher == nil {
		return
	}
	event.CorrelationID = logging.CorrelationIDFromContext(ctx)
	if err := c.publisher.PublishLedgerEvent(ctx, event); err != nil {
		logging.FromContext(ctx, c.logger).Warn("publish %s for order %s failed: %v", event.Type, event.OrderID, err)
	}
}

// ListEvents returns the audit trail recorded for an order, oldest first.
func (c *Coordinator) ListEvents(ctx context.Context, orderID string) ([]domain.PaymentEvent, error) {
	return c.events.ListByOrder(ctx, strings.TrimSpace(orderID))
}
