package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
)

const defaultListLimit = 50

// Service owns the status state machine of purchase intents.
type Service struct {
	repo   ports.TransactionRepository
	now    func() time.Time
	newID  func() string
	logger logging.Logger
}

// NewService constructs the transaction store service.
func NewService(repo ports.TransactionRepository) *Service {
	return &Service{
		repo:   repo,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.NewComponentLogger("transactions"),
	}
}

// WithNow injects a deterministic clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Bind returns a copy of the service operating on repo.
func (s *Service) Bind(repo ports.TransactionRepository) *Service {
	bound := *s
	bound.repo = repo
	return &bound
}

// Create persists a pending transaction. A colliding order id fails with
// domain.ErrDuplicateOrder and never overwrites the existing record.
func (s *Service) Create(ctx context.Context, userID, orderID string, amount, tokensPurchased, bonusTokens int64, planName string) (domain.Transaction, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orderID) == "" {
		return domain.Transaction{}, fmt.Errorf("user id and order id are required")
	}
	if amount <= 0 || tokensPurchased <= 0 || bonusTokens < 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	now := s.now()
	tx := domain.Transaction{
		ID:              s.newID(),
		OrderID:         orderID,
		UserID:          userID,
		Amount:          amount,
		TokensPurchased: tokensPurchased,
		BonusTokens:     bonusTokens,
		PlanName:        planName,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx.RecomputeTotal()
	return s.repo.Create(ctx, tx)
}

// GetByOrderID looks a transaction up by its external order id.
func (s *Service) GetByOrderID(ctx context.Context, orderID string) (domain.Transaction, error) {
	return s.repo.FindByOrderID(ctx, orderID)
}

// GetByID looks a transaction up by its internal id.
func (s *Service) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateStatus applies the state machine: pending moves to a terminal state,
// re-applying the current terminal state is a no-op, and anything else is
// domain.ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, txID string, newStatus domain.TransactionStatus, fields domain.StatusFields) (domain.Transaction, error) {
	tx, _, err := s.Transition(ctx, txID, newStatus, fields)
	return tx, err
}

// Transition is UpdateStatus that also reports whether this call performed
// the change. Exactly one concurrent caller observes changed == true.
func (s *Service) Transition(ctx context.Context, txID string, newStatus domain.TransactionStatus, fields domain.StatusFields) (tx domain.Transaction, changed bool, err error) {
	current, err := s.repo.FindByID(ctx, txID)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	effective, err := domain.CheckTransition(current.Status, newStatus)
	if err != nil {
		s.reportInvalid(ctx, current, newStatus)
		return current, false, fmt.Errorf("%s -> %s for order %s: %w", current.Status, newStatus, current.OrderID, err)
	}
	if !effective {
		return current, false, nil
	}

	updated, swapped, err := s.repo.CompareAndSetStatus(ctx, txID, domain.StatusPending, newStatus, fields, s.now())
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if swapped {
		return updated, true, nil
	}

	// Another caller settled it between the read and the swap.
	effective, err = domain.CheckTransition(updated.Status, newStatus)
	if err != nil {
		s.reportInvalid(ctx, updated, newStatus)
		return updated, false, fmt.Errorf("%s -> %s for order %s: %w", updated.Status, newStatus, updated.OrderID, err)
	}
	if effective {
		return updated, false, domain.NewStorageFault("transactions.compare_and_set", errors.New("status swap lost without a visible winner"))
	}
	return updated, false, nil
}

func (s *Service) reportInvalid(ctx context.Context, tx domain.Transaction, target domain.TransactionStatus) {
	logging.FromContext(ctx, s.logger).Error("rejected transition %s -> %s for order %s (transaction %s)", tx.Status, target, tx.OrderID, tx.ID)
}

// UpdateBonus changes the bonus of a pending transaction and recomputes its total.
func (s *Service) UpdateBonus(ctx context.Context, txID string, bonusTokens int64) (domain.Transaction, error) {
	if bonusTokens < 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	tx, err := s.repo.UpdateBonus(ctx, txID, bonusTokens, s.now())
	if err != nil {
		return domain.Transaction{}, err
	}
	logging.FromContext(ctx, s.logger).Info("bonus for order %s set to %d (total %d)", tx.OrderID, tx.BonusTokens, tx.TotalTokens)
	return tx, nil
}

// ListByUser returns the user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// ListPendingBefore returns pending transactions created before cutoff, oldest first.
func (s *Service) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListPendingBefore(ctx, cutoff, limit)
}
