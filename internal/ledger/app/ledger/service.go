package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// Config controls guardrails around balances.
type Config struct {
	// MaxBalance caps the balance any user can hold.
	MaxBalance int64
	// StartingGrant is credited when a user registers.
	StartingGrant int64
	// FreeFloor is the balance the daily allowance tops up to.
	FreeFloor int64
}

// Service owns every mutation of a user's token balance.
type Service struct {
	users   ports.UserRepository
	config  Config
	now     func() time.Time
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// NewService constructs the ledger service.
func NewService(users ports.UserRepository, cfg Config) *Service {
	if cfg.MaxBalance <= 0 {
		cfg.MaxBalance = math.MaxInt64
	}
	if cfg.StartingGrant <= 0 {
		cfg.StartingGrant = domain.StartingGrant
	}
	if cfg.FreeFloor <= 0 {
		cfg.FreeFloor = domain.FreeFloor
	}
	return &Service{
		users:  users,
		config: cfg,
		now:    time.Now,
		logger: logging.NewComponentLogger("ledger"),
	}
}

// WithNow injects a deterministic clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AttachMetrics wires the optional metrics collector.
func (s *Service) AttachMetrics(metrics *observability.MetricsCollector) {
	s.metrics = metrics
}

// Bind returns a copy of the service operating on users, typically a
// repository scoped to a unit of work. The copy records no metrics; the
// caller reports once the unit commits.
func (s *Service) Bind(users ports.UserRepository) *Service {
	bound := *s
	bound.users = users
	bound.metrics = nil
	return &bound
}

// Register creates the user with the starting grant. Registering an existing
// id is a no-op that returns the stored user; created reports which happened.
func (s *Service) Register(ctx context.Context, userID, email string) (user domain.User, created bool, err error) {
	userID = strings.TrimSpace(userID)
	email = domain.NormalizeEmail(email)
	if userID == "" || email == "" {
		return domain.User{}, false, fmt.Errorf("user id and email are required")
	}

	existing, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, false, err
	}

	now := s.now()
	user, err = s.users.Create(ctx, domain.User{
		ID:        userID,
		Email:     email,
		Tokens:    s.config.StartingGrant,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, domain.ErrUserExists) {
		// Lost a race with a concurrent sign-up for the same id, or the
		// email belongs to someone else.
		if existing, findErr := s.users.FindByID(ctx, userID); findErr == nil {
			return existing, false, nil
		}
		return domain.User{}, false, err
	}
	if err != nil {
		return domain.User{}, false, err
	}
	logging.FromContext(ctx, s.logger).Info("registered user %s with %d tokens", user.ID, user.Tokens)
	return user, true, nil
}

// Get returns the user and current balance.
func (s *Service) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

// Debit removes amount tokens only when the balance covers it. Insufficient
// balance is reported as false with a nil error.
func (s *Service) Debit(ctx context.Context, userID string, amount int64) (bool, error) {
	_, err := s.DebitOrErr(ctx, userID, amount)
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DebitOrErr is Debit for callers that want the typed error. The returned
// user carries the balance after the debit, or the unchanged balance when it
// was insufficient.
func (s *Service) DebitOrErr(ctx context.Context, userID string, amount int64) (domain.User, error) {
	if amount <= 0 {
		return domain.User{}, fmt.Errorf("%w: debit must be positive", domain.ErrInvalidAmount)
	}
	user, ok, err := s.users.DebitIfSufficient(ctx, userID, amount, s.now())
	if err != nil {
		s.metrics.RecordDebit(ctx, "error")
		return domain.User{}, err
	}
	if !ok {
		s.metrics.RecordDebit(ctx, "insufficient")
		return user, domain.ErrInsufficientBalance
	}
	s.metrics.RecordDebit(ctx, "granted")
	return user, nil
}

// Credit adds amount tokens and returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: credit must not be negative", domain.ErrInvalidAmount)
	}
	if amount > s.config.MaxBalance {
		return 0, domain.ErrBalanceLimit
	}
	user, err := s.users.Credit(ctx, userID, amount, s.config.MaxBalance, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordCredit(ctx, "ledger", amount)
	return user.Tokens, nil
}

// ResetDailyFree tops the balance up to the free floor once per calendar day.
// It never lowers a balance; applied reports whether tokens were granted.
func (s *Service) ResetDailyFree(ctx context.Context, userID string) (domain.User, bool, error) {
	now := s.now()
	user, applied, err := s.users.RaiseToFloor(ctx, userID, s.config.FreeFloor, domain.CalendarDate(now), now)
	if err != nil {
		return domain.User{}, false, err
	}
	s.metrics.RecordDailyReset(ctx, applied)
	if applied {
		logging.FromContext(ctx, s.logger).Debug("daily free allowance applied for %s", userID)
	}
	return user, applied, nil
}
