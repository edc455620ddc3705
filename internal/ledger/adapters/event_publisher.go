package adapters

import (
	"context"
	"sync"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
)

// MemoryEventPublisher collects emitted events for inspection in tests or local dev.
type MemoryEventPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

// NewMemoryEventPublisher constructs an in-memory publisher that satisfies ports.EventPublisher.
func NewMemoryEventPublisher() *MemoryEventPublisher {
	return &MemoryEventPublisher{}
}

// PublishLedgerEvent appends the event to the in-memory slice.
func (m *MemoryEventPublisher) PublishLedgerEvent(_ context.Context, event domain.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the collected events.
func (m *MemoryEventPublisher) Events() []domain.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEvent, len(m.events))
	copy(out, m.events)
	return out
}

// LoggingEventPublisher writes each event to the log.
type LoggingEventPublisher struct {
	logger logging.Logger
}

// NewLoggingEventPublisher returns a publisher that logs through logger.
func NewLoggingEventPublisher(logger logging.Logger) *LoggingEventPublisher {
	return &LoggingEventPublisher{logger: logging.OrNop(logger)}
}

// PublishLedgerEvent logs the event.
func (p *LoggingEventPublisher) PublishLedgerEvent(ctx context.Context, event domain.LedgerEvent) error {
	logging.FromContext(ctx, p.logger).Info("%s user=%s order=%s status=%s tokens=%d balance=%d source=%s",
		event.Type, event.UserID, event.OrderID, event.Status, event.Tokens, event.BalanceAfter, event.Source)
	return nil
}

// FanoutPublisher delivers each event to every publisher and returns the first error.
type FanoutPublisher []ports.EventPublisher

// PublishLedgerEvent publishes to all targets.
func (f FanoutPublisher) PublishLedgerEvent(ctx context.Context, event domain.LedgerEvent) error {
	var firstErr error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishLedgerEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ ports.EventPublisher = (*MemoryEventPublisher)(nil)
	_ ports.EventPublisher = (*LoggingEventPublisher)(nil)
	_ ports.EventPublisher = FanoutPublisher(nil)
)
