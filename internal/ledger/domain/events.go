package domain

import "time"

// LedgerEventType enumerates events published after a settlement commits.
type LedgerEventType string

const (
	// EventTokensCredited fires when a balance grows through settlement or an admin credit.
	EventTokensCredited LedgerEventType = "ledger.tokens_credited"
	// EventTransactionSettled fires when a transaction reaches a terminal state.
	EventTransactionSettled LedgerEventType = "ledger.transaction_settled"
)

// LedgerEvent is broadcast to downstream systems.
type LedgerEvent struct {
	Type          LedgerEventType
	UserID        string
	TransactionID string
	OrderID       string
	Status        TransactionStatus
	Tokens        int64
	BalanceAfter  int64
	Source        EventSource
	OccurredAt    time.Time
	CorrelationID string
}
