package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// StartingGrant is the balance a user receives at sign-up.
	StartingGrant int64 = 10
	// FreeFloor is the balance the daily free allowance raises a user to.
	FreeFloor int64 = 10
	// DateLayout is the calendar-date encoding used for LastFreeReset.
	DateLayout = "2006-01-02"
)

// User owns a token balance.
type User struct {
	ID            string
	Email         string
	Tokens        int64
	IsAdmin       bool
	LastFreeReset string // calendar date, empty when never granted
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeEmail lower-cases and trims an email so it can serve as a unique key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CalendarDate formats t as a process-local calendar date.
func CalendarDate(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// TransactionStatus is the lifecycle state of a purchase intent.
type TransactionStatus string

const (
	// StatusPending is the initial state; nothing has been credited.
	StatusPending TransactionStatus = "pending"
	// StatusCompleted means tokens were credited exactly once.
	StatusCompleted TransactionStatus = "completed"
	// StatusFailed means the provider reported a failed payment.
	StatusFailed TransactionStatus = "failed"
	// StatusCancelled means the payment was abandoned or expired.
	StatusCancelled TransactionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s TransactionStatus) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// CheckTransition validates moving a transaction from one status to another.
// It reports whether the move is an effective change. Re-applying the current
// terminal state is a no-op; any other move out of a terminal state, or back
// to pending, is ErrInvalidTransition.
func CheckTransition(from, to TransactionStatus) (bool, error) {
	if !to.IsTerminal() {
		return false, ErrInvalidTransition
	}
	switch {
	case from == StatusPending:
		return true, nil
	case from == to:
		return false, nil
	default:
		return false, ErrInvalidTransition
	}
}

// Transaction is a purchase intent keyed by its external order id.
type Transaction struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          int64 // minor units
	TokensPurchased int64
	BonusTokens     int64
	TotalTokens     int64
	PlanName        string
	Status          TransactionStatus
	PaymentID       string
	PaymentMethod   string
	GatewayResponse json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecomputeTotal keeps TotalTokens in step with its addends.
func (t *Transaction) RecomputeTotal() {
	t.TotalTokens = t.TokensPurchased + t.BonusTokens
}

// StatusFields carries the provider metadata written alongside a terminal status.
type StatusFields struct {
	PaymentID       string
	PaymentMethod   string
	GatewayResponse json.RawMessage
}

// Apply copies non-empty fields onto tx.
func (f StatusFields) Apply(tx *Transaction) {
	if f.PaymentID != "" {
		tx.PaymentID = f.PaymentID
	}
	if f.PaymentMethod != "" {
		tx.PaymentMethod = f.PaymentMethod
	}
	if len(f.GatewayResponse) > 0 {
		tx.GatewayResponse = append(json.RawMessage(nil), f.GatewayResponse...)
	}
}

// EventSource identifies what triggered a payment event.
type EventSource string

const (
	SourceWebhook   EventSource = "webhook"
	SourceVerify    EventSource = "verify"
	SourceSimulated EventSource = "simulated"
	SourceSweep     EventSource = "sweep"
	SourceAdmin     EventSource = "admin"
)

// PaymentEvent is an append-only audit record of one reconciliation attempt.
// TransactionID is empty when the attempt could not be tied to a trusted
// transaction, for example a webhook with a bad signature.
type PaymentEvent struct {
	ID                int64
	TransactionID     string
	OrderID           string
	Source            EventSource
	ProviderPaymentID string
	ProviderStatus    string
	Outcome           string
	SignatureValid    bool
	Payload           json.RawMessage
	ArchiveKey        string
	CreatedAt         time.Time
}

// Outcomes recorded on payment events.
const (
	OutcomeCompleted         = "completed"
	OutcomeAlreadyCompleted  = "already_completed"
	OutcomeDuplicate         = "duplicate"
	OutcomeFailed            = "failed"
	OutcomeCancelled         = "cancelled"
	OutcomePending           = "pending"
	OutcomeRejectedSignature = "rejected_signature"
	OutcomeNotFound          = "not_found"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeError             = "error"
)
