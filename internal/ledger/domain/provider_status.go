package domain

import "strings"

// ProviderOutcome is the normalized meaning of a provider payment status.
type ProviderOutcome int

const (
	// ProviderPending covers statuses that do not settle the payment yet.
	ProviderPending ProviderOutcome = iota
	ProviderSuccess
	ProviderFailure
	ProviderAbandoned
	// ProviderUnknown covers statuses outside the known vocabulary.
	ProviderUnknown
)

func (o ProviderOutcome) String() string {
	switch o {
	case ProviderSuccess:
		return "success"
	case ProviderFailure:
		return "failure"
	case ProviderAbandoned:
		return "abandoned"
	case ProviderPending:
		return "pending"
	default:
		return "unknown"
	}
}

var providerStatuses = map[string]ProviderOutcome{
	"SUCCESS":      ProviderSuccess,
	"CAPTURED":     ProviderSuccess,
	"PAID":         ProviderSuccess,
	"COMPLETED":    ProviderSuccess,
	"FAILED":       ProviderFailure,
	"FAILURE":      ProviderFailure,
	"DECLINED":     ProviderFailure,
	"CANCELLED":    ProviderAbandoned,
	"USER_DROPPED": ProviderAbandoned,
	"ABANDONED":    ProviderAbandoned,
	"EXPIRED":      ProviderAbandoned,
	"PENDING":      ProviderPending,
	"ACTIVE":       ProviderPending,
	"CREATED":      ProviderPending,
}

// ClassifyProviderStatus maps a raw provider status, case-insensitively.
func ClassifyProviderStatus(status string) ProviderOutcome {
	if outcome, ok := providerStatuses[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return outcome
	}
	return ProviderUnknown
}

// TargetStatus returns the terminal status an outcome settles to, if any.
func (o ProviderOutcome) TargetStatus() (TransactionStatus, bool) {
	switch o {
	case ProviderSuccess:
		return StatusCompleted, true
	case ProviderFailure:
		return StatusFailed, true
	case ProviderAbandoned:
		return StatusCancelled, true
	}
	return "", false
}
