package domain

import (
	"errors"
	"fmt"

	chaterrors "chatgem/internal/errors"
)

var (
	// ErrInsufficientBalance is the expected outcome of a debit larger than the balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrDuplicateOrder rejects a transaction whose order id already exists.
	ErrDuplicateOrder = errors.New("duplicate order id")
	// ErrTransactionNotFound is returned when no transaction matches the order id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransition rejects a move between two different terminal states.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	// ErrInvalidSignature rejects a webhook whose payload failed authentication.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrBalanceLimit        = errors.New("balance limit exceeded")
	ErrInvalidPayload      = errors.New("invalid payment payload")
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentUnverified means the provider answered but the answer cannot
	// settle the order: an unknown order, rejected credentials or a body that
	// does not decode.
	ErrPaymentUnverified = errors.New("payment could not be verified")
	ErrForbidden         = errors.New("forbidden")
)

// StorageFault wraps an I/O failure of a ledger or transaction store. The
// failed operation left no partial mutation behind and may be retried.
type StorageFault struct {
	Op  string
	Err error
}

// NewStorageFault wraps err as a retryable storage fault.
func NewStorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageFault{Op: op, Err: chaterrors.NewTransientError(err, err.Error())}
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault in %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error {
	return e.Err
}

// IsStorageFault reports whether err is or wraps a StorageFault.
func IsStorageFault(err error) bool {
	var fault *StorageFault
	return errors.As(err, &fault)
}
