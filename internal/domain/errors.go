package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the core. Use errors.Is against these sentinels; the
// structured types below match them through their Is methods.
var (
	// ErrValidation marks malformed input. No side effects happened.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization marks a missing capability. No side effects happened.
	ErrAuthorization = errors.New("not authorized")

	// ErrInsufficientFunds marks a balance short of the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound marks an unknown token, account or command.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an action not allowed in the token's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrIdempotencyMismatch marks reuse of an idempotency key for a different request.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with mismatched request")

	// ErrStorage marks a failed durable write. The operation was aborted.
	ErrStorage = errors.New("storage failure")

	// ErrConsistency marks a fault that needs background reconciliation.
	ErrConsistency = errors.New("consistency fault")
)

// ValidationError describes a user-correctable problem with one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientFundsError carries the balance and price so callers can offer a top-up.
type InsufficientFundsError struct {
	Balance int64
	Price   int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d is less than the %d required", e.Balance, e.Price)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// StateError reports an action rejected because of the token's state.
type StateError struct {
	TokenID int64
	State   TokenState
	Action  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("token %d: cannot %s in state %s", e.TokenID, e.Action, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// StorageError wraps a backend failure for a named operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it already is a domain error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomainError reports whether err already belongs to the taxonomy.
func IsDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrValidation, ErrAuthorization, ErrInsufficientFunds, ErrNotFound,
		ErrInvalidState, ErrIdempotencyMismatch, ErrStorage, ErrConsistency,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
