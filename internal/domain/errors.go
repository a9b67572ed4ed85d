package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the ledger, withdrawal and order workflows. Callers
// match with errors.Is; messages are meant to be shown to sellers and admins.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrConcurrentModification = errors.New("record was modified concurrently, refetch and retry")
	ErrReconciliationNeeded   = errors.New("reconciliation needed")
	ErrNotFound               = errors.New("not found")
	ErrAlreadyDecided         = errors.New("this request was already decided")
	ErrConflict               = errors.New("conflicts with existing record")
	ErrForbidden              = errors.New("insufficient permissions")
)

// Validationf builds an ErrValidation with a specific, actionable message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidTransitionf builds an ErrInvalidTransition naming both states.
func InvalidTransitionf[S ~string](from, to S) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
