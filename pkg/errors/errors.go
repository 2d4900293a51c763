// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Construction errors: rejected at creation, never enter the store.
var (
	ErrNonPositiveAmount       = errors.New("transaction amount must be positive")
	ErrDeadlineNotAfterArrival = errors.New("deadline tick must be after arrival tick")
	ErrSenderIsReceiver        = errors.New("sender and receiver must differ")
	ErrUnknownAgent            = errors.New("agent not found")
	ErrDuplicateAgent          = errors.New("agent already registered")
)

// Settlement errors: programming/config errors in the caller, returned as
// typed results and never silently swallowed.
var (
	ErrAlreadySettled         = errors.New("transaction already settled")
	ErrAmountExceedsRemaining = errors.New("settlement amount must equal remaining amount")
	ErrIndivisibleTransaction = errors.New("transaction is not divisible")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrNotInInternalQueue     = errors.New("transaction not in sender internal queue")
	ErrInvalidSplitCount      = errors.New("split count must be at least 2")
	ErrSplitBelowMinimum      = errors.New("split would create children below one minor unit")
)

// Policy errors surfaced outside static validation.
var (
	ErrUnknownPolicyTree   = errors.New("agent has no policy tree for this decision domain")
	ErrTreeNotValidated    = errors.New("policy tree rejected by static validation")
	ErrUnknownContextField = errors.New("condition references unknown context field")
)

// Engine lifecycle errors.
var (
	ErrHorizonReached     = errors.New("simulation horizon reached")
	ErrSimulationHalted   = errors.New("simulation halted by a prior tick failure")
	ErrRunNotFound        = errors.New("run not found")
	ErrSimulationNotFound = errors.New("simulation not found")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
