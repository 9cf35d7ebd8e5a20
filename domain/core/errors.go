package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidAlpha     = fmt.Errorf("%w: alpha must be strictly between 0 and 1", ErrInvalidInput)
	ErrInvalidPower     = fmt.Errorf("%w: power must be strictly between 0 and 1", ErrInvalidInput)
	ErrNonPositiveVar   = fmt.Errorf("%w: variance must be positive", ErrInvalidInput)
	ErrZeroDenominator  = fmt.Errorf("%w: denominator sum is zero", ErrInvalidInput)
	ErrMissingWeight    = fmt.Errorf("%w: stratum has no population weight", ErrInvalidInput)
	ErrWeightSum        = fmt.Errorf("%w: stratum weights do not sum to 1", ErrInvalidInput)
	ErrLengthMismatch   = fmt.Errorf("%w: column length mismatch", ErrInvalidInput)
	ErrMissingValue     = fmt.Errorf("%w: missing value", ErrInvalidInput)
	ErrUnknownColumn    = fmt.Errorf("%w: unknown column", ErrInvalidInput)
	ErrUnknownVariant   = fmt.Errorf("%w: unknown variant", ErrInvalidInput)
	ErrInsufficientData = fmt.Errorf("%w: insufficient data for analysis", ErrInvalidInput)
	ErrNotBinary        = fmt.Errorf("%w: proportion metric must be 0 or 1", ErrInvalidInput)
	ErrZeroBaseline     = fmt.Errorf("%w: relative effect needs a non-zero baseline mean", ErrInvalidInput)
	ErrAmbiguousDesign  = fmt.Errorf("%w: exactly one of mde and sample size must be set", ErrInvalidInput)

	// Determinism errors
	ErrSeedRequired = fmt.Errorf("%w: determinism requested without a seed", ErrInvalidInput)

	// Configuration errors
	ErrIterationBudget = errors.New("iteration count exceeds the configured budget")
)

// Error constructors with context
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, reason)
}

func NewLengthError(column string, got, want int) error {
	return fmt.Errorf("%w: column %s has %d values, expected %d", ErrLengthMismatch, column, got, want)
}

func NewBudgetError(what string, requested, limit int) error {
	return fmt.Errorf("%w: %s requested %d, limit %d", ErrIterationBudget, what, requested, limit)
}

// Error checking helpers
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsBudgetError(err error) bool {
	return errors.Is(err, ErrIterationBudget)
}
