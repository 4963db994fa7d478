package blockchain

import (
	"errors"
	"fmt"
)

// ErrInvalidScanRange is returned when a scan is requested with from > to.
var ErrInvalidScanRange = errors.New("invalid scan range: from is greater than to")

// ProviderError wraps a network or provider failure. It is retryable.
type ProviderError struct {
	Chain     string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error on chain %s during %s: %v", e.Chain, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports that the surrounding I/O layer may retry the operation.
func (e *ProviderError) Retryable() bool {
	return true
}

// NewProviderError creates a new ProviderError.
func NewProviderError(chain, operation string, err error) error {
	return &ProviderError{Chain: chain, Operation: operation, Err: err}
}

// IntegrityError is returned when the provider hands back a block that is not
// the one that was requested. It is not retryable.
type IntegrityError struct {
	Chain    string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("provider responded with a different block on chain %s: expected %s, got %s",
		e.Chain, e.Expected, e.Actual)
}

// Retryable reports that the operation must not be retried.
func (e *IntegrityError) Retryable() bool {
	return false
}

// IsRetryable reports whether err is a retryable provider failure.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}
