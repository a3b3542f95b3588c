package failover

import (
	"fmt"
)

// AttemptError wraps the failure of a single provider attempt with the
// provider's identity, so callers never see a bare transport error.
// It is the terminal error when the plan had no fallback, or when the
// caller's deadline expired before a fallback could be attempted.
type AttemptError struct {
	Provider string
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// FailoverError is the terminal error when both the primary and the
// fallback provider failed. Both underlying causes are retained for
// diagnosis and both participate in errors.Is/As matching.
type FailoverError struct {
	Primary      string
	Secondary    string
	PrimaryErr   error
	SecondaryErr error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("all providers failed: %s: %v; fallback %s: %v",
		e.Primary, e.PrimaryErr, e.Secondary, e.SecondaryErr)
}

func (e *FailoverError) Unwrap() []error {
	return []error{e.SecondaryErr, e.PrimaryErr}
}
