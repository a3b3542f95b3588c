// Package failover drives a voice operation against a primary provider and,
// when the primary fails, against a single fallback. Attempts are strictly
// sequential: the fallback never starts until the primary has definitively
// failed, since speculative execution would double-charge paid providers and
// duplicate audible side effects.
package failover

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/provider"
)

// Call carries the per-attempt context handed to an operation function.
// Operation implementations are opaque to this package; the fallback flag
// and reason exist so they can annotate logs or responses.
type Call struct {
	Provider       provider.Record
	IsFallback     bool
	FallbackReason string
}

// Operation is one provider-backed voice operation. Implementations live in
// the tool layer (speech engine); the executor treats them as opaque.
type Operation[T any] func(ctx context.Context, call Call) (T, error)

// Outcome values reported in attempt events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AttemptEvent describes one provider attempt for observability sinks.
type AttemptEvent struct {
	RequestID  string
	Operation  string
	Provider   string
	Outcome    string
	Duration   time.Duration
	IsFallback bool
	Err        error
}

// Sink receives per-attempt events. Implementations must be safe for
// concurrent use; a nil sink is valid and disables emission.
type Sink interface {
	RecordAttempt(ev AttemptEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev AttemptEvent)

// RecordAttempt calls f.
func (f SinkFunc) RecordAttempt(ev AttemptEvent) { f(ev) }

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(ev AttemptEvent) {
		for _, s := range sinks {
			if s != nil {
				s.RecordAttempt(ev)
			}
		}
	})
}

// Executor runs operations with at most one fallback attempt. It holds the
// observability sink and logger; the generic entry point is Execute.
type Executor struct {
	sink Sink
	log  zerolog.Logger
}

// NewExecutor creates an Executor. sink may be nil.
func NewExecutor(sink Sink, logger zerolog.Logger) *Executor {
	return &Executor{
		sink: sink,
		log:  logger.With().Str("component", "failover").Logger(),
	}
}

// Execute invokes op against the primary provider and, on failure, against
// the secondary with the fallback flag set and the primary's error attached
// as the reason. With a nil secondary it runs in single-attempt mode.
//
// There are no per-provider retries here; a failed attempt is terminal for
// that provider. If the caller's context is already done when the primary
// fails, the fallback is skipped and the primary's error is returned.
func Execute[T any](ctx context.Context, e *Executor, opName string, primary provider.Record, secondary *provider.Record, op Operation[T]) (T, error) {
	requestID := uuid.NewString()

	result, primaryErr := attempt(ctx, e, requestID, opName, op, Call{Provider: primary})
	if primaryErr == nil {
		return result, nil
	}

	e.log.Warn().
		Str("request_id", requestID).
		Str("operation", opName).
		Str("provider", primary.Name).
		Err(primaryErr).
		Msg("primary provider failed")

	if secondary == nil {
		var zero T
		return zero, &AttemptError{Provider: primary.Name, Err: primaryErr}
	}

	if ctx.Err() != nil {
		// The caller's deadline is already gone; a fallback attempt
		// could not complete either.
		var zero T
		return zero, &AttemptError{Provider: primary.Name, Err: primaryErr}
	}

	result, secondaryErr := attempt(ctx, e, requestID, opName, op, Call{
		Provider:       *secondary,
		IsFallback:     true,
		FallbackReason: primaryErr.Error(),
	})
	if secondaryErr == nil {
		return result, nil
	}

	var zero T
	return zero, &FailoverError{
		Primary:      primary.Name,
		Secondary:    secondary.Name,
		PrimaryErr:   primaryErr,
		SecondaryErr: secondaryErr,
	}
}

// attempt runs a single provider call and emits its attempt event.
func attempt[T any](ctx context.Context, e *Executor, requestID, opName string, op Operation[T], call Call) (T, error) {
	start := time.Now()
	result, err := op(ctx, call)
	duration := time.Since(start)

	if e.sink != nil {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeFailure
		}
		e.sink.RecordAttempt(AttemptEvent{
			RequestID:  requestID,
			Operation:  opName,
			Provider:   call.Provider.Name,
			Outcome:    outcome,
			Duration:   duration,
			IsFallback: call.IsFallback,
			Err:        err,
		})
	}

	return result, err
}
