package store

import (
	"fmt"
	"time"

	"github.com/audioworks/voiceman/internal/errclass"
	"github.com/audioworks/voiceman/internal/failover"
)

// Attempt is one persisted provider attempt.
type Attempt struct {
	ID            int64  `json:"id"`
	Timestamp     string `json:"timestamp"`
	RequestID     string `json:"request_id"`
	Operation     string `json:"operation"`
	Provider      string `json:"provider"`
	Outcome       string `json:"outcome"`
	DurationMs    int64  `json:"duration_ms"`
	IsFallback    bool   `json:"is_fallback"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
}

// InsertAttempt stores a single attempt record.
func (s *Store) InsertAttempt(a *Attempt) error {
	fallbackInt := 0
	if a.IsFallback {
		fallbackInt = 1
	}

	_, err := s.writer.Exec(`
		INSERT INTO attempts (
			timestamp, request_id, operation, provider, outcome,
			duration_ms, is_fallback, error_message, error_category
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.RequestID, a.Operation, a.Provider, a.Outcome,
		a.DurationMs, fallbackInt, a.ErrorMessage, a.ErrorCategory,
	)
	if err != nil {
		return fmt.Errorf("store: insert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the most recent attempts, newest first.
func (s *Store) ListAttempts(limit, offset int) ([]*Attempt, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, request_id, operation, provider, outcome,
		       duration_ms, is_fallback, error_message, error_category
		FROM attempts
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var fallbackInt int
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.RequestID, &a.Operation, &a.Provider,
			&a.Outcome, &a.DurationMs, &fallbackInt, &a.ErrorMessage,
			&a.ErrorCategory,
		); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		a.IsFallback = fallbackInt != 0
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: attempt rows: %w", err)
	}
	return attempts, nil
}

// ListAttemptsByRequest returns all attempts that share a request ID, in
// execution order.
func (s *Store) ListAttemptsByRequest(requestID string) ([]*Attempt, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, request_id, operation, provider, outcome,
		       duration_ms, is_fallback, error_message, error_category
		FROM attempts
		WHERE request_id = ?
		ORDER BY id ASC`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts by request: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var fallbackInt int
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.RequestID, &a.Operation, &a.Provider,
			&a.Outcome, &a.DurationMs, &fallbackInt, &a.ErrorMessage,
			&a.ErrorCategory,
		); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		a.IsFallback = fallbackInt != 0
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: attempt rows: %w", err)
	}
	return attempts, nil
}

// Prune removes attempts older than retentionDays and returns the number
// of rows deleted.
func (s *Store) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := s.writer.Exec("DELETE FROM attempts WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune rows affected: %w", err)
	}
	return n, nil
}

// Sink adapts the store to the failover attempt-event sink. Insert errors
// are reported through onErr, since the executor has nowhere to return them.
func (s *Store) Sink(onErr func(error)) failover.Sink {
	return failover.SinkFunc(func(ev failover.AttemptEvent) {
		a := &Attempt{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			RequestID:  ev.RequestID,
			Operation:  ev.Operation,
			Provider:   ev.Provider,
			Outcome:    ev.Outcome,
			DurationMs: ev.Duration.Milliseconds(),
			IsFallback: ev.IsFallback,
		}
		if ev.Err != nil {
			a.ErrorMessage = ev.Err.Error()
			a.ErrorCategory = string(errclass.Classify(ev.Err))
		}
		if err := s.InsertAttempt(a); err != nil && onErr != nil {
			onErr(err)
		}
	})
}
