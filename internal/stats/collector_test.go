package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audioworks/voiceman/internal/failover"
)

func TestCollectorRecordsAttempts(t *testing.T) {
	c := NewCollector()

	c.RecordAttempt(failover.AttemptEvent{
		Provider: "kokoro", Operation: "tts.speak",
		Outcome: failover.OutcomeFailure, Duration: 100 * time.Millisecond,
		Err: errors.New("connection refused"),
	})
	c.RecordAttempt(failover.AttemptEvent{
		Provider: "openai", Operation: "tts.speak",
		Outcome: failover.OutcomeSuccess, Duration: 300 * time.Millisecond,
		IsFallback: true,
	})
	c.RecordAttempt(failover.AttemptEvent{
		Provider: "kokoro", Operation: "tts.speak",
		Outcome: failover.OutcomeSuccess, Duration: 50 * time.Millisecond,
	})

	s := c.Stats()
	if s.TotalAttempts != 3 {
		t.Errorf("TotalAttempts = %d, want 3", s.TotalAttempts)
	}
	if s.Successes != 2 || s.Failures != 1 {
		t.Errorf("Successes/Failures = %d/%d, want 2/1", s.Successes, s.Failures)
	}
	if s.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", s.Fallbacks)
	}
	if s.AvgLatencyMs != 150 {
		t.Errorf("AvgLatencyMs = %g, want 150", s.AvgLatencyMs)
	}
	if s.ErrorCounts["network"] != 1 {
		t.Errorf("ErrorCounts = %v, want network:1", s.ErrorCounts)
	}

	if len(s.Providers) != 2 {
		t.Fatalf("Providers = %d entries, want 2", len(s.Providers))
	}
	// Sorted by name.
	if s.Providers[0].Provider != "kokoro" || s.Providers[1].Provider != "openai" {
		t.Errorf("provider order = %s, %s", s.Providers[0].Provider, s.Providers[1].Provider)
	}
	kokoro := s.Providers[0]
	if kokoro.Attempts != 2 || kokoro.Successes != 1 || kokoro.Failures != 1 {
		t.Errorf("kokoro counters = %+v", kokoro)
	}
	if kokoro.SuccessRate != 50 {
		t.Errorf("kokoro SuccessRate = %g, want 50", kokoro.SuccessRate)
	}
	if kokoro.AvgLatencyMs != 75 {
		t.Errorf("kokoro AvgLatencyMs = %g, want 75", kokoro.AvgLatencyMs)
	}
}

func TestCollectorEmpty(t *testing.T) {
	c := NewCollector()
	s := c.Stats()
	if s.TotalAttempts != 0 || s.SuccessRate != 0 || s.AvgLatencyMs != 0 {
		t.Errorf("empty stats = %+v", s)
	}
	if len(s.Providers) != 0 {
		t.Errorf("Providers = %v, want empty", s.Providers)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordAttempt(failover.AttemptEvent{
					Provider: "kokoro", Operation: "tts.speak",
					Outcome: failover.OutcomeSuccess, Duration: time.Millisecond,
				})
				_ = c.Stats()
			}
		}()
	}
	wg.Wait()

	s := c.Stats()
	if s.TotalAttempts != 800 {
		t.Errorf("TotalAttempts = %d, want 800", s.TotalAttempts)
	}
	if s.Providers[0].Attempts != 800 {
		t.Errorf("provider attempts = %d, want 800", s.Providers[0].Attempts)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
		{time.Minute, "1m"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
