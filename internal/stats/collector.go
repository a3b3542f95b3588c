// Package stats keeps an in-memory, real-time view of attempt throughput,
// per-provider outcomes, fallback activity, and error categories. It feeds
// the JSON status API and the Prometheus endpoint.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audioworks/voiceman/internal/errclass"
	"github.com/audioworks/voiceman/internal/failover"
)

// Collector tracks live counters using atomics for the process-wide totals
// and a mutex-guarded map for per-provider and per-category breakdowns.
// It implements the failover attempt sink.
type Collector struct {
	totalAttempts  int64
	totalSuccesses int64
	totalFailures  int64
	totalFallbacks int64
	totalLatencyMs int64

	mu         sync.Mutex
	providers  map[string]*providerCounters
	categories map[errclass.Category]int64

	startTime time.Time
}

type providerCounters struct {
	attempts  int64
	successes int64
	failures  int64
	fallbacks int64
	latencyMs int64
}

// ProviderStats is a point-in-time per-provider snapshot.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	Fallbacks    int64   `json:"fallbacks"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats is a point-in-time snapshot of all counters, suitable for JSON
// serialisation on the status API.
type Stats struct {
	Uptime        string           `json:"uptime"`
	TotalAttempts int64            `json:"total_attempts"`
	Successes     int64            `json:"successes"`
	Failures      int64            `json:"failures"`
	Fallbacks     int64            `json:"fallbacks"`
	SuccessRate   float64          `json:"success_rate"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	Providers     []ProviderStats  `json:"providers"`
	ErrorCounts   map[string]int64 `json:"error_counts"`
}

// NewCollector creates a Collector with all counters at zero and the start
// time set to now.
func NewCollector() *Collector {
	return &Collector{
		providers:  make(map[string]*providerCounters),
		categories: make(map[errclass.Category]int64),
		startTime:  time.Now(),
	}
}

// RecordAttempt updates all counters from a completed provider attempt.
func (c *Collector) RecordAttempt(ev failover.AttemptEvent) {
	atomic.AddInt64(&c.totalAttempts, 1)
	atomic.AddInt64(&c.totalLatencyMs, ev.Duration.Milliseconds())
	if ev.Outcome == failover.OutcomeSuccess {
		atomic.AddInt64(&c.totalSuccesses, 1)
	} else {
		atomic.AddInt64(&c.totalFailures, 1)
	}
	if ev.IsFallback {
		atomic.AddInt64(&c.totalFallbacks, 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pc := c.providers[ev.Provider]
	if pc == nil {
		pc = &providerCounters{}
		c.providers[ev.Provider] = pc
	}
	pc.attempts++
	pc.latencyMs += ev.Duration.Milliseconds()
	if ev.Outcome == failover.OutcomeSuccess {
		pc.successes++
	} else {
		pc.failures++
	}
	if ev.IsFallback {
		pc.fallbacks++
	}

	if ev.Err != nil {
		c.categories[errclass.Classify(ev.Err)]++
	}
}

// Stats returns a point-in-time snapshot of all counters. Provider entries
// are sorted by name for stable output.
func (c *Collector) Stats() *Stats {
	total := atomic.LoadInt64(&c.totalAttempts)
	successes := atomic.LoadInt64(&c.totalSuccesses)
	latencyMs := atomic.LoadInt64(&c.totalLatencyMs)

	var successRate, avgLatency float64
	if total > 0 {
		successRate = float64(successes) / float64(total) * 100
		avgLatency = float64(latencyMs) / float64(total)
	}

	c.mu.Lock()
	providers := make([]ProviderStats, 0, len(c.providers))
	for name, pc := range c.providers {
		ps := ProviderStats{
			Provider:  name,
			Attempts:  pc.attempts,
			Successes: pc.successes,
			Failures:  pc.failures,
			Fallbacks: pc.fallbacks,
		}
		if pc.attempts > 0 {
			ps.SuccessRate = float64(pc.successes) / float64(pc.attempts) * 100
			ps.AvgLatencyMs = float64(pc.latencyMs) / float64(pc.attempts)
		}
		providers = append(providers, ps)
	}
	errorCounts := make(map[string]int64, len(c.categories))
	for cat, n := range c.categories {
		errorCounts[string(cat)] = n
	}
	c.mu.Unlock()

	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Provider < providers[j].Provider
	})

	return &Stats{
		Uptime:        formatDuration(time.Since(c.startTime)),
		TotalAttempts: total,
		Successes:     successes,
		Failures:      atomic.LoadInt64(&c.totalFailures),
		Fallbacks:     atomic.LoadInt64(&c.totalFallbacks),
		SuccessRate:   successRate,
		AvgLatencyMs:  avgLatency,
		Providers:     providers,
		ErrorCounts:   errorCounts,
	}
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// formatDuration produces a compact human-readable duration like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	s := ""
	if days > 0 {
		s = itoa(days) + "d"
	}
	if hours > 0 {
		if s != "" {
			s += " "
		}
		s += itoa(hours) + "h"
	}
	if minutes > 0 {
		if s != "" {
			s += " "
		}
		s += itoa(minutes) + "m"
	}
	if s == "" {
		return "0m"
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
