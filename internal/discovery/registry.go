package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/provider"
)

// Registry owns the set of known provider records. The set of potential
// providers is fixed at construction from configuration; a probe cycle
// updates each record in place and never removes one.
//
// The record map is the only shared mutable state in the discovery layer.
// Probes run without holding the lock; each completed record is published
// whole under the write lock, so readers never observe a partial update.
type Registry struct {
	mu      sync.RWMutex
	specs   []provider.Spec
	records map[string]provider.Record
	refresh time.Time

	prober *Prober
	log    zerolog.Logger
}

// NewRegistry creates a Registry seeded with fail-closed records for every
// spec: a provider that has never been probed reports Healthy=false.
func NewRegistry(prober *Prober, specs []provider.Spec, logger zerolog.Logger) *Registry {
	records := make(map[string]provider.Record, len(specs))
	for _, s := range specs {
		records[s.Name] = provider.Unprobed(s)
	}

	return &Registry{
		specs:   specs,
		records: records,
		prober:  prober,
		log:     logger.With().Str("component", "discovery.registry").Logger(),
	}
}

// Refresh probes every configured provider concurrently and replaces each
// record with the probe's result. It returns once all probes have completed
// or timed out, so total wall-clock is roughly one probe timeout. Safe to
// call repeatedly and from multiple goroutines.
func (r *Registry) Refresh(ctx context.Context) {
	r.mu.RLock()
	specs := r.specs
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec provider.Spec) {
			defer wg.Done()
			rec := r.prober.Probe(ctx, spec)
			r.publish(rec)
		}(spec)
	}
	wg.Wait()

	r.mu.Lock()
	r.refresh = time.Now()
	r.mu.Unlock()

	healthy := 0
	for _, rec := range r.Snapshot() {
		if rec.Healthy {
			healthy++
		}
	}
	r.log.Info().Int("providers", len(specs)).Int("healthy", healthy).Msg("discovery cycle complete")
}

// RefreshIfStale runs Refresh only if the last cycle finished more than
// maxAge ago (or never ran). It returns true if a refresh was performed.
func (r *Registry) RefreshIfStale(ctx context.Context, maxAge time.Duration) bool {
	r.mu.RLock()
	stale := r.refresh.IsZero() || time.Since(r.refresh) > maxAge
	r.mu.RUnlock()

	if !stale {
		return false
	}
	r.Refresh(ctx)
	return true
}

// publish atomically replaces one provider's record. The lock is acquired
// only here, after the probe's network I/O has finished.
func (r *Registry) publish(rec provider.Record) {
	r.mu.Lock()
	r.records[rec.Name] = rec
	r.mu.Unlock()
}

// Get returns the current record for a provider name.
func (r *Registry) Get(name string) (provider.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Query returns the providers able to serve the requested operation kind,
// optionally filtered to healthy ones, ordered by (not IsLocal, Priority,
// Name): local providers first, then ascending priority, then name for a
// deterministic order across runs.
func (r *Registry) Query(op provider.Capability, onlyHealthy bool) []provider.Record {
	r.mu.RLock()
	out := make([]provider.Record, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.Kind.Supports(op) {
			continue
		}
		if onlyHealthy && !rec.Healthy {
			continue
		}
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sortRecords(out)
	return out
}

// Snapshot returns a copy of all records regardless of capability or
// health, ordered as in Query.
func (r *Registry) Snapshot() []provider.Record {
	r.mu.RLock()
	out := make([]provider.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sortRecords(out)
	return out
}

// sortRecords orders records by (not IsLocal, Priority, Name).
func sortRecords(recs []provider.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].IsLocal != recs[j].IsLocal {
			return recs[i].IsLocal
		}
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].Name < recs[j].Name
	})
}

// LastRefresh returns when the last full discovery cycle completed,
// or the zero time if discovery has never run.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refresh
}
