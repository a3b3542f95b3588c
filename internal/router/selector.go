// Package router decides which provider serves a given voice operation.
// Selection is a pure function of the current registry state plus an
// optional caller preference; it performs no network calls and never
// mutates the registry.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/provider"
)

// ErrNoProviderConfigured is returned when zero providers exist for the
// requested operation kind, healthy or not. This is fatal to the request.
var ErrNoProviderConfigured = errors.New("no provider configured for operation")

// Plan is the outcome of a selection: the provider to try first and,
// when one exists, the fallback to try on failure. A nil Secondary is the
// distinct "no fallback available" signal; it is not an error, and the
// executor runs in single-attempt mode.
type Plan struct {
	Primary   provider.Record
	Secondary *provider.Record
}

// HasFallback reports whether the plan includes a secondary provider.
func (p Plan) HasFallback() bool { return p.Secondary != nil }

// Selector picks primary/secondary provider pairs from registry state.
// It also carries the sticky per-operation preferred provider that the
// CLI and HTTP surfaces can set at runtime.
type Selector struct {
	reg *discovery.Registry

	mu        sync.RWMutex
	preferred map[provider.Capability]string
}

// NewSelector creates a Selector over the given registry.
func NewSelector(reg *discovery.Registry) *Selector {
	return &Selector{
		reg:       reg,
		preferred: make(map[provider.Capability]string),
	}
}

// SetPreferred records a sticky preferred provider for an operation kind.
// The provider must be known to the registry and capability-matching;
// an empty name clears the preference.
func (s *Selector) SetPreferred(op provider.Capability, name string) error {
	if name != "" {
		rec, ok := s.reg.Get(name)
		if !ok {
			return fmt.Errorf("unknown provider %q", name)
		}
		if !rec.Kind.Supports(op) {
			return fmt.Errorf("provider %q does not support %s", name, op)
		}
	}

	s.mu.Lock()
	if name == "" {
		delete(s.preferred, op)
	} else {
		s.preferred[op] = name
	}
	s.mu.Unlock()
	return nil
}

// Preferred returns the sticky preferred provider for an operation kind,
// or "" if none is set.
func (s *Selector) Preferred(op provider.Capability) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferred[op]
}

// Select picks the primary and secondary providers for the requested
// operation kind.
//
// The preferred name (the explicit argument, falling back to the sticky
// preference) wins only when that provider is known, healthy, and
// capability-matching. Otherwise the first healthy candidate in registry
// order (local-first, then priority, then name) becomes primary. When no
// healthy candidate exists the choice falls back to all known candidates:
// health state can be stale, and attempting an unhealthy-but-configured
// provider beats refusing outright.
//
// The secondary is the best-ordered candidate of the opposite locality to
// the primary, so a failed local provider fails over to the cloud and vice
// versa. When no such alternative exists the plan has no fallback.
func (s *Selector) Select(op provider.Capability, preferredName string) (Plan, error) {
	if preferredName == "" {
		preferredName = s.Preferred(op)
	}

	healthy := s.reg.Query(op, true)
	all := s.reg.Query(op, false)
	if len(all) == 0 {
		return Plan{}, fmt.Errorf("%w: %s", ErrNoProviderConfigured, op)
	}

	// Candidate order: healthy first (in registry order), then the
	// remaining known-but-unhealthy providers.
	candidates := make([]provider.Record, 0, len(all))
	candidates = append(candidates, healthy...)
	for _, rec := range all {
		if !rec.Healthy {
			candidates = append(candidates, rec)
		}
	}

	primary := candidates[0]
	if preferredName != "" {
		if rec, ok := s.reg.Get(preferredName); ok && rec.Healthy && rec.Kind.Supports(op) {
			primary = rec
		}
	}

	for _, rec := range candidates {
		if rec.Name == primary.Name {
			continue
		}
		if rec.IsLocal != primary.IsLocal {
			alt := rec
			return Plan{Primary: primary, Secondary: &alt}, nil
		}
	}

	return Plan{Primary: primary}, nil
}
