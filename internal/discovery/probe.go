package discovery

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/provider"
)

// DefaultProbeTimeout bounds a single health probe. Discovery fans probes out
// concurrently, so this also bounds total discovery wall-clock time.
const DefaultProbeTimeout = 1 * time.Second

// maxProbeBody caps how much of a capability-listing response is read.
const maxProbeBody = 1 << 20

// CredentialSource answers whether the credential behind a key reference is
// present. The vault satisfies this; tests use a func adapter.
type CredentialSource interface {
	Present(keyRef string) bool
}

// CredentialFunc adapts a function to the CredentialSource interface.
type CredentialFunc func(keyRef string) bool

// Present calls f.
func (f CredentialFunc) Present(keyRef string) bool { return f(keyRef) }

// Prober performs bounded-time health and capability checks against a single
// provider. Probe never returns an error: every timeout, connection failure,
// or non-success status is converted into a Healthy=false record.
type Prober struct {
	client  *http.Client
	creds   CredentialSource
	timeout time.Duration
	log     zerolog.Logger
}

// NewProber creates a Prober with its own pooled HTTP client.
// creds may be nil, in which case credential-only providers never probe healthy.
func NewProber(creds CredentialSource, timeout time.Duration, logger zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	return &Prober{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		creds:   creds,
		timeout: timeout,
		log:     logger.With().Str("component", "discovery.prober").Logger(),
	}
}

// Probe checks one provider and returns a complete, fresh record.
//
// Credential-only providers (no endpoint) are healthy iff their credential is
// present; no network round trip is made for this class. Network providers are
// healthy iff one GET against the capability-listing path returns a success
// status within the probe timeout; the response body, when parseable, supplies
// the record's voices/models.
func (p *Prober) Probe(ctx context.Context, spec provider.Spec) provider.Record {
	rec := provider.Unprobed(spec)
	rec.LastProbedAt = time.Now()

	if spec.CredentialOnly() {
		if spec.KeyRef == "" || p.creds == nil || !p.creds.Present(spec.KeyRef) {
			p.log.Debug().Str("provider", spec.Name).Msg("credential missing, provider unhealthy")
			return rec
		}
		rec.Healthy = true
		rec.Models = append(rec.Models, spec.Models...)
		rec.Voices = append(rec.Voices, spec.Voices...)
		return rec
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := strings.TrimRight(spec.Endpoint, "/") + spec.ProbePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.Debug().Str("provider", spec.Name).Err(err).Msg("building probe request")
		return rec
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all fail-closed,
		// endpoint preserved so the next cycle can retry.
		p.log.Debug().Str("provider", spec.Name).Str("url", url).Err(err).Msg("probe failed")
		return rec
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.Debug().Str("provider", spec.Name).Int("status", resp.StatusCode).Msg("probe returned non-success status")
		return rec
	}

	rec.Healthy = true

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		// The status already said healthy; a truncated body only costs metadata.
		body = nil
	}

	names, wrapperKey := parseNameList(body, "voices", "models", "data")
	switch {
	case wrapperKey == "voices":
		rec.Voices = names
	case wrapperKey == "models" || wrapperKey == "data":
		rec.Models = names
	case spec.Kind.Supports(provider.TTS):
		rec.Voices = names
	default:
		rec.Models = names
	}
	if len(rec.Models) == 0 {
		rec.Models = append(rec.Models, spec.Models...)
	}
	if len(rec.Voices) == 0 {
		rec.Voices = append(rec.Voices, spec.Voices...)
	}

	return rec
}

// parseNameList extracts a list of names from a provider-defined capability
// response. Accepted shapes, all treated permissively:
//
//	["alloy", "echo"]
//	[{"id": "tts-1"}, {"name": "tts-1-hd"}]
//	{"voices": [...]} / {"models": [...]} / {"data": [...]}
//
// The second return value is the wrapper key that matched, or "" for a
// bare array; callers use it to tell a voice list from a model list when
// the provider supports both operations. Anything else yields an empty list.
func parseNameList(body []byte, keys ...string) ([]string, string) {
	if len(body) == 0 {
		return nil, ""
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ""
	}

	if names := decodeNames(raw); names != nil {
		return names, ""
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, ""
	}
	for _, key := range keys {
		if inner, ok := wrapper[key]; ok {
			if names := decodeNames(inner); names != nil {
				return names, key
			}
		}
	}
	return nil, ""
}

// decodeNames decodes a JSON array of strings or of objects carrying an
// "id" or "name" field. Returns nil if raw is not an array of either shape.
func decodeNames(raw json.RawMessage) []string {
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var objs []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}

	names := make([]string, 0, len(objs))
	for _, o := range objs {
		switch {
		case o.ID != "":
			names = append(names, o.ID)
		case o.Name != "":
			names = append(names, o.Name)
		}
	}
	return names
}
