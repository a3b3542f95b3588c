package provider

import (
	"time"
)

// Capability describes the operation kinds a voice provider supports.
type Capability string

const (
	// TTS is text-to-speech synthesis.
	TTS Capability = "tts"
	// STT is speech-to-text transcription.
	STT Capability = "stt"
	// TTSAndSTT marks a provider that serves both operation kinds.
	TTSAndSTT Capability = "tts_stt"
)

// Valid returns true if c is one of the known capability values.
func (c Capability) Valid() bool {
	switch c {
	case TTS, STT, TTSAndSTT:
		return true
	default:
		return false
	}
}

// Supports returns true if a provider with capability c can serve the
// requested operation kind. A tts_stt provider matches either.
func (c Capability) Supports(op Capability) bool {
	if c == TTSAndSTT {
		return op == TTS || op == STT || op == TTSAndSTT
	}
	return c == op
}

// Spec is the static, configuration-derived description of a potential
// provider. Specs are enumerated once at startup; the live health and
// capability metadata for a spec is carried by a Record.
type Spec struct {
	Name     string     `json:"name"`
	Kind     Capability `json:"kind"`
	Endpoint string     `json:"endpoint,omitempty"` // empty for credential-only providers
	KeyRef   string     `json:"key_ref,omitempty"`
	Priority int        `json:"priority"`
	IsLocal  bool       `json:"is_local"`

	// ProbePath is the capability-listing path probed against Endpoint,
	// e.g. "/v1/voices" or "/v1/models".
	ProbePath string `json:"probe_path,omitempty"`

	// Models and Voices seed the record's capability metadata for providers
	// whose probe is a pure credential check and returns no body.
	Models []string `json:"models,omitempty"`
	Voices []string `json:"voices,omitempty"`
}

// CredentialOnly reports whether this spec is probed by checking for a
// credential rather than by a network round trip.
func (s Spec) CredentialOnly() bool {
	return s.Endpoint == ""
}

// Record is the identity and live status of one backend. Records are built
// whole by a probe and replaced atomically in the registry; an offline
// provider is represented as Healthy=false, never as absence.
type Record struct {
	Name         string     `json:"name"`
	Kind         Capability `json:"kind"`
	Endpoint     string     `json:"endpoint,omitempty"`
	IsLocal      bool       `json:"is_local"`
	Priority     int        `json:"priority"`
	Healthy      bool       `json:"healthy"`
	Models       []string   `json:"models,omitempty"`
	Voices       []string   `json:"voices,omitempty"`
	LastProbedAt time.Time  `json:"last_probed_at,omitzero"`
}

// Unprobed returns the fail-closed record for a spec that has not yet been
// probed: identity fields populated, Healthy=false, no capability metadata.
func Unprobed(s Spec) Record {
	return Record{
		Name:     s.Name,
		Kind:     s.Kind,
		Endpoint: s.Endpoint,
		IsLocal:  s.IsLocal,
		Priority: s.Priority,
	}
}
