package daemon

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/provider"
	"github.com/audioworks/voiceman/internal/router"
	"github.com/audioworks/voiceman/internal/testutil"
)

func newTestSelector(t *testing.T, cfg *config.Config) *router.Selector {
	t.Helper()
	prober := discovery.NewProber(nil, 100*time.Millisecond, zerolog.Nop())
	registry := discovery.NewRegistry(prober, cfg.ProviderSpecs(), zerolog.Nop())
	return router.NewSelector(registry)
}

func TestApplyPreferencesValid(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	selector := newTestSelector(t, cfg)

	cfg.Routing.PreferredTTS = "kokoro"
	cfg.Routing.PreferredSTT = "whisper"
	applyPreferences(selector, cfg)

	if got := selector.Preferred(provider.TTS); got != "kokoro" {
		t.Errorf("preferred TTS = %q, want kokoro", got)
	}
	if got := selector.Preferred(provider.STT); got != "whisper" {
		t.Errorf("preferred STT = %q, want whisper", got)
	}
}

func TestApplyPreferencesUnknownProviderSkipped(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	selector := newTestSelector(t, cfg)

	cfg.Routing.PreferredTTS = "nonexistent"
	applyPreferences(selector, cfg)

	if got := selector.Preferred(provider.TTS); got != "" {
		t.Errorf("preferred TTS = %q, want empty after invalid name", got)
	}
}

func TestApplyPreferencesCapabilityMismatchSkipped(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	selector := newTestSelector(t, cfg)

	// whisper is STT-only and must not become the TTS preference.
	cfg.Routing.PreferredTTS = "whisper"
	applyPreferences(selector, cfg)

	if got := selector.Preferred(provider.TTS); got != "" {
		t.Errorf("preferred TTS = %q, want empty after capability mismatch", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"  info  ", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
