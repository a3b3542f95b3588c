// Package speech is the operation layer: it turns "speak this text" and
// "transcribe this audio" requests into provider calls, routed through the
// selection policy and the failover executor.
package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/errclass"
	"github.com/audioworks/voiceman/internal/failover"
	"github.com/audioworks/voiceman/internal/provider"
	"github.com/audioworks/voiceman/internal/router"
)

// Operation names used in attempt events.
const (
	OpSpeak      = "tts.speak"
	OpTranscribe = "stt.transcribe"
)

// SpeakRequest asks for text to be synthesised to audio.
type SpeakRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"` // preferred provider name
}

// SpeakResult is a completed synthesis.
type SpeakResult struct {
	Audio          []byte `json:"-"`
	Provider       string `json:"provider"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
}

// TranscribeRequest asks for audio to be transcribed to text.
type TranscribeRequest struct {
	Audio    []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Provider string `json:"provider,omitempty"` // preferred provider name
}

// TranscribeResult is a completed transcription.
type TranscribeResult struct {
	Text           string `json:"text"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Engine composes the registry, selection policy, failover executor, and
// provider clients into the two public voice operations. One Engine serves
// the whole process; all methods are safe for concurrent use.
type Engine struct {
	registry *discovery.Registry
	selector *router.Selector
	exec     *failover.Executor
	client   *Client
	cache    *phraseCache

	staleAfter time.Duration
	opTimeout  time.Duration
	defaults   config.SpeechConfig
	log        zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	registry *discovery.Registry,
	selector *router.Selector,
	exec *failover.Executor,
	client *Client,
	cfg config.SpeechConfig,
	staleAfter time.Duration,
	logger zerolog.Logger,
) (*Engine, error) {
	cache, err := newPhraseCache(cfg.CacheEntries, time.Duration(cfg.CacheTTLSec)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("creating phrase cache: %w", err)
	}

	return &Engine{
		registry:   registry,
		selector:   selector,
		exec:       exec,
		client:     client,
		cache:      cache,
		staleAfter: staleAfter,
		opTimeout:  cfg.OperationTimeout(),
		defaults:   cfg,
		log:        logger.With().Str("component", "speech.engine").Logger(),
	}, nil
}

// Speak synthesises text to audio, failing over between providers as needed.
func (e *Engine) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("speak: text must not be empty")
	}

	e.registry.RefreshIfStale(ctx, e.staleAfter)

	plan, err := e.selector.Select(provider.TTS, req.Provider)
	if err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = e.defaults.DefaultVoice
	}
	model := req.Model
	if model == "" {
		model = e.defaults.DefaultTTSModel
	}

	key := cacheKey(model, voice, req.Text)
	if audio, cachedBy := e.cache.get(key); audio != nil {
		return &SpeakResult{Audio: audio, Provider: cachedBy, Voice: voice, Model: model, Cached: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	result, err := failover.Execute(ctx, e.exec, OpSpeak, plan.Primary, plan.Secondary,
		func(ctx context.Context, call failover.Call) (*SpeakResult, error) {
			rec := call.Provider
			callVoice := voiceFor(rec, voice)
			callModel := modelFor(rec, model)

			audio, err := e.client.Synthesize(ctx, rec, callModel, callVoice, req.Text)
			if err != nil {
				return nil, err
			}
			return &SpeakResult{
				Audio:          audio,
				Provider:       rec.Name,
				Voice:          callVoice,
				Model:          callModel,
				Fallback:       call.IsFallback,
				FallbackReason: call.FallbackReason,
			}, nil
		})
	if err != nil {
		e.log.Error().
			Err(err).
			Str("category", string(errclass.Classify(err))).
			Str("primary", plan.Primary.Name).
			Msg("speak failed")
		return nil, err
	}

	e.cache.put(key, result.Audio, result.Provider)
	return result, nil
}

// Transcribe converts audio to text, failing over between providers as needed.
func (e *Engine) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("transcribe: audio must not be empty")
	}

	e.registry.RefreshIfStale(ctx, e.staleAfter)

	plan, err := e.selector.Select(provider.STT, req.Provider)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = e.defaults.DefaultSTTModel
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	result, err := failover.Execute(ctx, e.exec, OpTranscribe, plan.Primary, plan.Secondary,
		func(ctx context.Context, call failover.Call) (*TranscribeResult, error) {
			rec := call.Provider
			callModel := modelFor(rec, model)

			text, err := e.client.Transcribe(ctx, rec, callModel, req.Language, filename, req.Audio)
			if err != nil {
				return nil, err
			}
			return &TranscribeResult{
				Text:           text,
				Provider:       rec.Name,
				Model:          callModel,
				Fallback:       call.IsFallback,
				FallbackReason: call.FallbackReason,
			}, nil
		})
	if err != nil {
		e.log.Error().
			Err(err).
			Str("category", string(errclass.Classify(err))).
			Str("primary", plan.Primary.Name).
			Msg("transcribe failed")
		return nil, err
	}

	return result, nil
}

// voiceFor maps the requested voice onto one the provider actually offers.
// An empty voice list means the provider was probed without metadata; the
// request passes through unchanged and the provider decides.
func voiceFor(rec provider.Record, requested string) string {
	if len(rec.Voices) == 0 {
		return requested
	}
	for _, v := range rec.Voices {
		if v == requested {
			return requested
		}
	}
	return rec.Voices[0]
}

// modelFor maps the requested model onto one the provider actually offers.
func modelFor(rec provider.Record, requested string) string {
	if len(rec.Models) == 0 {
		return requested
	}
	for _, m := range rec.Models {
		if m == requested {
			return requested
		}
	}
	return rec.Models[0]
}
