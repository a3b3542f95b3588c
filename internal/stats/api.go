package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/errclass"
	"github.com/audioworks/voiceman/internal/provider"
	"github.com/audioworks/voiceman/internal/router"
	"github.com/audioworks/voiceman/internal/speech"
	"github.com/audioworks/voiceman/internal/store"
)

// StatusServer serves the JSON status API, the voice operation endpoints,
// and the Prometheus metrics endpoint.
type StatusServer struct {
	mux       chi.Router
	collector *Collector
	registry  *discovery.Registry
	selector  *router.Selector
	engine    *speech.Engine
	store     *store.Store
	addr      string
	server    *http.Server
}

// NewStatusServer creates a StatusServer wired to the given components.
// st may be nil, in which case /api/attempts serves an empty list. The
// listen address and HTTP timeouts come from srvCfg; zero timeouts fall
// back to the config defaults.
func NewStatusServer(
	collector *Collector,
	registry *discovery.Registry,
	selector *router.Selector,
	engine *speech.Engine,
	st *store.Store,
	srvCfg config.ServerConfig,
) *StatusServer {
	s := &StatusServer{
		collector: collector,
		registry:  registry,
		selector:  selector,
		engine:    engine,
		store:     st,
		addr:      fmt.Sprintf("%s:%d", srvCfg.BindAddress, srvCfg.APIPort),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/providers", s.handleProviders)
	r.Post("/api/providers/refresh", s.handleRefresh)
	r.Get("/api/preferred", s.handleGetPreferred)
	r.Post("/api/preferred", s.handleSetPreferred)
	r.Get("/api/attempts", s.handleAttempts)

	r.Post("/api/speak", s.handleSpeak)
	r.Post("/api/transcribe", s.handleTranscribe)

	r.Get("/metrics", PrometheusHandler(collector, registry))

	s.mux = r
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  timeoutSeconds(srvCfg.ReadTimeout, config.DefaultReadTimeout),
		WriteTimeout: timeoutSeconds(srvCfg.WriteTimeout, config.DefaultWriteTimeout),
		IdleTimeout:  timeoutSeconds(srvCfg.IdleTimeout, config.DefaultIdleTimeout),
	}
	return s
}

// timeoutSeconds converts a configured timeout in seconds to a duration,
// substituting fallback when the value is unset.
func timeoutSeconds(sec, fallback int) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec) * time.Second
}

// Handler returns the underlying router, mainly for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.mux
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *StatusServer) Start() error {
	log.Info().Str("addr", s.addr).Msg("status server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Stats())
}

// handleProviders returns every known provider record, healthy or not,
// in selection order.
func (s *StatusServer) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":    s.registry.Snapshot(),
		"last_refresh": s.registry.LastRefresh(),
	})
}

// handleRefresh re-probes every provider and returns the updated records.
func (s *StatusServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.registry.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":    s.registry.Snapshot(),
		"last_refresh": s.registry.LastRefresh(),
	})
}

func (s *StatusServer) handleGetPreferred(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"tts": s.selector.Preferred(provider.TTS),
		"stt": s.selector.Preferred(provider.STT),
	})
}

// handleSetPreferred pins (or, with an empty provider, unpins) the preferred
// provider for an operation kind.
func (s *StatusServer) handleSetPreferred(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operation string `json:"operation"`
		Provider  string `json:"provider"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	op := provider.Capability(body.Operation)
	if op != provider.TTS && op != provider.STT {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation must be tts or stt"})
		return
	}

	if err := s.selector.SetPreferred(op, body.Provider); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"operation": body.Operation,
		"provider":  s.selector.Preferred(op),
	})
}

// handleAttempts returns a paginated list of persisted attempts.
func (s *StatusServer) handleAttempts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	attempts := []*store.Attempt{}
	if s.store != nil {
		rows, err := s.store.ListAttempts(limit, (page-1)*limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to list attempts")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
			return
		}
		if rows != nil {
			attempts = rows
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"limit":    limit,
		"attempts": attempts,
	})
}

// handleSpeak synthesises text and returns the raw audio. Routing metadata
// travels in response headers so the body stays a plain audio stream.
func (s *StatusServer) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speech.SpeakRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	res, err := s.engine.Speak(r.Context(), req)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("X-Voiceman-Provider", res.Provider)
	w.Header().Set("X-Voiceman-Voice", res.Voice)
	if res.Fallback {
		w.Header().Set("X-Voiceman-Fallback", "true")
		w.Header().Set("X-Voiceman-Fallback-Reason", res.FallbackReason)
	}
	if res.Cached {
		w.Header().Set("X-Voiceman-Cached", "true")
	}
	w.Write(res.Audio)
}

// handleTranscribe accepts a multipart form with a "file" part plus optional
// model, language, and provider fields, and returns the transcription.
func (s *StatusServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read audio"})
		return
	}

	res, err := s.engine.Transcribe(r.Context(), speech.TranscribeRequest{
		Audio:    audio,
		Filename: hdr.Filename,
		Model:    r.FormValue("model"),
		Language: r.FormValue("language"),
		Provider: r.FormValue("provider"),
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// writeOperationError maps a failed voice operation onto a JSON error body
// carrying the error category and remediation advice.
func writeOperationError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, router.ErrNoProviderConfigured) {
		status = http.StatusServiceUnavailable
	}
	category := errclass.Classify(err)
	writeJSON(w, status, map[string]string{
		"error":    err.Error(),
		"category": string(category),
		"advice":   errclass.Advice(category),
	})
}

// writeJSON serialises v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
