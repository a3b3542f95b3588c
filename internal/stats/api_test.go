package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/failover"
	"github.com/audioworks/voiceman/internal/provider"
	"github.com/audioworks/voiceman/internal/router"
	"github.com/audioworks/voiceman/internal/speech"
	"github.com/audioworks/voiceman/internal/store"
	"github.com/audioworks/voiceman/internal/testutil"
)

type staticKeys map[string]string

func (k staticKeys) Get(name string) (string, error) {
	if key, ok := k[name]; ok {
		return key, nil
	}
	return "", fmt.Errorf("no key for %s", name)
}

// newTestServer builds a full status server over two fake OpenAI-compatible
// providers: a local one named kokoro and a cloud one named openai.
func newTestServer(t *testing.T) (*httptest.Server, *Collector, *store.Store) {
	t.Helper()

	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/audio/speech":
			w.Write([]byte("audio-bytes"))
		case "/v1/audio/transcriptions":
			json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	local := httptest.NewServer(backend)
	t.Cleanup(local.Close)
	cloud := httptest.NewServer(backend)
	t.Cleanup(cloud.Close)

	specs := []provider.Spec{
		{Name: "kokoro", Kind: provider.TTS, Endpoint: local.URL, Priority: 10, IsLocal: true, ProbePath: "/", Voices: []string{"af_sky"}},
		{Name: "openai", Kind: provider.TTSAndSTT, Endpoint: cloud.URL, Priority: 100, ProbePath: "/", Models: []string{"tts-1", "whisper-1"}, Voices: []string{"alloy"}},
	}

	nop := zerolog.Nop()
	prober := discovery.NewProber(nil, time.Second, nop)
	reg := discovery.NewRegistry(prober, specs, nop)
	reg.Refresh(t.Context())

	sel := router.NewSelector(reg)
	collector := NewCollector()

	st := testutil.NewTestStore(t)

	exec := failover.NewExecutor(failover.MultiSink(collector, st.Sink(nil)), nop)
	client := speech.NewClient(staticKeys{"openai": "sk-test"}, 5*time.Second)

	eng, err := speech.NewEngine(reg, sel, exec, client, config.SpeechConfig{
		OperationTimeoutSec: 5,
		DefaultVoice:        "af_sky",
		DefaultTTSModel:     "tts-1",
		DefaultSTTModel:     "whisper-1",
	}, time.Hour, nop)
	if err != nil {
		t.Fatalf("speech.NewEngine: %v", err)
	}

	api := NewStatusServer(collector, reg, sel, eng, st, config.ServerConfig{
		BindAddress: "127.0.0.1",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, collector, st
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body map[string]string
	resp := getJSON(t, srv.URL+"/api/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body struct {
		Providers []provider.Record `json:"providers"`
	}
	getJSON(t, srv.URL+"/api/providers", &body)
	if len(body.Providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(body.Providers))
	}
	// Selection order: local first.
	if body.Providers[0].Name != "kokoro" {
		t.Errorf("first provider = %q, want kokoro", body.Providers[0].Name)
	}
	for _, p := range body.Providers {
		if !p.Healthy {
			t.Errorf("provider %s unhealthy after refresh", p.Name)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/providers/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST refresh: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPreferredEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var prefs map[string]string
	getJSON(t, srv.URL+"/api/preferred", &prefs)
	if prefs["tts"] != "" || prefs["stt"] != "" {
		t.Errorf("initial preferences = %v, want empty", prefs)
	}

	body := strings.NewReader(`{"operation":"tts","provider":"openai"}`)
	resp, err := http.Post(srv.URL+"/api/preferred", "application/json", body)
	if err != nil {
		t.Fatalf("POST preferred: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	getJSON(t, srv.URL+"/api/preferred", &prefs)
	if prefs["tts"] != "openai" {
		t.Errorf("tts preference = %q, want openai", prefs["tts"])
	}

	// Unknown provider is rejected.
	resp, err = http.Post(srv.URL+"/api/preferred", "application/json",
		strings.NewReader(`{"operation":"tts","provider":"nope"}`))
	if err != nil {
		t.Fatalf("POST preferred: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// Bad operation is rejected.
	resp, err = http.Post(srv.URL+"/api/preferred", "application/json",
		strings.NewReader(`{"operation":"video","provider":"openai"}`))
	if err != nil {
		t.Fatalf("POST preferred: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSpeakEndpoint(t *testing.T) {
	srv, collector, st := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/speak", "application/json",
		strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST speak: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	audio, _ := io.ReadAll(resp.Body)
	if string(audio) != "audio-bytes" {
		t.Errorf("audio = %q", audio)
	}
	if got := resp.Header.Get("X-Voiceman-Provider"); got != "kokoro" {
		t.Errorf("provider header = %q, want kokoro", got)
	}
	if resp.Header.Get("X-Voiceman-Fallback") != "" {
		t.Error("fallback header set for a healthy primary")
	}

	// The attempt reached both sinks.
	if collector.Stats().TotalAttempts != 1 {
		t.Errorf("collector attempts = %d, want 1", collector.Stats().TotalAttempts)
	}
	rows, err := st.ListAttempts(10, 0)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(rows) != 1 || rows[0].Provider != "kokoro" {
		t.Errorf("stored attempts = %+v", rows)
	}
}

func TestSpeakEndpointBadJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/speak", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST speak: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("wavdata"))
	mw.WriteField("language", "en")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST transcribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var res speech.TranscribeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want hello", res.Text)
	}
	if res.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", res.Provider)
	}
}

func TestAttemptsEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t)

	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < 3; i++ {
		st.InsertAttempt(&store.Attempt{
			Timestamp: now, RequestID: "req", Operation: "tts.speak",
			Provider: "kokoro", Outcome: "success",
		})
	}

	var body struct {
		Attempts []*store.Attempt `json:"attempts"`
		Limit    int              `json:"limit"`
	}
	getJSON(t, srv.URL+"/api/attempts?limit=2", &body)
	if body.Limit != 2 {
		t.Errorf("limit = %d, want 2", body.Limit)
	}
	if len(body.Attempts) != 2 {
		t.Errorf("got %d attempts, want 2", len(body.Attempts))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, collector, _ := newTestServer(t)

	collector.RecordAttempt(failover.AttemptEvent{
		Provider: "kokoro", Operation: "tts.speak",
		Outcome: failover.OutcomeSuccess, Duration: 10 * time.Millisecond,
	})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"voiceman_attempts_total 1",
		"# TYPE voiceman_attempts_total counter",
		`voiceman_provider_attempts_total{outcome="success",provider="kokoro"} 1`,
		`voiceman_provider_healthy{kind="tts",provider="kokoro"} 1`,
		"voiceman_uptime_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusServerUsesConfiguredTimeouts(t *testing.T) {
	nop := zerolog.Nop()
	prober := discovery.NewProber(nil, time.Second, nop)
	reg := discovery.NewRegistry(prober, nil, nop)
	sel := router.NewSelector(reg)

	api := NewStatusServer(NewCollector(), reg, sel, nil, nil, config.ServerConfig{
		BindAddress:  "127.0.0.1",
		APIPort:      7711,
		ReadTimeout:  5,
		WriteTimeout: 200,
		IdleTimeout:  7,
	})

	if api.server.Addr != "127.0.0.1:7711" {
		t.Errorf("addr = %q, want 127.0.0.1:7711", api.server.Addr)
	}
	if api.server.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v, want 5s", api.server.ReadTimeout)
	}
	if api.server.WriteTimeout != 200*time.Second {
		t.Errorf("write timeout = %v, want 200s", api.server.WriteTimeout)
	}
	if api.server.IdleTimeout != 7*time.Second {
		t.Errorf("idle timeout = %v, want 7s", api.server.IdleTimeout)
	}
}

func TestStatusServerZeroTimeoutsUseDefaults(t *testing.T) {
	nop := zerolog.Nop()
	prober := discovery.NewProber(nil, time.Second, nop)
	reg := discovery.NewRegistry(prober, nil, nop)
	sel := router.NewSelector(reg)

	api := NewStatusServer(NewCollector(), reg, sel, nil, nil, config.ServerConfig{
		BindAddress: "127.0.0.1",
	})

	if want := config.DefaultReadTimeout * time.Second; api.server.ReadTimeout != want {
		t.Errorf("read timeout = %v, want %v", api.server.ReadTimeout, want)
	}
	if want := config.DefaultWriteTimeout * time.Second; api.server.WriteTimeout != want {
		t.Errorf("write timeout = %v, want %v", api.server.WriteTimeout, want)
	}
	if want := config.DefaultIdleTimeout * time.Second; api.server.IdleTimeout != want {
		t.Errorf("idle timeout = %v, want %v", api.server.IdleTimeout, want)
	}
}
