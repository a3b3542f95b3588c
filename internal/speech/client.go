package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audioworks/voiceman/internal/provider"
)

// DefaultOpenAIBase is used for providers that carry a credential but no
// configurable endpoint.
const DefaultOpenAIBase = "https://api.openai.com"

// maxErrorBody caps how much of an upstream error body is echoed into an error.
const maxErrorBody = 2048

// KeySource resolves the API key for a provider by name. The vault satisfies
// this; local daemons that need no key simply resolve to an error, which the
// client treats as "no Authorization header".
type KeySource interface {
	Get(providerName string) (string, error)
}

// Client performs the actual TTS/STT calls against OpenAI-compatible
// endpoints. All configured providers (the OpenAI cloud API, kokoro-fastapi,
// local whisper servers) speak this dialect, so one client serves them all.
// It uses a shared http.Client with connection pooling.
type Client struct {
	client *http.Client
	keys   KeySource
}

// NewClient creates a Client with pooled transport defaults.
// keys may be nil for endpoints that require no authentication.
func NewClient(keys KeySource, timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		client: &http.Client{Transport: transport, Timeout: timeout},
		keys:   keys,
	}
}

// baseURL returns the provider's endpoint, falling back to the OpenAI API for
// credential-only records.
func baseURL(rec provider.Record) string {
	if rec.Endpoint != "" {
		return strings.TrimRight(rec.Endpoint, "/")
	}
	return DefaultOpenAIBase
}

// authorize attaches the provider's bearer token when one is available.
func (c *Client) authorize(req *http.Request, rec provider.Record) {
	if c.keys == nil {
		return
	}
	if key, err := c.keys.Get(rec.Name); err == nil && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// speechRequest is the OpenAI-compatible synthesis request body.
type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize converts text to audio via POST /v1/audio/speech and returns
// the raw audio bytes.
func (c *Client) Synthesize(ctx context.Context, rec provider.Record, model, voice, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding speech request: %w", err)
	}

	url := baseURL(rec) + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, rec)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(rec.Name, resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio from %s: %w", rec.Name, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("provider %s returned empty audio", rec.Name)
	}
	return audio, nil
}

// transcriptionResponse is the OpenAI-compatible transcription response body.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe converts audio to text via multipart POST /v1/audio/transcriptions.
func (c *Client) Transcribe(ctx context.Context, rec provider.Record, model, language, filename string, audio []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("building transcription form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio to form: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("writing language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalising transcription form: %w", err)
	}

	url := baseURL(rec) + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req, rec)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstreamError(rec.Name, resp)
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding transcription from %s: %w", rec.Name, err)
	}
	return tr.Text, nil
}

// upstreamError builds an error carrying the provider name, status, and a
// truncated error body so the failure classifier has something to match on.
func upstreamError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("provider %s returned %d: %s", name, resp.StatusCode, msg)
}
