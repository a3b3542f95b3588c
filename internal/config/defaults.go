package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultAPIPort is the default port for the status/metrics API.
const DefaultAPIPort = 7711

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.voiceman"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "voiceman.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 30

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultProbeTimeoutMs is the default health probe timeout in milliseconds.
// Probes run concurrently, so this also bounds discovery wall-clock time.
const DefaultProbeTimeoutMs = 1000

// DefaultRefreshIntervalSec is the default periodic discovery interval.
const DefaultRefreshIntervalSec = 60

// DefaultStaleAfterSec is how old discovery results may be before a request
// triggers an on-demand refresh.
const DefaultStaleAfterSec = 120

// DefaultOperationTimeoutSec is the default timeout for one TTS/STT call.
const DefaultOperationTimeoutSec = 30

// DefaultCacheEntries is the default size of the synthesis phrase cache.
const DefaultCacheEntries = 256

// DefaultCacheTTLSec is the default TTL for cached synthesis results.
const DefaultCacheTTLSec = 600

// DefaultKokoroEndpoint is where a locally installed kokoro-fastapi listens.
const DefaultKokoroEndpoint = "http://127.0.0.1:8880"

// DefaultWhisperEndpoint is where a local whisper server listens.
const DefaultWhisperEndpoint = "http://127.0.0.1:2022"

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidProviderKinds lists the allowed provider kind values.
var ValidProviderKinds = []string{"tts", "stt", "tts_stt"}

// DefaultConfig returns a Config populated with all default values:
// the OpenAI cloud provider plus the two conventional local daemons.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			APIPort:      DefaultAPIPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Name:     "openai",
				Kind:     "tts_stt",
				KeyRef:   "keyring://voiceman/openai",
				Priority: 100,
				IsLocal:  false,
				Models:   []string{"tts-1", "tts-1-hd", "whisper-1"},
				Voices:   []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
				Enabled:  true,
			},
			"kokoro": {
				Name:      "kokoro",
				Kind:      "tts",
				Endpoint:  DefaultKokoroEndpoint,
				Priority:  10,
				IsLocal:   true,
				ProbePath: "/v1/voices",
				Models:    []string{"kokoro"},
				Enabled:   true,
			},
			"whisper": {
				Name:      "whisper",
				Kind:      "stt",
				Endpoint:  DefaultWhisperEndpoint,
				Priority:  10,
				IsLocal:   true,
				ProbePath: "/v1/models",
				Enabled:   true,
			},
		},
		Routing: RoutingConfig{
			PreferredTTS: "",
			PreferredSTT: "",
		},
		Discovery: DiscoveryConfig{
			ProbeTimeoutMs:     DefaultProbeTimeoutMs,
			RefreshIntervalSec: DefaultRefreshIntervalSec,
			StaleAfterSec:      DefaultStaleAfterSec,
		},
		Speech: SpeechConfig{
			OperationTimeoutSec: DefaultOperationTimeoutSec,
			DefaultVoice:        "alloy",
			DefaultTTSModel:     "tts-1",
			DefaultSTTModel:     "whisper-1",
			CacheEntries:        DefaultCacheEntries,
			CacheTTLSec:         DefaultCacheTTLSec,
		},
	}
}
