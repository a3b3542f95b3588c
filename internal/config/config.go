package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/audioworks/voiceman/internal/provider"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for voiceman.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"    toml:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers" toml:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing"   toml:"routing"`
	Discovery DiscoveryConfig           `mapstructure:"discovery" toml:"discovery"`
	Speech    SpeechConfig              `mapstructure:"speech"    toml:"speech"`
}

// ServerConfig holds the daemon and status API settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	APIPort      int    `mapstructure:"api_port"      toml:"api_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
}

// ProviderConfig describes a single voice provider.
type ProviderConfig struct {
	Name      string   `mapstructure:"name"       toml:"name"`
	Kind      string   `mapstructure:"kind"       toml:"kind"` // "tts", "stt", or "tts_stt"
	Endpoint  string   `mapstructure:"endpoint"   toml:"endpoint"`
	KeyRef    string   `mapstructure:"key_ref"    toml:"key_ref"`
	Priority  int      `mapstructure:"priority"   toml:"priority"`
	IsLocal   bool     `mapstructure:"is_local"   toml:"is_local"`
	ProbePath string   `mapstructure:"probe_path" toml:"probe_path"`
	Models    []string `mapstructure:"models"     toml:"models"`
	Voices    []string `mapstructure:"voices"     toml:"voices"`
	Enabled   bool     `mapstructure:"enabled"    toml:"enabled"`
}

// RoutingConfig seeds the selection policy's sticky preferences.
type RoutingConfig struct {
	PreferredTTS string `mapstructure:"preferred_tts" toml:"preferred_tts"`
	PreferredSTT string `mapstructure:"preferred_stt" toml:"preferred_stt"`
}

// DiscoveryConfig controls health probing.
type DiscoveryConfig struct {
	ProbeTimeoutMs     int `mapstructure:"probe_timeout_ms"     toml:"probe_timeout_ms"`
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec" toml:"refresh_interval_sec"`
	StaleAfterSec      int `mapstructure:"stale_after_sec"      toml:"stale_after_sec"`
}

// ProbeTimeout returns the probe timeout as a time.Duration.
func (d DiscoveryConfig) ProbeTimeout() time.Duration {
	if d.ProbeTimeoutMs <= 0 {
		return DefaultProbeTimeoutMs * time.Millisecond
	}
	return time.Duration(d.ProbeTimeoutMs) * time.Millisecond
}

// RefreshInterval returns the periodic discovery interval.
func (d DiscoveryConfig) RefreshInterval() time.Duration {
	if d.RefreshIntervalSec <= 0 {
		return DefaultRefreshIntervalSec * time.Second
	}
	return time.Duration(d.RefreshIntervalSec) * time.Second
}

// StaleAfter returns how old a discovery cycle may be before a request
// triggers an on-demand refresh.
func (d DiscoveryConfig) StaleAfter() time.Duration {
	if d.StaleAfterSec <= 0 {
		return DefaultStaleAfterSec * time.Second
	}
	return time.Duration(d.StaleAfterSec) * time.Second
}

// SpeechConfig controls the operation layer.
type SpeechConfig struct {
	OperationTimeoutSec int    `mapstructure:"operation_timeout_sec" toml:"operation_timeout_sec"`
	DefaultVoice        string `mapstructure:"default_voice"         toml:"default_voice"`
	DefaultTTSModel     string `mapstructure:"default_tts_model"     toml:"default_tts_model"`
	DefaultSTTModel     string `mapstructure:"default_stt_model"     toml:"default_stt_model"`
	CacheEntries        int    `mapstructure:"cache_entries"         toml:"cache_entries"`
	CacheTTLSec         int    `mapstructure:"cache_ttl_sec"         toml:"cache_ttl_sec"`
}

// OperationTimeout returns the per-operation timeout.
func (s SpeechConfig) OperationTimeout() time.Duration {
	if s.OperationTimeoutSec <= 0 {
		return DefaultOperationTimeoutSec * time.Second
	}
	return time.Duration(s.OperationTimeoutSec) * time.Second
}

// ProviderSpecs converts the enabled provider entries into the discovery
// layer's specs, sorted implicitly by the registry later. Validation has
// already guaranteed the kind strings are well-formed.
func (c *Config) ProviderSpecs() []provider.Spec {
	specs := make([]provider.Spec, 0, len(c.Providers))
	for key, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		name := p.Name
		if name == "" {
			name = key
		}
		specs = append(specs, provider.Spec{
			Name:      name,
			Kind:      provider.Capability(p.Kind),
			Endpoint:  p.Endpoint,
			KeyRef:    p.KeyRef,
			Priority:  p.Priority,
			IsLocal:   p.IsLocal,
			ProbePath: p.ProbePath,
			Models:    p.Models,
			Voices:    p.Voices,
		})
	}
	return specs
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (VOICEMAN_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.voiceman/voiceman.toml
//  4. ./voiceman.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Register all defaults so env binding works for every key.
	setViperDefaults(v)

	v.SetEnvPrefix("VOICEMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".voiceman"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("voiceman")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = ExpandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.voiceman/voiceman.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".voiceman")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.api_port", d.Server.APIPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("routing.preferred_tts", d.Routing.PreferredTTS)
	v.SetDefault("routing.preferred_stt", d.Routing.PreferredSTT)

	v.SetDefault("discovery.probe_timeout_ms", d.Discovery.ProbeTimeoutMs)
	v.SetDefault("discovery.refresh_interval_sec", d.Discovery.RefreshIntervalSec)
	v.SetDefault("discovery.stale_after_sec", d.Discovery.StaleAfterSec)

	v.SetDefault("speech.operation_timeout_sec", d.Speech.OperationTimeoutSec)
	v.SetDefault("speech.default_voice", d.Speech.DefaultVoice)
	v.SetDefault("speech.default_tts_model", d.Speech.DefaultTTSModel)
	v.SetDefault("speech.default_stt_model", d.Speech.DefaultSTTModel)
	v.SetDefault("speech.cache_entries", d.Speech.CacheEntries)
	v.SetDefault("speech.cache_ttl_sec", d.Speech.CacheTTLSec)

	for name, p := range d.Providers {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"name", p.Name)
		v.SetDefault(prefix+"kind", p.Kind)
		v.SetDefault(prefix+"endpoint", p.Endpoint)
		v.SetDefault(prefix+"key_ref", p.KeyRef)
		v.SetDefault(prefix+"priority", p.Priority)
		v.SetDefault(prefix+"is_local", p.IsLocal)
		v.SetDefault(prefix+"probe_path", p.ProbePath)
		v.SetDefault(prefix+"models", p.Models)
		v.SetDefault(prefix+"voices", p.Voices)
		v.SetDefault(prefix+"enabled", p.Enabled)
	}
}
