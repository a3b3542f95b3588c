package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.APIPort < 1 || cfg.Server.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.api_port must be between 1 and 65535, got %d", cfg.Server.APIPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}

	for name, p := range cfg.Providers {
		if !isValidEnum(p.Kind, ValidProviderKinds) {
			errs = append(errs, fmt.Sprintf("providers.%s.kind must be one of %v, got %q", name, ValidProviderKinds, p.Kind))
		}
		if p.Endpoint == "" && p.KeyRef == "" {
			// A provider with neither an endpoint nor a credential can
			// never become healthy; reject it at load time.
			errs = append(errs, fmt.Sprintf("providers.%s must set endpoint or key_ref", name))
		}
		if p.Endpoint != "" && !strings.HasPrefix(p.Endpoint, "http://") && !strings.HasPrefix(p.Endpoint, "https://") {
			errs = append(errs, fmt.Sprintf("providers.%s.endpoint must be an http(s) URL, got %q", name, p.Endpoint))
		}
		if p.Priority < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.priority must be non-negative, got %d", name, p.Priority))
		}
		if p.ProbePath != "" && !strings.HasPrefix(p.ProbePath, "/") {
			errs = append(errs, fmt.Sprintf("providers.%s.probe_path must start with '/', got %q", name, p.ProbePath))
		}
	}

	if cfg.Routing.PreferredTTS != "" {
		if _, ok := cfg.Providers[cfg.Routing.PreferredTTS]; !ok {
			errs = append(errs, fmt.Sprintf("routing.preferred_tts %q is not a configured provider", cfg.Routing.PreferredTTS))
		}
	}
	if cfg.Routing.PreferredSTT != "" {
		if _, ok := cfg.Providers[cfg.Routing.PreferredSTT]; !ok {
			errs = append(errs, fmt.Sprintf("routing.preferred_stt %q is not a configured provider", cfg.Routing.PreferredSTT))
		}
	}

	if cfg.Discovery.ProbeTimeoutMs < 0 {
		errs = append(errs, fmt.Sprintf("discovery.probe_timeout_ms must be non-negative, got %d", cfg.Discovery.ProbeTimeoutMs))
	}
	if cfg.Discovery.RefreshIntervalSec < 0 {
		errs = append(errs, fmt.Sprintf("discovery.refresh_interval_sec must be non-negative, got %d", cfg.Discovery.RefreshIntervalSec))
	}
	if cfg.Discovery.StaleAfterSec < 0 {
		errs = append(errs, fmt.Sprintf("discovery.stale_after_sec must be non-negative, got %d", cfg.Discovery.StaleAfterSec))
	}

	if cfg.Speech.OperationTimeoutSec < 0 {
		errs = append(errs, fmt.Sprintf("speech.operation_timeout_sec must be non-negative, got %d", cfg.Speech.OperationTimeoutSec))
	}
	if cfg.Speech.CacheEntries < 0 {
		errs = append(errs, fmt.Sprintf("speech.cache_entries must be non-negative, got %d", cfg.Speech.CacheEntries))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether val is one of the allowed values.
func isValidEnum(val string, allowed []string) bool {
	for _, a := range allowed {
		if val == a {
			return true
		}
	}
	return false
}
