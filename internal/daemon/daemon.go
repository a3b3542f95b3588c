// Package daemon orchestrates the voiceman process: logging, pidfile,
// store, discovery registry, selection policy, failover executor, speech
// engine, periodic refresh, config hot-reload, and the status API server.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/discovery"
	"github.com/audioworks/voiceman/internal/failover"
	"github.com/audioworks/voiceman/internal/provider"
	"github.com/audioworks/voiceman/internal/router"
	"github.com/audioworks/voiceman/internal/speech"
	"github.com/audioworks/voiceman/internal/stats"
	"github.com/audioworks/voiceman/internal/store"
	"github.com/audioworks/voiceman/internal/vault"
	"github.com/audioworks/voiceman/internal/version"
)

// attemptRetentionDays bounds how long attempt history is kept.
const attemptRetentionDays = 30

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the status server, and blocks until a shutdown signal arrives.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up the global zerolog logger.
	dataDir := config.ExpandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "voiceman.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "voiceman").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("voiceman starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("voiceman is already running (PID file exists at %s)", pidPath(dataDir))
	}

	// 3. Open the attempt store.
	dbPath := filepath.Join(dataDir, "voiceman.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 5. Wire the discovery/routing/failover stack.
	vlt := vault.New()
	prober := discovery.NewProber(vlt, cfg.Discovery.ProbeTimeout(), log.Logger)
	registry := discovery.NewRegistry(prober, cfg.ProviderSpecs(), log.Logger)
	selector := router.NewSelector(registry)
	applyPreferences(selector, cfg)

	collector := stats.NewCollector()
	sink := failover.MultiSink(collector, st.Sink(func(err error) {
		log.Error().Err(err).Msg("failed to persist attempt")
	}))
	executor := failover.NewExecutor(sink, log.Logger)

	client := speech.NewClient(vlt, cfg.Speech.OperationTimeout())
	engine, err := speech.NewEngine(registry, selector, executor, client,
		cfg.Speech, cfg.Discovery.StaleAfter(), log.Logger)
	if err != nil {
		return fmt.Errorf("creating speech engine: %w", err)
	}

	// 6. Initial discovery pass. Providers that are down simply stay
	// unhealthy; startup never blocks on an unreachable backend.
	refreshCtx, refreshCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry.Refresh(refreshCtx)
	refreshCancel()
	logDiscovery(registry)

	// 7. Background goroutines: periodic refresh and attempt pruning.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	refresherDone := make(chan struct{})
	go func() {
		defer close(refresherDone)
		runRefresher(bgCtx, registry, cfg.Discovery.RefreshInterval())
	}()

	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(bgCtx, st)
	}()

	// 8. Config watcher for hot-reload of log level and preferences.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(_, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				applyPreferences(selector, newCfg)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				registry.Refresh(ctx)
				cancel()
				logDiscovery(registry)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 9. Start the status server.
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	api := stats.NewStatusServer(collector, registry, selector, engine, st, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		if err := api.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info().Str("addr", apiAddr).Msg("voiceman is ready")
	if foreground {
		fmt.Printf("\n  voiceman is running!\n")
		fmt.Printf("  API: http://%s\n\n", apiAddr)
	}

	// 10. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 11. Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown error")
	}

	bgCancel()
	<-refresherDone
	<-prunerDone
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("voiceman stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := config.ExpandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("voiceman does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("voiceman is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to voiceman (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a provider and
// throughput summary fetched from the status API.
func Status() error {
	cfg := config.Get()
	dataDir := config.ExpandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("voiceman is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("voiceman is running (PID %d)\n", pid)

	base := fmt.Sprintf("http://%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	client := &http.Client{Timeout: 3 * time.Second}

	var providers struct {
		Providers []provider.Record `json:"providers"`
	}
	if err := fetchJSON(client, base+"/api/providers", &providers); err != nil {
		fmt.Println("  (status API unreachable)")
		return nil
	}

	fmt.Printf("\n  %-12s %-8s %-8s %-6s %s\n", "PROVIDER", "KIND", "HEALTHY", "LOCAL", "ENDPOINT")
	for _, p := range providers.Providers {
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = "(credential only)"
		}
		fmt.Printf("  %-12s %-8s %-8v %-6v %s\n", p.Name, p.Kind, p.Healthy, p.IsLocal, endpoint)
	}

	var s stats.Stats
	if err := fetchJSON(client, base+"/api/stats", &s); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:       %s\n", s.Uptime)
	fmt.Printf("  Attempts:     %d (%d ok / %d failed)\n", s.TotalAttempts, s.Successes, s.Failures)
	fmt.Printf("  Fallbacks:    %d\n", s.Fallbacks)
	fmt.Printf("  Success Rate: %.1f%%\n", s.SuccessRate)
	fmt.Printf("  Avg Latency:  %.0fms\n", s.AvgLatencyMs)

	return nil
}

// applyPreferences seeds the selector's sticky preferences from config.
// Invalid names are logged and skipped rather than failing startup.
func applyPreferences(selector *router.Selector, cfg *config.Config) {
	if err := selector.SetPreferred(provider.TTS, cfg.Routing.PreferredTTS); err != nil {
		log.Warn().Err(err).Str("provider", cfg.Routing.PreferredTTS).Msg("ignoring preferred TTS provider")
	}
	if err := selector.SetPreferred(provider.STT, cfg.Routing.PreferredSTT); err != nil {
		log.Warn().Err(err).Str("provider", cfg.Routing.PreferredSTT).Msg("ignoring preferred STT provider")
	}
}

// logDiscovery writes one summary line for the latest discovery pass.
func logDiscovery(registry *discovery.Registry) {
	records := registry.Snapshot()
	healthy := 0
	for _, r := range records {
		if r.Healthy {
			healthy++
		}
	}
	log.Info().Int("providers", len(records)).Int("healthy", healthy).Msg("discovery pass complete")
}

// runRefresher re-probes all providers on a fixed interval.
func runRefresher(ctx context.Context, registry *discovery.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Refresh(ctx)
			logDiscovery(registry)
		}
	}
}

// runPruner periodically deletes old attempt rows.
func runPruner(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.Prune(attemptRetentionDays)
			if err != nil {
				log.Error().Err(err).Msg("attempt pruning failed")
			} else if n > 0 {
				log.Info().Int64("rows", n).Msg("pruned old attempts")
			}
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func fetchJSON(client *http.Client, url string, into any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(into)
}
