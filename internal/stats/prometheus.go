package stats

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/audioworks/voiceman/internal/discovery"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). Metrics are formatted
// manually; the Prometheus client library is not required.
func PrometheusHandler(collector *Collector, registry *discovery.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "voiceman_attempts_total",
			"Total number of provider attempts.",
			"counter", stats.TotalAttempts)

		writeMetric(w, "voiceman_successes_total",
			"Total number of successful provider attempts.",
			"counter", stats.Successes)

		writeMetric(w, "voiceman_failures_total",
			"Total number of failed provider attempts.",
			"counter", stats.Failures)

		writeMetric(w, "voiceman_fallbacks_total",
			"Total number of attempts executed against a fallback provider.",
			"counter", stats.Fallbacks)

		writeMetricFloat(w, "voiceman_success_rate",
			"Percentage of attempts that succeeded.",
			"gauge", stats.SuccessRate)

		writeMetricFloat(w, "voiceman_attempt_latency_ms_avg",
			"Mean attempt latency in milliseconds.",
			"gauge", stats.AvgLatencyMs)

		writeMetricFloat(w, "voiceman_uptime_seconds",
			"Number of seconds since the daemon started.",
			"gauge", collector.Uptime().Seconds())

		writeProviderAttempts(w, stats.Providers)
		writeErrorCounts(w, stats.ErrorCounts)

		if registry != nil {
			writeProviderHealth(w, registry)
		}
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// formatLabels formats a label map as a Prometheus label string,
// e.g. {outcome="success",provider="kokoro"}.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func writeProviderAttempts(w http.ResponseWriter, providers []ProviderStats) {
	if len(providers) == 0 {
		return
	}
	name := "voiceman_provider_attempts_total"
	fmt.Fprintf(w, "# HELP %s Attempts per provider and outcome.\n", name)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, p := range providers {
		fmt.Fprintf(w, "%s%s %d\n", name,
			formatLabels(map[string]string{"provider": p.Provider, "outcome": "success"}), p.Successes)
		fmt.Fprintf(w, "%s%s %d\n", name,
			formatLabels(map[string]string{"provider": p.Provider, "outcome": "failure"}), p.Failures)
	}

	name = "voiceman_provider_fallbacks_total"
	fmt.Fprintf(w, "# HELP %s Fallback attempts per provider.\n", name)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, p := range providers {
		fmt.Fprintf(w, "%s%s %d\n", name,
			formatLabels(map[string]string{"provider": p.Provider}), p.Fallbacks)
	}
}

func writeErrorCounts(w http.ResponseWriter, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	name := "voiceman_errors_total"
	fmt.Fprintf(w, "# HELP %s Failed attempts by error category.\n", name)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, c := range categories {
		fmt.Fprintf(w, "%s%s %d\n", name,
			formatLabels(map[string]string{"category": c}), counts[c])
	}
}

func writeProviderHealth(w http.ResponseWriter, registry *discovery.Registry) {
	records := registry.Snapshot()
	if len(records) == 0 {
		return
	}
	name := "voiceman_provider_healthy"
	fmt.Fprintf(w, "# HELP %s Provider health from the last probe (1=healthy, 0=unhealthy).\n", name)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	for _, rec := range records {
		v := 0
		if rec.Healthy {
			v = 1
		}
		fmt.Fprintf(w, "%s%s %d\n", name,
			formatLabels(map[string]string{"provider": rec.Name, "kind": string(rec.Kind)}), v)
	}
}
