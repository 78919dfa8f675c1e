// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the refang API server.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for the formatting
// pipeline. A nil *Metrics is valid; all record methods become no-ops, so
// one-shot CLI invocations skip instrumentation entirely.
type Metrics struct {
	registry *prometheus.Registry

	formattedTotal *prometheus.CounterVec
	resolveTotal   *prometheus.CounterVec
	formatLatency  prometheus.Histogram

	mu             sync.Mutex
	startTime      time.Time
	topFamilies    map[string]int64
	formattedCount int64
	resolvedCount  int64
	unresolvedCnt  int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	formattedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refang",
		Name:      "formatted_total",
		Help:      "Total URLs formatted, by wrapper family (none = not wrapped).",
	}, []string{"family"})

	resolveTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refang",
		Name:      "resolve_total",
		Help:      "Total redirect resolution attempts by outcome.",
	}, []string{"result"})

	formatLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "refang",
		Name:      "format_duration_seconds",
		Help:      "Formatting pipeline latency in seconds (excluding resolution).",
		Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})

	reg.MustRegister(formattedTotal, resolveTotal, formatLatency)

	return &Metrics{
		registry:       reg,
		formattedTotal: formattedTotal,
		resolveTotal:   resolveTotal,
		formatLatency:  formatLatency,
		startTime:      time.Now(),
		topFamilies:    make(map[string]int64),
	}
}

// RecordFormat records a completed formatting pass and the wrapper family
// that matched ("none" when the URL was not wrapped).
func (m *Metrics) RecordFormat(family string, duration time.Duration) {
	if m == nil {
		return
	}
	if family == "" {
		family = "none"
	}
	m.formattedTotal.WithLabelValues(family).Inc()
	m.formatLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.formattedCount++
	if len(m.topFamilies) < maxTopEntries {
		m.topFamilies[family]++
	} else if _, exists := m.topFamilies[family]; exists {
		m.topFamilies[family]++
	}
	m.mu.Unlock()
}

// RecordResolve records one redirect resolution attempt.
func (m *Metrics) RecordResolve(resolved bool) {
	if m == nil {
		return
	}
	result := "unresolved"
	if resolved {
		result = "resolved"
	}
	m.resolveTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	if resolved {
		m.resolvedCount++
	} else {
		m.unresolvedCnt++
	}
	m.mu.Unlock()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Formatted:     m.formattedCount,
			Resolves: resolveStats{
				Resolved:   m.resolvedCount,
				Unresolved: m.unresolvedCnt,
			},
			TopFamilies: topN(m.topFamilies),
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Formatted     int64         `json:"formatted"`
	Resolves      resolveStats  `json:"resolves"`
	TopFamilies   []rankedEntry `json:"top_families"`
}

type resolveStats struct {
	Resolved   int64 `json:"resolved"`
	Unresolved int64 `json:"unresolved"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
