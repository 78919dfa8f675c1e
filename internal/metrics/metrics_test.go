package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordAndStats(t *testing.T) {
	m := New()
	m.RecordFormat("safelinks", time.Millisecond)
	m.RecordFormat("", 2*time.Millisecond) // not wrapped
	m.RecordResolve(true)
	m.RecordResolve(false)

	rec := httptest.NewRecorder()
	m.StatsHandler()(rec, httptest.NewRequest("GET", "/stats", nil))

	var stats struct {
		Formatted int64 `json:"formatted"`
		Resolves  struct {
			Resolved   int64 `json:"resolved"`
			Unresolved int64 `json:"unresolved"`
		} `json:"resolves"`
		TopFamilies []struct {
			Name  string `json:"name"`
			Count int64  `json:"count"`
		} `json:"top_families"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Formatted != 2 {
		t.Errorf("formatted = %d, want 2", stats.Formatted)
	}
	if stats.Resolves.Resolved != 1 || stats.Resolves.Unresolved != 1 {
		t.Errorf("resolves = %+v", stats.Resolves)
	}
	families := map[string]int64{}
	for _, e := range stats.TopFamilies {
		families[e.Name] = e.Count
	}
	if families["safelinks"] != 1 || families["none"] != 1 {
		t.Errorf("top_families = %v", families)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.RecordFormat("urldefense_v3", time.Millisecond)

	rec := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"refang_formatted_total", "refang_format_duration_seconds"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	// Must not panic.
	m.RecordFormat("safelinks", time.Millisecond)
	m.RecordResolve(true)
}
