package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/luckyPipewrench/refang/internal/config"
	"github.com/luckyPipewrench/refang/internal/diag"
	"github.com/luckyPipewrench/refang/internal/metrics"
	"github.com/luckyPipewrench/refang/internal/pipeline"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	f := pipeline.New(config.Defaults(), diag.NewNop(), m)
	return New("127.0.0.1:0", f, diag.NewNop(), m), m
}

func postFormat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/format", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleFormat(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postFormat(t, h, `{"url": "hxxp://evil[.]com/a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Input string   `json:"input"`
		URLs  []string `json:"urls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.URLs) != 1 || resp.URLs[0] != "http://evil.com/a" {
		t.Errorf("urls = %v, want [http://evil.com/a]", resp.URLs)
	}
	if resp.Input != "hxxp://evil[.]com/a" {
		t.Errorf("input echoed back as %q", resp.Input)
	}
}

func TestHandleFormat_Wrapper(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postFormat(t, s.Handler(),
		`{"url": "https://foo.safelinks.protection.outlook.com/?url=http%3A%2F%2Fexample.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"http://example.com"`) {
		t.Errorf("body = %s, want unwrapped url", rec.Body.String())
	}
}

func TestHandleFormat_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"empty body", http.MethodPost, "", http.StatusBadRequest},
		{"not json", http.MethodPost, "not json", http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"url": "http://a.com", "extra": 1}`, http.StatusBadRequest},
		{"two objects", http.MethodPost, `{"url": "http://a.com"}{"url": "http://b.com"}`, http.StatusBadRequest},
		{"empty url", http.MethodPost, `{"url": ""}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/format", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	// One successful format so the counter vector has a sample.
	postFormat(t, h, `{"url": "hxxp://evil[.]com"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refang_formatted_total") {
		t.Errorf("metrics output missing refang_formatted_total:\n%s", rec.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	postFormat(t, h, `{"url": "hxxp://evil[.]com"}`)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var stats struct {
		Formatted int64 `json:"formatted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Formatted != 1 {
		t.Errorf("formatted = %d, want 1", stats.Formatted)
	}
}

func TestSetFormatter(t *testing.T) {
	s, _ := newTestServer(t)

	cfg := config.Defaults()
	s.SetFormatter(pipeline.New(cfg, diag.NewNop(), nil))

	rec := postFormat(t, s.Handler(), `{"url": "hxxps://a[.]b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after swap = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"https://a.b"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
