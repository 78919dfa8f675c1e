package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luckyPipewrench/refang/internal/config"
	"github.com/luckyPipewrench/refang/internal/diag"
	"github.com/luckyPipewrench/refang/internal/metrics"
)

func newFormatter(t *testing.T) *Formatter {
	t.Helper()
	return New(config.Defaults(), diag.NewNop(), nil)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "defanged scheme and dots",
			input: "hxxp://evil[.]com/a",
			want:  "http://evil.com/a",
		},
		{
			name:  "defanged https",
			input: "hxxps://example[.]com",
			want:  "https://example.com",
		},
		{
			name:  "safelinks wrapper",
			input: "https://foo.safelinks.protection.outlook.com/?url=http%3A%2F%2Fexample.com",
			want:  "http://example.com",
		},
		{
			name:  "defanged safelinks wrapper end to end",
			input: "hxxps://foo[.]safelinks[.]protection[.]outlook[.]com/?url=http%3A%2F%2Fbar.com",
			want:  "http://bar.com",
		},
		{
			name:  "urldefense v3",
			input: "https://urldefense.com/v3/__http://example.com/path__;abc123!x",
			want:  "http://example.com/path",
		},
		{
			name:  "urldefense v2 translation then unescape",
			input: "https://urldefense.proofpoint.com/v2/url?u=http-3A__example-2Ecom&d=x",
			want:  "http://example.com",
		},
		{
			name:  "html entity then percent",
			input: "http&#37;3A%2F%2Fexample.com",
			want:  "http://example.com",
		},
		{
			name:  "malformed slash prefix",
			input: "http:/example.com",
			want:  "http://example.com",
		},
		{
			name:  "backslash prefix",
			input: `http:\\example.com`,
			want:  "http://example.com",
		},
		{
			name:  "already canonical",
			input: "https://example.com/path?a=b",
			want:  "https://example.com/path?a=b",
		},
		{
			name:  "not a url",
			input: "plain text",
			want:  "plain text",
		},
	}

	f := newFormatter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Format(tt.input); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormat_Idempotent(t *testing.T) {
	inputs := []string{
		"hxxp://evil[.]com/a",
		"http:/example.com",
		"https://example.com/path?a=b",
		"plain text",
	}

	f := newFormatter(t)
	for _, in := range inputs {
		once := f.Format(in)
		twice := f.Format(once)
		if once != twice {
			t.Errorf("Format not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestRun_EmptyInput(t *testing.T) {
	f := newFormatter(t)
	for _, in := range []string{"", "   ", "\t\n"} {
		_, err := f.Run(context.Background(), in, false)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Run(%q) error = %v, want ErrEmptyInput", in, err)
		}
	}
}

func TestRun_WithoutResolve(t *testing.T) {
	f := newFormatter(t)
	urls, err := f.Run(context.Background(), "hxxp://evil[.]com", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "http://evil.com" {
		t.Errorf("Run = %v, want [http://evil.com]", urls)
	}
}

func TestRun_WithResolve(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/landing", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := newFormatter(t)
	urls, err := f.Run(context.Background(), ts.URL+"/start", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[1] != ts.URL+"/landing" {
		t.Errorf("Run = %v, want original plus landing", urls)
	}
}

func TestRun_ResolveFailureDegrades(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	dead := ts.URL
	ts.Close()

	f := newFormatter(t)
	urls, err := f.Run(context.Background(), dead, true)
	if err != nil {
		t.Fatalf("resolution failure must not surface as an error, got %v", err)
	}
	if len(urls) != 1 || urls[0] != dead {
		t.Errorf("Run = %v, want just the formatted url", urls)
	}
}

func TestFormatAndResolve_RecordsMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := metrics.New()
	f := New(config.Defaults(), diag.NewNop(), m)
	res := f.FormatAndResolve(context.Background(), ts.URL)
	if !res.Resolved {
		t.Fatal("expected resolution to succeed")
	}
}

func TestNew_NilArguments(t *testing.T) {
	f := New(nil, nil, nil)
	if got := f.Format("hxxp://a[.]b"); got != "http://a.b" {
		t.Errorf("Format with nil deps = %q, want http://a.b", got)
	}
}
