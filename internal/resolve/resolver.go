// Package resolve performs best-effort expansion of a formatted URL to its
// redirect destination. One bounded fetch per URL, no retries: any transport
// failure degrades to the formatted URL alone and is never surfaced to the
// caller as an error.
package resolve

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/luckyPipewrench/refang/internal/diag"
)

// DefaultTimeout bounds a single resolution attempt.
const DefaultTimeout = 1 * time.Second

// maxDrainBytes limits how much of a response body is read before closing.
// Only the final request URL matters; the body is drained so the transport
// can reuse the connection.
const maxDrainBytes = 64 << 10

// Result holds the outcome of one resolution attempt. When Resolved is
// false, Final is empty and the result carries only the original URL.
type Result struct {
	Original string `json:"original"`
	Final    string `json:"final,omitempty"`
	Resolved bool   `json:"resolved"`
}

// URLs returns the result as a set of one or two URL strings: the original,
// plus the final destination when it was resolved and differs.
func (r Result) URLs() []string {
	if r.Resolved && r.Final != r.Original {
		return []string{r.Original, r.Final}
	}
	return []string{r.Original}
}

// Resolver follows one layer of HTTP redirection with a short timeout.
// Safe for concurrent use.
type Resolver struct {
	client    *http.Client
	userAgent string
	log       *diag.Logger
}

// New creates a Resolver. A non-positive timeout falls back to
// DefaultTimeout; a nil logger discards diagnostics.
func New(timeout time.Duration, userAgent string, log *diag.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = diag.NewNop()
	}
	return &Resolver{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		log:       log,
	}
}

// Resolve issues a single GET for formatted and reports the final address
// after the transport's own redirect following. Every failure class (bad
// URL, dial error, timeout, protocol error) collapses to the unresolved
// variant with a diagnostic.
func (r *Resolver) Resolve(ctx context.Context, formatted string) Result {
	unresolved := Result{Original: formatted}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formatted, nil)
	if err != nil {
		r.log.ResolveFailed(formatted, err)
		return unresolved
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.ResolveFailed(formatted, err)
		return unresolved
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	final := resp.Request.URL.String()
	r.log.Resolved(formatted, final)
	return Result{Original: formatted, Final: final, Resolved: true}
}
