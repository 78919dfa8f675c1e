// Package pipeline wires the unwrap, normalize, and resolve stages into the
// refang formatting pipeline and carries the invocation error surface.
//
// Stage order: bracket-dot refanging runs first at the raw-string level
// (analysts defang atop every other encoding, including wrapper hosts), then
// wrapper extraction, then entity/percent unescaping, then protocol repair.
// Redirect resolution is a separate, optional network hop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luckyPipewrench/refang/internal/config"
	"github.com/luckyPipewrench/refang/internal/diag"
	"github.com/luckyPipewrench/refang/internal/metrics"
	"github.com/luckyPipewrench/refang/internal/normalize"
	"github.com/luckyPipewrench/refang/internal/resolve"
	"github.com/luckyPipewrench/refang/internal/unwrap"
)

// ErrEmptyInput is returned when an invocation carries no URL.
var ErrEmptyInput = errors.New("empty input url")

// Formatter runs the normalization pipeline. Stateless between calls; safe
// for concurrent use.
type Formatter struct {
	log      *diag.Logger
	resolver *resolve.Resolver
	metrics  *metrics.Metrics // nil when uninstrumented
}

// New creates a Formatter from config. A nil logger discards diagnostics;
// a nil metrics skips instrumentation.
func New(cfg *config.Config, log *diag.Logger, m *metrics.Metrics) *Formatter {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if log == nil {
		log = diag.NewNop()
	}
	return &Formatter{
		log:      log,
		resolver: resolve.New(cfg.ResolveTimeout(), cfg.Resolve.UserAgent, log),
		metrics:  m,
	}
}

// Format runs the pure stages on raw: refang, unwrap, unescape, protocol
// repair. Total over all strings; re-running Format on its own output is
// idempotent for non-wrapped URLs (a formatted URL that still coincidentally
// matches a wrapper pattern unwraps again, an accepted residual ambiguity).
func (f *Formatter) Format(raw string) string {
	start := time.Now()

	s := normalize.Refang(raw)
	s, family := unwrap.Unwrap(s, f.log)
	s = normalize.Unescape(s)
	formatted := normalize.ReplaceProtocol(s)

	f.metrics.RecordFormat(string(family), time.Since(start))
	f.log.Formatted(raw, formatted)
	return formatted
}

// FormatAndResolve formats raw and then attempts one best-effort redirect
// resolution against the formatted URL.
func (f *Formatter) FormatAndResolve(ctx context.Context, raw string) resolve.Result {
	formatted := f.Format(raw)
	res := f.resolver.Resolve(ctx, formatted)
	f.metrics.RecordResolve(res.Resolved)
	return res
}

// Run is the invocation contract: given a candidate URL it returns the set
// of one or two URL strings (formatted, plus the resolved destination when
// followRedirect is set and resolution succeeded with a different address).
// The only failure is empty input; pipeline-internal ambiguity and network
// failure always degrade with a diagnostic instead.
func (f *Formatter) Run(ctx context.Context, input string, followRedirect bool) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("formatting url: %w", ErrEmptyInput)
	}
	if !followRedirect {
		return []string{f.Format(input)}, nil
	}
	return f.FormatAndResolve(ctx, input).URLs(), nil
}
