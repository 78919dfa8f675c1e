// Package diag provides structured diagnostics for the refang pipeline.
// Pipeline stages report non-fatal conditions (unparsable wrappers, missing
// or ambiguous redirect parameters, failed resolutions) here; diagnostics
// never abort processing.
package diag

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Prevents terminal escape injection via crafted URLs
// (e.g., \x1b[2J to clear screen when tailing diagnostics).
func sanitizeString(s string) string {
	// Fast path: most URLs have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of diagnostic event.
type EventType string

// Event type constants for structured diagnostic entries.
const (
	EventFormatted      EventType = "formatted"
	EventWrapperMiss    EventType = "wrapper_miss"
	EventParamMissing   EventType = "param_missing"
	EventParamAmbiguous EventType = "param_ambiguous"
	EventParseFailure   EventType = "parse_failure"
	EventResolved       EventType = "resolved"
	EventResolveFailed  EventType = "resolve_failed"
	EventRequest        EventType = "request"
	EventConfigReload   EventType = "config_reload"
)

// Logger handles structured diagnostics using zerolog.
type Logger struct {
	zl         zerolog.Logger
	fileHandle *os.File // non-nil if logging to file
}

// New creates a diagnostics logger. format is "json" or "text"; output is
// "stdout", "stderr", "file", or "both" (stderr and file). The caller should
// call Close when done. debug enables debug-level events (ambiguous
// parameters, per-URL trace output).
func New(format, output, filePath string, debug bool) (*Logger, error) {
	var writers []io.Writer

	switch output {
	case "stdout":
		writers = append(writers, consoleOr(os.Stdout, format))
	case "stderr", "both":
		writers = append(writers, consoleOr(os.Stderr, format))
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path comes from config/flags
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	zl := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("component", "refang").
		Logger()

	return &Logger{zl: zl, fileHandle: fileHandle}, nil
}

func consoleOr(f *os.File, format string) io.Writer {
	if format == "text" {
		return zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339}
	}
	return f
}

// NewWriter creates a JSON diagnostics logger writing to w. Used by tests
// and embedding callers that manage their own output stream.
func NewWriter(w io.Writer, debug bool) *Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return &Logger{zl: zerolog.New(w).Level(level).With().Str("component", "refang").Logger()}
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Formatted traces a completed normalization pass.
func (l *Logger) Formatted(input, formatted string) {
	l.zl.Debug().
		Str("event", string(EventFormatted)).
		Str("input", sanitizeString(input)).
		Str("formatted", sanitizeString(formatted)).
		Msg("url formatted")
}

// WrapperMiss reports a wrapper whose vendor marker matched but whose inner
// pattern could not be parsed. The original URL passes through unchanged.
func (l *Logger) WrapperMiss(url, family string) {
	l.zl.Error().
		Str("event", string(EventWrapperMiss)).
		Str("url", sanitizeString(url)).
		Str("family", family).
		Msg("could not parse wrapped url, returning original")
}

// ParamMissing reports a wrapper URL lacking its expected redirect parameter.
// The original URL passes through unchanged.
func (l *Logger) ParamMissing(url, param string) {
	l.zl.Error().
		Str("event", string(EventParamMissing)).
		Str("url", sanitizeString(url)).
		Str("param", param).
		Msg("redirect parameter not found, returning original")
}

// ParamAmbiguous reports multiple values for a redirect parameter; the first
// value wins.
func (l *Logger) ParamAmbiguous(url, param string, count int) {
	l.zl.Debug().
		Str("event", string(EventParamAmbiguous)).
		Str("url", sanitizeString(url)).
		Str("param", param).
		Int("count", count).
		Msg("multiple redirect parameter values, using the first")
}

// ParseFailure reports a URL that could not be structurally parsed during
// wrapper extraction. Extraction degrades to the original string.
func (l *Logger) ParseFailure(url string, err error) {
	l.zl.Debug().
		Str("event", string(EventParseFailure)).
		Str("url", sanitizeString(url)).
		Err(err).
		Msg("url parse failed during extraction")
}

// Resolved traces a successful redirect resolution.
func (l *Logger) Resolved(formatted, final string) {
	l.zl.Debug().
		Str("event", string(EventResolved)).
		Str("url", sanitizeString(formatted)).
		Str("final", sanitizeString(final)).
		Msg("redirect resolved")
}

// ResolveFailed reports a failed best-effort resolution. The result degrades
// to the formatted URL alone.
func (l *Logger) ResolveFailed(formatted string, err error) {
	l.zl.Debug().
		Str("event", string(EventResolveFailed)).
		Str("url", sanitizeString(formatted)).
		Err(err).
		Msg("redirect resolution failed, keeping formatted url only")
}

// Request logs a served API request.
func (l *Logger) Request(method, path, requestID string, status int, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventRequest)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("request_id", requestID).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("request served")
}

// ConfigReload logs a configuration reload event.
func (l *Logger) ConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// Startup logs that the API server has started.
func (l *Logger) Startup(listenAddr string) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listenAddr).
		Msg("refang started")
}

// Shutdown logs that the API server is stopping.
func (l *Logger) Shutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("refang stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// entry. The sub-logger does NOT own the file handle; only the root logger
// should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Close flushes and closes any open file handle. Idempotent.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
