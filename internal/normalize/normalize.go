// Package normalize reverses URL defanging and scheme obfuscation.
// All formatting paths (CLI, API server, batch feeds) use these functions to
// recover a canonical http:// or https:// URL from analyst- or feed-supplied
// text before reputation lookup.
//
// The functions are pure string transforms with a fixed evaluation order:
// Refang undoes raw-string defanging, Unescape undoes entity and percent
// encoding, ReplaceProtocol repairs the scheme prefix. Callers compose them
// in that order; the escape steps are not commutative (an entity-escaped
// percent sign must be restored before percent-decoding can act on it).
package normalize

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

const schemeHTTP = "http"

// defangedSchemes lists scheme tokens analysts substitute for "http" to keep
// a URL from being clickable. Matched case-insensitively at the start of the
// string; the token and its optional trailing "s" are swapped for the
// canonical lowercase scheme, so hXXpS:// becomes https://.
var defangedSchemes = []string{"hxxp", "meow"}

// prefixRule repairs a malformed scheme prefix. The trigger and exclude
// prefixes are matched against a lowercased copy of the string; the
// replacement is spliced into the original-case string.
type prefixRule struct {
	trigger string // lowercase prefix that fires the rule
	exclude string // lowercase prefix that suppresses it, empty for none
	repl    string
}

// prefixRules is evaluated in order; the first rule whose trigger matches and
// whose exclude does not fires once, and evaluation stops. The single-slash
// and single-backslash rules must come before the double-backslash rules so
// that well-formed prefixes are excluded before the catch-alls fire.
var prefixRules = []prefixRule{
	{trigger: "https:/", exclude: "https://", repl: "https://"},
	{trigger: "http:/", exclude: "http://", repl: "http://"},
	{trigger: `https:\`, exclude: `https:\\`, repl: "https://"},
	{trigger: `http:\`, exclude: `http:\\`, repl: "http://"},
	{trigger: `https:\\`, repl: "https://"},
	{trigger: `http:\\`, repl: "http://"},
}

// invisibleRanges covers zero-width and formatting characters that ride along
// when URLs are copied out of rich-text threat reports.
var invisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
	},
}

// StripInvisible removes zero-width and formatting characters from s.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(invisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// Refang undoes raw-string defanging: strips invisible characters, applies
// canonical composition so decomposed hostnames compare equal, and replaces
// every bracketed dot ([.]) with a literal dot. Runs before wrapper
// detection and before any decoding; defanging is applied by humans atop
// other encodings, so it must be undone first.
func Refang(s string) string {
	s = StripInvisible(s)
	s = norm.NFC.String(s)
	return strings.ReplaceAll(s, "[.]", ".")
}

// Unescape reverses entity and percent encoding: HTML entities first
// (&amp; to &), then tolerant percent-decoding. Malformed percent sequences
// pass through untouched rather than failing the whole string.
func Unescape(s string) string {
	s = html.UnescapeString(s)
	return percentDecode(s)
}

// percentDecode decodes valid %XX triples and leaves anything else alone.
// url.QueryUnescape is unsuitable here: it rejects the whole string on the
// first malformed sequence, and feed URLs are routinely malformed.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '%' && i+3 <= len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// ReplaceProtocol repairs an obfuscated or malformed scheme prefix into
// exactly http:// or https://. Strings with no recognizable scheme-like
// token pass through unchanged.
func ReplaceProtocol(s string) string {
	for _, tok := range defangedSchemes {
		if len(s) > len(tok) && strings.EqualFold(s[:len(tok)+1], tok+"s") {
			s = schemeHTTP + "s" + s[len(tok)+1:]
			break
		}
		if len(s) >= len(tok) && strings.EqualFold(s[:len(tok)], tok) {
			s = schemeHTTP + s[len(tok):]
			break
		}
	}

	lower := strings.ToLower(s)
	for _, r := range prefixRules {
		if !strings.HasPrefix(lower, r.trigger) {
			continue
		}
		if r.exclude != "" && strings.HasPrefix(lower, r.exclude) {
			continue
		}
		return r.repl + s[len(r.trigger):]
	}
	return s
}

// ASCIIHost returns the punycode (IDNA ASCII) form of rawURL's hostname,
// suitable for reputation lookup of internationalized or homoglyph domains.
// Advisory helper; not part of the formatting path.
func ASCIIHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", errors.New("url has no host")
	}
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("converting host %q to ascii: %w", host, err)
	}
	return ascii, nil
}
