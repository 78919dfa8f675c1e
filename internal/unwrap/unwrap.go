// Package unwrap detects redirect-wrapper services (link-protection gateways,
// marketing click-trackers) and extracts the embedded destination URL.
// Detection is a pure string transform: if no wrapper family matches, the
// input passes through unchanged.
package unwrap

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/luckyPipewrench/refang/internal/diag"
)

// Family identifies which wrapper service matched, for diagnostics and
// metrics. FamilyNone means the input was not recognized as wrapped.
type Family string

// Wrapper family constants.
const (
	FamilyNone          Family = ""
	FamilySafeLinks     Family = "safelinks"
	FamilyURLDefenseV3  Family = "urldefense_v3"
	FamilyURLDefenseV2  Family = "urldefense_v2"
	FamilyURLDefenseOld Family = "urldefense_legacy"
)

// Wrapper detection patterns. The scheme prefix is optional and matches any
// word token so that defanged wrappers (hxxps://...safelinks...) are still
// recognized after bracket-dot refanging but before protocol repair.
var (
	safeLinksRe    = regexp.MustCompile(`^(?:\w+://)?\w*\.safelinks\.protection\.outlook\.com/.*\?url=`)
	urlDefenseRe   = regexp.MustCompile(`(?:\w+://)?urldefense(?:\.proofpoint)?\.(com|us)/(v[0-9])/`)
	urlDefenseV3Re = regexp.MustCompile(`v3/__(.+?)__;(.*?)!`)
)

// Unwrap recognizes the known wrapper families and returns the embedded
// destination URL plus the family that matched. Unrecognized input is
// returned unchanged with FamilyNone. Extraction failures inside a matched
// family degrade to the original string and a diagnostic; Unwrap never
// returns an error.
func Unwrap(raw string, log *diag.Logger) (string, Family) {
	if log == nil {
		log = diag.NewNop()
	}

	if safeLinksRe.MatchString(raw) {
		dest, _ := redirectParam(raw, "url", log)
		return dest, FamilySafeLinks
	}

	if m := urlDefenseRe.FindStringSubmatch(raw); m != nil {
		switch m[2] {
		case "v3":
			return unwrapDefenseV3(raw, log), FamilyURLDefenseV3
		case "v2":
			return unwrapDefenseV2(raw, log), FamilyURLDefenseV2
		default:
			dest, _ := redirectParam(raw, "u", log)
			return dest, FamilyURLDefenseOld
		}
	}

	return raw, FamilyNone
}

// unwrapDefenseV3 extracts the destination from a urldefense v3 path segment
// of the form v3/__<url>__;<encoded-bytes>!. The captured url stops at the
// first __; marker. If the marker is present but the inner pattern is not,
// the original string comes back with a diagnostic.
func unwrapDefenseV3(raw string, log *diag.Logger) string {
	m := urlDefenseV3Re.FindStringSubmatch(raw)
	if m == nil {
		log.WrapperMiss(raw, string(FamilyURLDefenseV3))
		return raw
	}
	return m[1]
}

// unwrapDefenseV2 extracts the u parameter and reverses the v2 character
// substitution: hyphen to percent-sign, underscore to forward-slash. The
// mapping is rune-wise so unrelated characters are untouched; the restored
// percent escapes decode in the later unescape stage. A missing parameter
// skips the substitution so the original string comes back intact.
func unwrapDefenseV2(raw string, log *diag.Logger) string {
	s, ok := redirectParam(raw, "u", log)
	if !ok {
		return raw
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '%'
		case '_':
			return '/'
		}
		return r
	}, s)
}

// redirectParam looks up the named redirect parameter in raw's query string.
// Missing parameter (or unparsable URL) degrades to raw, false, and one
// diagnostic; multiple values select the first with a debug diagnostic.
func redirectParam(raw, name string, log *diag.Logger) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		log.ParseFailure(raw, err)
		log.ParamMissing(raw, name)
		return raw, false
	}
	// ParseQuery reports an error on the first malformed pair but still
	// returns everything it could parse; use what came back.
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		log.ParseFailure(raw, err)
	}
	// Empty values count as absent: "?url=" carries no destination.
	var urls []string
	for _, v := range values[name] {
		if v != "" {
			urls = append(urls, v)
		}
	}
	if len(urls) == 0 {
		log.ParamMissing(raw, name)
		return raw, false
	}
	if len(urls) > 1 {
		log.ParamAmbiguous(raw, name, len(urls))
	}
	return urls[0], true
}
