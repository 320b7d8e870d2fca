// Package urlnorm validates and normalizes bookmark URLs. All functions are pure
// and never fail: malformed input yields false or a best-effort result.
package urlnorm

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// trackingParams are query parameters removed by Canonicalize.
var trackingParams = map[string]bool{
	"fbclid":    true,
	"gclid":     true,
	"dclid":     true,
	"yclid":     true,
	"msclkid":   true,
	"mc_cid":    true,
	"mc_eid":    true,
	"igshid":    true,
	"_hsenc":    true,
	"_hsmi":     true,
	"ref_src":   true,
	"ref_url":   true,
	"spm":       true,
	"_openstat": true,
}

// trackingPrefixes are query parameter prefixes removed by Canonicalize.
var trackingPrefixes = []string{"utm_", "pk_", "mtm_", "vero_"}

// schemePrefix matches an RFC 3986 scheme at the start of the input only, so a URL
// carried in the query of a schemeless link does not count.
var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

func hasScheme(raw string) bool {
	return schemePrefix.MatchString(raw)
}

func parse(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if !hasScheme(raw) {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	return u, true
}

// Validate reports whether raw is an absolute http(s) URL. Schemeless input such as
// "example.com/x" is checked as if it had an https scheme.
func Validate(raw string) bool {
	u, ok := parse(raw)
	if !ok {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if u.User != nil && !hasScheme(strings.TrimSpace(raw)) {
		// "mailto:a@b.c" and friends parse as userinfo once https:// is prefixed
		return false
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " \t") {
		return false
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		return true
	}
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}

// Secure upgrades a missing or insecure scheme to https. Host, path and query are
// kept as written; input that already uses https is returned unchanged.
func Secure(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return s
	case strings.HasPrefix(lower, "http://"):
		return "https://" + s[len("http://"):]
	case strings.HasPrefix(s, "//"):
		return "https:" + s
	case !hasScheme(s):
		return "https://" + s
	default:
		return s
	}
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	if trackingParams[k] {
		return true
	}
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// Canonicalize strips the fragment and tracking query parameters. Remaining
// parameters are re-encoded sorted by key, so equal links yield equal strings.
func Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			// keep an unparsable query rather than guess at its structure
			return u.String()
		}
		for k := range q {
			if isTracking(k) {
				delete(q, k)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false
	return u.String()
}

// ResolveDomain returns the registrable domain (eTLD+1) of raw, e.g. "bbc.co.uk" for
// "https://www.bbc.co.uk/news". Hosts without a public suffix fall back to the bare
// host without a "www." prefix; unparsable input yields "".
func ResolveDomain(raw string) string {
	u, ok := parse(raw)
	if !ok {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return strings.TrimPrefix(host, "www.")
}
