package feeds

import (
	"net/url"
	"strings"
)

// Canonicalize normalizes an article URL into the identity used by the dedup
// ledger and the analysis fingerprint: lowercase scheme and host, default
// ports and fragments removed, query string dropped entirely. Tracking
// parameters (utm_*, fbclid, ...) vary per syndication channel, so the whole
// query goes; article identity on news sites lives in the path.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.RawQuery = ""
	u.Fragment = ""

	// Trailing slash variants are the same article
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}
