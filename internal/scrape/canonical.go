package scrape

import (
	"net/url"
	"strings"

	"github.com/sells-group/brandintel/internal/apperr"
)

// Canonicalize normalizes a brand URL into the form used as the cache
// identity: http/https scheme only, lowercase host, fragment stripped,
// empty path replaced with "/". Canonicalizing a canonical URL is a no-op.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.Validation("brand_url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Validationf("brand_url is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Validationf("brand_url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", apperr.Validation("brand_url has no host")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// Domain extracts the bare host (no port) from a canonical URL.
func Domain(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	return u.Hostname()
}
