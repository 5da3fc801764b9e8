package urlutil

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query parameters are removed
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Clean the path: remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	// Remove query parameters
	canonical.RawQuery = ""
	canonical.ForceQuery = false

	return canonical
}

// lowerASCII converts ASCII characters to lowercase, without allocating
// when s contains no uppercase ASCII letters.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

// Resolve resolves a discovered href against the page it was found on,
// handling absolute URLs, protocol-relative ("//host/path"), root-relative
// ("/path"), and plain relative hrefs. It rejects non-http(s) schemes such
// as "javascript:" and "mailto:" by returning an error, and rejects hrefs
// past a sane length to guard against pathological markup.
func Resolve(base url.URL, href string) (url.URL, error) {
	const maxHrefLen = 4096

	href = strings.TrimSpace(href)
	if href == "" {
		return url.URL{}, fmt.Errorf("urlutil: empty href")
	}
	if len(href) > maxHrefLen {
		return url.URL{}, fmt.Errorf("urlutil: href exceeds %d bytes", maxHrefLen)
	}

	lower := lowerASCII(href)
	switch {
	case strings.HasPrefix(lower, "javascript:"),
		strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(lower, "data:"):
		return url.URL{}, fmt.Errorf("urlutil: unsupported scheme in href %q", href)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return url.URL{}, fmt.Errorf("urlutil: parse href: %w", err)
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return url.URL{}, fmt.Errorf("urlutil: unsupported resolved scheme %q", resolved.Scheme)
	}
	return *resolved, nil
}

// RegistrableDomain returns the eTLD+1 (e.g. "example.com" for
// "www.blog.example.com") of host using the public-suffix list. It is the
// keying function shared by rate limiting, robots caching, blacklisting,
// and high-priority-domain matching, so that subdomains of the same
// organization are treated as one politeness unit.
func RegistrableDomain(host string) (string, error) {
	host = strings.TrimSuffix(lowerASCII(host), ".")
	if host == "" {
		return "", fmt.Errorf("urlutil: empty host")
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Hosts like "localhost" or bare IPs have no public suffix entry;
		// fall back to the host itself rather than failing admissibility.
		return host, nil
	}
	return domain, nil
}
