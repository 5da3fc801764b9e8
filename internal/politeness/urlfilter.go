package politeness

import (
	"net/url"
	"strings"

	"github.com/corewalker/crawler/pkg/urlutil"
)

const (
	minPriority       = 0.05
	maxPriority       = 1.0
	depthPenalty      = 0.15
	maxCrawlableLen   = 500
	longURLPenaltyLen = 200
)

// UrlFilter implements spec §4.5's is_crawlable/priority pair: pure
// functions driven entirely by loaded configuration, so is_crawlable is
// trivially idempotent (testable invariant 5).
type UrlFilter struct {
	excludedExtensions  []string
	excludedPatterns    []string
	highPriorityDomains map[string]struct{}
}

// NewUrlFilter builds a filter from the CRAWLER_CONFIG_DIR seed tables.
// Tokens are lowercased once up front so is_crawlable's hot path is a
// plain substring scan.
func NewUrlFilter(excludedExtensions, excludedPatterns, highPriorityDomains []string) *UrlFilter {
	f := &UrlFilter{
		excludedExtensions:  lowercaseAll(excludedExtensions),
		excludedPatterns:    lowercaseAll(excludedPatterns),
		highPriorityDomains: make(map[string]struct{}, len(highPriorityDomains)),
	}
	for _, d := range highPriorityDomains {
		f.highPriorityDomains[strings.ToLower(d)] = struct{}{}
	}
	return f
}

func lowercaseAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// IsCrawlable is a pure function of rawURL: no excluded extension or
// pattern token, and no longer than maxCrawlableLen bytes.
func (f *UrlFilter) IsCrawlable(rawURL string) bool {
	if len(rawURL) > maxCrawlableLen {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, ext := range f.excludedExtensions {
		if ext != "" && strings.Contains(lower, ext) {
			return false
		}
	}
	for _, pattern := range f.excludedPatterns {
		if pattern != "" && strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

// Priority implements spec §4.5's scoring formula, including the
// substring-match imprecision on "news"/"wiki" (kept intentionally, not
// a bug).
func (f *UrlFilter) Priority(rawURL string, depth int) float64 {
	score := 1.0 - float64(depth)*depthPenalty
	if score < minPriority {
		score = minPriority
	}

	if f.isHighPriorityDomain(rawURL) {
		score *= 1.5
	}
	if hasTLDSuffix(rawURL, ".edu") || hasTLDSuffix(rawURL, ".gov") {
		score *= 1.3
	}
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "news") || strings.Contains(lower, "wiki") {
		score *= 1.2
	}
	if len(rawURL) > longURLPenaltyLen {
		score *= 0.8
	}

	if score < minPriority {
		score = minPriority
	}
	if score > maxPriority {
		score = maxPriority
	}
	return score
}

func (f *UrlFilter) isHighPriorityDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	domain, err := urlutil.RegistrableDomain(u.Hostname())
	if err != nil {
		return false
	}
	_, ok := f.highPriorityDomains[strings.ToLower(domain)]
	return ok
}

func hasTLDSuffix(rawURL, suffix string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), suffix)
}
