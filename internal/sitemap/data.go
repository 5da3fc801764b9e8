// Package sitemap is the spec's SitemapIngestor (§4.9): periodically (and
// on-demand) drains sitemap URLs discovered via robots.txt into the
// Frontier. XML parsing is stdlib-only (encoding/xml) — sitemap documents
// are a small, closed schema, and no third-party sitemap-parsing library
// appears anywhere in the retrieved pack; see DESIGN.md.
package sitemap

import (
	"net/http"
	"time"
)

// HTTPDoer is the same minimal downloader abstraction internal/robots
// uses; *http.Client satisfies it directly.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultParseIntervalHours = 1.0
	maxConsecutiveFailures    = 5
	maxBackoffHours           = 24.0
	defaultEntryPriority      = 0.5
	fetchTimeout              = 15 * time.Second
)

// changeFreqPriority maps spec §4.9's <changefreq> values to a priority.
var changeFreqPriority = map[string]float64{
	"always":  1.0,
	"hourly":  0.9,
	"daily":   0.8,
	"weekly":  0.6,
	"monthly": 0.4,
	"yearly":  0.2,
	"never":   0.1,
}

// state is the per-sitemap-URL schedule the Ingestor tracks: a sitemap is
// due again parseIntervalHours after a success, and that interval doubles
// with each consecutive failure (up to maxConsecutiveFailures doublings).
// priority is passed on to child sitemaps; it does not change when this
// sitemap is due.
type state struct {
	url                 string
	priority            float64
	parseIntervalHours  float64
	consecutiveFailures int
	nextDue             time.Time
}

func newState(url string, priority, parseIntervalHours float64) *state {
	if parseIntervalHours <= 0 {
		parseIntervalHours = defaultParseIntervalHours
	}
	return &state{url: url, priority: priority, parseIntervalHours: parseIntervalHours}
}

func (s *state) due(now time.Time) bool {
	return s.nextDue.IsZero() || !now.Before(s.nextDue)
}

func (s *state) recordSuccess(now time.Time) {
	s.consecutiveFailures = 0
	s.nextDue = now.Add(time.Duration(s.parseIntervalHours * float64(time.Hour)))
}

func (s *state) recordFailure(now time.Time) {
	if s.consecutiveFailures < maxConsecutiveFailures {
		s.consecutiveFailures++
	}
	backoffHours := s.parseIntervalHours * float64(int(1)<<uint(s.consecutiveFailures))
	if backoffHours > maxBackoffHours {
		backoffHours = maxBackoffHours
	}
	s.nextDue = now.Add(time.Duration(backoffHours * float64(time.Hour)))
}

func clampPriority(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
