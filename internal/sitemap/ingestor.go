package sitemap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/internal/metrics"
)

// Ingestor is the spec's SitemapIngestor: tracks known sitemap URLs and
// periodically drains their contents into the Frontier.
type Ingestor struct {
	doer     HTTPDoer
	frontier *frontier.Frontier
	logger   *slog.Logger
	metrics  metrics.MetadataSink

	mu    sync.Mutex
	known map[string]*state
}

func New(doer HTTPDoer, fr *frontier.Frontier, logger *slog.Logger, sink metrics.MetadataSink) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Ingestor{
		doer:     doer,
		frontier: fr,
		logger:   logger,
		metrics:  sink,
		known:    make(map[string]*state),
	}
}

// AddSitemap registers a sitemap URL to be polled, guarding against
// duplicates by URL (spec §4.9: "guard against duplicates by URL set").
func (g *Ingestor) AddSitemap(sitemapURL string, priority, parseIntervalHours float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.known[sitemapURL]; ok {
		return
	}
	g.known[sitemapURL] = newState(sitemapURL, priority, parseIntervalHours)
}

// Run polls every interval until ctx is cancelled, draining due sitemaps
// each tick (spec §4.9: "periodically, default every hour").
func (g *Ingestor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunOnce(ctx)
		}
	}
}

// RunOnce processes every sitemap that is currently due.
func (g *Ingestor) RunOnce(ctx context.Context) {
	due := g.dueSitemaps(time.Now())
	for _, s := range due {
		g.process(ctx, s)
	}
}

func (g *Ingestor) dueSitemaps(now time.Time) []*state {
	g.mu.Lock()
	defer g.mu.Unlock()
	var due []*state
	for _, s := range g.known {
		if s.due(now) {
			due = append(due, s)
		}
	}
	return due
}

func (g *Ingestor) process(ctx context.Context, s *state) {
	now := time.Now()
	body, err := g.fetch(ctx, s.url)
	if err != nil {
		s.recordFailure(now)
		g.metrics.RecordError(now, "sitemap", "fetch", metrics.CauseNetworkFailure, err.Error(), []metrics.Attribute{metrics.NewAttr(metrics.AttrURL, s.url)})
		return
	}

	kind, idx, set, err := parsePayload(body)
	if err != nil || kind == payloadUnknown {
		s.recordFailure(now)
		g.metrics.RecordError(now, "sitemap", "parse", metrics.CauseContentInvalid, "malformed or unrecognised sitemap XML", []metrics.Attribute{metrics.NewAttr(metrics.AttrURL, s.url)})
		return
	}

	switch kind {
	case payloadIndex:
		g.ingestIndex(idx, s)
	case payloadURLSet:
		g.ingestURLSet(ctx, set)
	}

	s.recordSuccess(now)
}

func (g *Ingestor) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
}

// ingestIndex enqueues each child <sitemap><loc> as a new tracked
// sitemap, inheriting the parent's parse interval.
func (g *Ingestor) ingestIndex(idx *xmlSitemapIndex, parent *state) {
	for _, ref := range idx.Sitemaps {
		loc := trimmed(ref.Loc)
		if loc == "" {
			continue
		}
		g.AddSitemap(loc, parent.priority, parent.parseIntervalHours)
	}
}

// ingestURLSet routes fresh URLs into the Frontier at depth 0. Duplicate
// suppression against the global "seen" set is delegated to
// Frontier.Push, which already rejects URLs it has admitted before.
func (g *Ingestor) ingestURLSet(ctx context.Context, set *xmlURLSet) {
	for _, entry := range set.URLs {
		loc := trimmed(entry.Loc)
		if loc == "" {
			continue
		}
		parsed, err := url.Parse(loc)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			continue
		}

		candidate := frontier.NewCrawlAdmissionCandidate(
			*parsed,
			frontier.SourceCrawl,
			frontier.NewDiscoveryMetadata(0, nil),
		)
		if _, err := g.frontier.Push(ctx, candidate, entryPriority(entry)); err != nil {
			g.logger.Warn("sitemap: frontier push failed", "url", loc, "err", err)
		}
	}
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "sitemap fetch returned non-2xx status"
}
