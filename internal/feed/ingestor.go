package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/internal/metrics"
)

// Ingestor is the spec's FeedIngestor: holds one schedule per configured
// feed and drains fresh entries into the Frontier on each due poll.
type Ingestor struct {
	parser   *gofeed.Parser
	frontier *frontier.Frontier
	logger   *slog.Logger
	metrics  metrics.MetadataSink
	now      func() time.Time

	mu    sync.Mutex
	feeds map[string]*state
}

func New(client *http.Client, fr *frontier.Frontier, logger *slog.Logger, sink metrics.MetadataSink) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &Ingestor{
		parser:   parser,
		frontier: fr,
		logger:   logger,
		metrics:  sink,
		now:      time.Now,
		feeds:    make(map[string]*state),
	}
}

// AddFeed registers a feed URL to be polled at pollInterval (spec default
// 10 minutes when zero is given).
func (g *Ingestor) AddFeed(feedURL string, pollInterval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.feeds[feedURL]; ok {
		return
	}
	g.feeds[feedURL] = newState(feedURL, pollInterval)
}

// Run polls every tick until ctx is cancelled, processing any feed whose
// schedule has come due.
func (g *Ingestor) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
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

func (g *Ingestor) RunOnce(ctx context.Context) {
	for _, s := range g.dueFeeds() {
		g.process(ctx, s)
	}
}

func (g *Ingestor) dueFeeds() []*state {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var due []*state
	for _, s := range g.feeds {
		if s.due(now) {
			due = append(due, s)
		}
	}
	return due
}

func (g *Ingestor) process(ctx context.Context, s *state) {
	now := g.now()
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	parsed, err := g.parser.ParseURLWithContext(s.url, fetchCtx)
	if err != nil {
		s.recordFailure(now)
		g.metrics.RecordError(now, "feed", "fetch", metrics.CauseNetworkFailure, err.Error(), []metrics.Attribute{metrics.NewAttr(metrics.AttrURL, s.url)})
		return
	}

	cutoff := now.Add(-freshnessWindow)
	for _, item := range parsed.Items {
		g.admit(ctx, item, cutoff)
	}

	s.recordSuccess(now)
}

func (g *Ingestor) admit(ctx context.Context, item *gofeed.Item, cutoff time.Time) {
	if item == nil || item.Link == "" {
		return
	}

	pubDate := g.now()
	if item.PublishedParsed != nil {
		pubDate = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		pubDate = *item.UpdatedParsed
	}
	if pubDate.Before(cutoff) {
		return
	}

	parsed, err := url.Parse(item.Link)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return
	}

	candidate := frontier.NewCrawlAdmissionCandidate(
		*parsed,
		frontier.SourceCrawl,
		frontier.NewDiscoveryMetadata(0, nil),
	)
	if _, err := g.frontier.Push(ctx, candidate, discoveredPriority); err != nil {
		g.logger.Warn("feed: frontier push failed", "url", item.Link, "err", err)
	}
}
