// Package orchestrator is the spec's CrawlerOrchestrator (§4.11): builds
// every component in leaf-first order, launches the fetch worker pool plus
// the background ingestion/persistence tasks, and runs the six-step
// shutdown protocol on SIGINT/SIGTERM (or an optional page-count stop
// condition).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corewalker/crawler/internal/config"
	"github.com/corewalker/crawler/internal/feed"
	"github.com/corewalker/crawler/internal/fetchengine"
	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/internal/kv"
	"github.com/corewalker/crawler/internal/metrics"
	"github.com/corewalker/crawler/internal/politeness"
	"github.com/corewalker/crawler/internal/robots"
	"github.com/corewalker/crawler/internal/sitemap"
	"github.com/corewalker/crawler/internal/storagesink"
	"github.com/corewalker/crawler/internal/urlstore"
)

// ErrSignalShutdown is returned by Run when the process stopped because it
// received SIGINT/SIGTERM, as opposed to an internally decided stop
// condition (e.g. CRAWLER_MAX_PAGES). cmd/crawler maps this to exit 130.
var ErrSignalShutdown = errors.New("orchestrator: shutdown requested by signal")

const (
	defaultSitemapInterval = time.Hour
	defaultFeedInterval    = 5 * time.Minute
	defaultStatusInterval  = 5 * time.Second
	defaultShutdownDeadline = 60 * time.Second
)

// Seeds bundles the JSON-seeded scope tables the orchestrator wires into
// its components at startup (spec §6's configuration directory contract).
type Seeds struct {
	ExcludedExtensions  []string
	ExcludedPatterns    []string
	HighPriorityDomains []string
	SeedSitemaps        []string
	SeedFeeds           []string
}

// Orchestrator owns every component for one crawl process.
type Orchestrator struct {
	logger *slog.Logger

	kvStore    *kv.Store
	spillQueue frontier.Spiller
	frontier   *frontier.Frontier
	metadata   *urlstore.Store
	robots     *robots.Cache
	limiter    *politeness.RateLimiter
	blacklist  *politeness.Blacklist
	filter     *politeness.UrlFilter
	recorder   *metrics.Recorder
	sink       *storagesink.Sink
	engine     *fetchengine.Engine
	sitemapIng *sitemap.Ingestor
	feedIng    *feed.Ingestor

	maxPages         int64
	shutdownDeadline time.Duration
	statusInterval   time.Duration
	sitemapInterval  time.Duration
	feedInterval     time.Duration

	closeSpill func() error
}

// Spill is the concrete overflow store the orchestrator needs direct
// access to during shutdown step 3 ("spill in-memory Frontier to
// SpillQueue"); it's the same instance handed to frontier.New as a
// frontier.Spiller.
type Spill interface {
	frontier.Spiller
	Close() error
}

// New builds every component leaf-first: kv -> urlstore -> spill ->
// frontier -> robots/politeness -> fetchengine -> storagesink ->
// sitemap/feed ingestors. dataDir holds the embedded KV, spill shards and
// raw output batches (spec §6's CRAWLER_DATA_DIR layout).
func New(cfg config.Config, seeds Seeds, dataDir string, spillQueue Spill, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kvStore, err := kv.Open(filepath.Join(dataDir, "metadata.kv"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening metadata kv: %w", err)
	}

	metadata := urlstore.New(kvStore, urlstore.Config{})
	fr := frontier.New(frontier.Config{
		Capacity:     cfg.FrontierCapacity(),
		LowWaterMark: cfg.LowWaterMark(),
		RefillBatch:  cfg.RefillBatch(),
	}, spillQueue)

	robotsClient := &http.Client{Timeout: cfg.RobotsFetchLimit()}
	robotsCache := robots.New(robotsClient, robots.Config{
		UserAgent:    cfg.UserAgent(),
		FetchTimeout: cfg.RobotsFetchLimit(),
		DefaultDelay: cfg.BaseDelay(),
	})

	limiter := politeness.NewRateLimiter()
	blacklist := politeness.NewBlacklist()
	filter := politeness.NewUrlFilter(seeds.ExcludedExtensions, seeds.ExcludedPatterns, seeds.HighPriorityDomains)

	recorder := metrics.NewRecorder(logger)

	sink, err := storagesink.New(storagesink.Config{OutputDir: filepath.Join(dataDir, "raw")}, logger)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("orchestrator: opening storage sink: %w", err)
	}

	engine := fetchengine.New(fetchengine.Config{
		Workers:           cfg.Workers(),
		RequestsPerWorker: cfg.RequestsPerWorker(),
		TotalTimeout:      cfg.FetchTimeout(),
		MaxDepth:          cfg.MaxDepth(),
		UserAgent:         cfg.UserAgent(),
	}, fetchengine.Deps{
		Frontier:  fr,
		Robots:    robotsCache,
		Limiter:   limiter,
		Blacklist: blacklist,
		Filter:    filter,
		Metadata:  metadata,
		Sink:      sink,
		Metrics:   recorder,
	})

	feedClient := &http.Client{Timeout: 20 * time.Second}
	sitemapIng := sitemap.New(robotsClient, fr, logger, recorder)
	feedIng := feed.New(feedClient, fr, logger, recorder)
	for _, s := range seeds.SeedSitemaps {
		sitemapIng.AddSitemap(s, 0.7, 0)
	}
	for _, f := range seeds.SeedFeeds {
		feedIng.AddFeed(f, 0)
	}

	o := &Orchestrator{
		logger:           logger,
		kvStore:          kvStore,
		frontier:         fr,
		metadata:         metadata,
		robots:           robotsCache,
		limiter:          limiter,
		blacklist:        blacklist,
		filter:           filter,
		recorder:         recorder,
		sink:             sink,
		engine:           engine,
		sitemapIng:       sitemapIng,
		feedIng:          feedIng,
		shutdownDeadline: defaultShutdownDeadline,
		statusInterval:   defaultStatusInterval,
		sitemapInterval:  defaultSitemapInterval,
		feedInterval:     defaultFeedInterval,
		closeSpill:       spillQueue.Close,
		spillQueue:       spillQueue,
	}
	return o, nil
}

// WithMaxPages sets the optional CRAWLER_MAX_PAGES stop condition: once
// the recorder has counted this many fetches (every fetch result, whatever
// its status), the orchestrator
// shuts itself down as if a signal had arrived, but Run returns nil
// instead of ErrSignalShutdown.
func (o *Orchestrator) WithMaxPages(n int) *Orchestrator {
	o.maxPages = int64(n)
	return o
}

// WithShutdownDeadline overrides the default 60s hard deadline (spec §5).
func (o *Orchestrator) WithShutdownDeadline(d time.Duration) *Orchestrator {
	if d > 0 {
		o.shutdownDeadline = d
	}
	return o
}

// Run seeds the frontier, launches every background task, and blocks until
// a shutdown condition is reached, running the full six-step shutdown
// protocol before returning.
func (o *Orchestrator) Run(parentCtx context.Context, seedURLs []string) error {
	runCtx, cancelRun := context.WithCancel(parentCtx)
	defer cancelRun()
	ctx, stopSignal := signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignal()

	o.seedFrontier(ctx, seedURLs)

	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error { o.sink.Run(bgCtx); return nil })
	bg.Go(func() error { o.sitemapIng.Run(bgCtx, o.sitemapInterval); return nil })
	bg.Go(func() error { o.feedIng.Run(bgCtx, o.feedInterval); return nil })

	var maxPagesTripped bool
	if o.maxPages > 0 {
		bg.Go(func() error {
			o.watchMaxPages(bgCtx, cancelRun, &maxPagesTripped)
			return nil
		})
	}
	bg.Go(func() error {
		o.statusLoop(bgCtx)
		return nil
	})

	engineDone := make(chan error, 1)
	go func() { engineDone <- o.engine.Run(ctx) }()

	<-ctx.Done()
	o.logger.Info("orchestrator: shutdown sequence starting", "reason", shutdownReason(ctx, maxPagesTripped))

	deadlineCtx, cancelDeadline := context.WithTimeout(context.Background(), o.shutdownDeadline)
	defer cancelDeadline()

	select {
	case <-engineDone:
	case <-deadlineCtx.Done():
		o.logger.Warn("orchestrator: deadline exceeded waiting for fetch workers to drain", "frontier_len", o.frontier.Len())
	}

	o.spillRemainingFrontier(context.Background())

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	o.metadata.Close(closeCtx)
	cancelClose()

	bgDone := make(chan error, 1)
	go func() { bgDone <- bg.Wait() }()
	select {
	case <-bgDone:
	case <-deadlineCtx.Done():
		o.logger.Warn("orchestrator: deadline exceeded waiting for background tasks to drain")
	}

	o.finalize()

	if maxPagesTripped {
		return nil
	}
	return ErrSignalShutdown
}

func shutdownReason(ctx context.Context, maxPagesTripped bool) string {
	if maxPagesTripped {
		return "max_pages"
	}
	if ctx.Err() != nil {
		return "signal"
	}
	return "unknown"
}

func (o *Orchestrator) seedFrontier(ctx context.Context, seedURLs []string) {
	for _, raw := range seedURLs {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			o.logger.Warn("orchestrator: skipping unparsable seed URL", "url", raw, "err", err)
			continue
		}
		u := *parsed
		candidate := frontier.NewCrawlAdmissionCandidate(u, frontier.SourceSeed, frontier.NewDiscoveryMetadata(0, nil))
		if _, err := o.frontier.Push(ctx, candidate, 1.0); err != nil {
			o.logger.Warn("orchestrator: seed admission failed", "url", raw, "err", err)
		}
	}
}

// watchMaxPages polls the recorder's snapshot and triggers shutdown the
// first time the observed fetch count reaches the configured cap.
func (o *Orchestrator) watchMaxPages(ctx context.Context, cancelRun context.CancelFunc, tripped *bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var once sync.Once
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.recorder.Snapshot().PagesFetched >= o.maxPages {
				once.Do(func() {
					*tripped = true
					o.logger.Info("orchestrator: max pages reached, stopping", "max_pages", o.maxPages)
					cancelRun()
				})
				return
			}
		}
	}
}

func (o *Orchestrator) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(o.statusInterval)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.recorder.Snapshot()
			o.logger.Info("orchestrator: status",
				"pages_fetched", snap.PagesFetched,
				"assets_fetched", snap.AssetsFetched,
				"errors_total", snap.ErrorsTotal,
				"frontier_mem", o.frontier.Len(),
				"frontier_spill", o.frontier.SpillLen(),
				"elapsed", time.Since(started).Round(time.Second),
			)
		}
	}
}

// spillRemainingFrontier drains whatever is still held in memory back into
// the spill queue (shutdown step 3), so a restart resumes rather than
// loses the in-flight frontier state.
func (o *Orchestrator) spillRemainingFrontier(ctx context.Context) {
	n := 0
	for {
		token, ok := o.frontier.Pop()
		if !ok {
			break
		}
		u := token.URL()
		priority := o.filter.Priority(u.String(), token.Depth())
		candidate := frontier.NewCrawlAdmissionCandidate(u, frontier.SourceCrawl, frontier.NewDiscoveryMetadata(token.Depth(), nil))
		if err := o.spillQueue.Spill(ctx, candidate, priority); err != nil {
			o.logger.Error("orchestrator: spilling frontier remainder failed", "url", u.String(), "err", err)
			continue
		}
		n++
	}
	o.logger.Info("orchestrator: spilled in-memory frontier for resumption", "count", n)
}

// finalize logs the terminal crawl summary and closes every component
// still holding a file handle.
func (o *Orchestrator) finalize() {
	snap := o.recorder.Snapshot()
	o.recorder.RecordFinalCrawlStats(int(snap.PagesFetched), int(snap.ErrorsTotal), int(snap.AssetsFetched), snap.ElapsedDuration)

	if err := o.sink.Close(); err != nil {
		o.logger.Error("orchestrator: closing storage sink", "err", err)
	}
	if o.closeSpill != nil {
		if err := o.closeSpill(); err != nil {
			o.logger.Error("orchestrator: closing spill queue", "err", err)
		}
	}
	if err := o.kvStore.Close(); err != nil {
		o.logger.Error("orchestrator: closing metadata kv", "err", err)
	}

	o.logger.Info("orchestrator: shutdown complete",
		"pages_fetched", snap.PagesFetched,
		"errors_total", snap.ErrorsTotal,
		"frontier_remaining", o.frontier.Len(),
		"spill_remaining", o.frontier.SpillLen(),
	)
}
