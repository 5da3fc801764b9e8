package fetchengine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/internal/htmlx"
	"github.com/corewalker/crawler/internal/metrics"
	"github.com/corewalker/crawler/internal/politeness"
	"github.com/corewalker/crawler/internal/robots"
	"github.com/corewalker/crawler/internal/urlstore"
	"github.com/corewalker/crawler/pkg/hashutil"
	"github.com/corewalker/crawler/pkg/timeutil"
)

// Document is the spec's fetched-page record (§3): created on a fetch
// completion, consumed by StorageSink, discarded after ingestion.
type Document struct {
	URL             string
	FinalURL        string
	HTTPStatus      int
	ContentType     string
	Body            []byte
	ContentHash     string
	FetchedAt       time.Time
	Depth           int
	ReferringDomain string
	ExtractedLinks  []string
}

// Sink is the StorageSink contract FetchEngine submits completed documents
// to. internal/storagesink.Sink implements this.
type Sink interface {
	Submit(doc Document) bool
}

// Config bounds the engine's concurrency and per-request behavior.
type Config struct {
	Workers           int
	RequestsPerWorker int
	ConnectTimeout    time.Duration
	TotalTimeout      time.Duration
	MaxRedirects      int
	BodyCap           int64
	MaxLinksPerPage   int
	MaxDepth          int
	UserAgent         string
	PollInterval      time.Duration
	ShutdownDeadline  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RequestsPerWorker <= 0 {
		c.RequestsPerWorker = 16
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = defaultTotalTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.BodyCap <= 0 {
		c.BodyCap = defaultBodyCap
	}
	if c.MaxLinksPerPage <= 0 {
		c.MaxLinksPerPage = defaultMaxLinksPerPage
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaultMaxDepth
	}
	if c.UserAgent == "" {
		c.UserAgent = "corewalker-crawler/1.0"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = 60 * time.Second
	}
	return c
}

// Engine is the spec's FetchEngine: W worker goroutines, each keeping up
// to RequestsPerWorker fetches in flight via a local semaphore — the
// idiomatic stand-in for a per-worker curl multi-handle (see data.go).
type Engine struct {
	cfg    Config
	client *http.Client

	frontier *frontier.Frontier
	robots   *robots.Cache
	limiter  *politeness.RateLimiter
	blackl   *politeness.Blacklist
	filter   *politeness.UrlFilter
	meta     *urlstore.Store
	sink     Sink
	metrics  metrics.MetadataSink
	sleeper  timeutil.Sleeper
}

// Deps bundles Engine's collaborators, mirroring the teacher's constructor
// style of one struct-of-dependencies per component.
type Deps struct {
	Frontier  *frontier.Frontier
	Robots    *robots.Cache
	Limiter   *politeness.RateLimiter
	Blacklist *politeness.Blacklist
	Filter    *politeness.UrlFilter
	Metadata  *urlstore.Store
	Sink      Sink
	Metrics   metrics.MetadataSink
	Sleeper   timeutil.Sleeper
}

func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Sleeper == nil {
		deps.Sleeper = timeutil.RealSleeper{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopSink{}
	}
	return &Engine{
		cfg:      cfg,
		client:   newClient(cfg.ConnectTimeout, cfg.TotalTimeout, cfg.MaxRedirects),
		frontier: deps.Frontier,
		robots:   deps.Robots,
		limiter:  deps.Limiter,
		blackl:   deps.Blacklist,
		filter:   deps.Filter,
		meta:     deps.Metadata,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		sleeper:  deps.Sleeper,
	}
}

// Run drives cfg.Workers worker goroutines until ctx is cancelled. It
// returns once every worker has finished its in-flight fetches; it applies
// no deadline of its own and does not read Config.ShutdownDeadline.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) workerLoop(ctx context.Context) {
	sem := make(chan struct{}, e.cfg.RequestsPerWorker)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			wg.Wait()
			return
		}

		token, ok := e.frontier.Pop()
		if !ok {
			e.sleeper.Sleep(e.cfg.PollInterval)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			e.requeue(ctx, token)
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(tok frontier.CrawlToken) {
			defer wg.Done()
			defer func() { <-sem }()
			e.process(ctx, tok)
		}(token)
	}
}

// requeue persists a popped-but-not-yet-fetched token back into the
// Frontier on shutdown (spec §4.7: "in-flight requests are cancelled;
// their URLs are persisted back to SpillQueue for resumption").
func (e *Engine) requeue(ctx context.Context, token frontier.CrawlToken) {
	u := token.URL()
	priority := e.filter.Priority(u.String(), token.Depth())
	candidate := frontier.NewCrawlAdmissionCandidate(
		u,
		frontier.SourceCrawl,
		frontier.NewDiscoveryMetadata(token.Depth(), nil),
	)
	_, _ = e.frontier.Push(context.Background(), candidate, priority)
}

func (e *Engine) process(ctx context.Context, token frontier.CrawlToken) {
	u := token.URL()
	domain := u.Hostname()
	origin := robots.OriginOf(u)

	if e.blackl.IsBlacklisted(domain) {
		return
	}

	decision := e.robots.IsAllowed(ctx, origin, u.Path)
	if decision.Allow == robots.Unknown {
		// robots.txt for this origin is still being fetched by another
		// worker; defer rather than drop (spec §4.4: Unknown means "do not
		// crawl yet", not "never").
		e.requeue(ctx, token)
		return
	}
	if decision.Allow != robots.Allow {
		e.metrics.RecordError(time.Now(), "fetchengine", "admission", metrics.CausePolicyDisallow, decision.Reason.String(), []metrics.Attribute{metrics.NewAttr(metrics.AttrURL, u.String())})
		return
	}
	if delay := e.robots.CrawlDelay(origin); delay > 0 {
		e.limiter.SetCrawlDelay(domain, delay)
	}

	ready, wait := e.limiter.Acquire(domain, time.Now())
	if !ready {
		e.sleeper.Sleep(wait)
		ready, _ = e.limiter.Acquire(domain, time.Now())
		if !ready {
			e.requeue(ctx, token)
			return
		}
	}

	result := e.fetch(ctx, u, token.Depth())
	e.dispatch(ctx, token, result)
}

func (e *Engine) fetch(ctx context.Context, u url.URL, depth int) FetchResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return FetchResult{RequestURL: u, Outcome: OutcomeNetworkError, FetchedAt: start, Depth: depth, Err: err}
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")

	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return FetchResult{RequestURL: u, Outcome: OutcomeNetworkError, FetchedAt: start, Duration: duration, Depth: depth, Err: err}
	}
	defer resp.Body.Close()

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = *resp.Request.URL
	}

	body, truncated, err := readCapped(resp.Body, e.cfg.BodyCap)
	_ = truncated
	if err != nil {
		return FetchResult{RequestURL: u, FinalURL: finalURL, HTTPStatus: resp.StatusCode, Outcome: OutcomeNetworkError, FetchedAt: start, Duration: duration, Depth: depth, Err: err}
	}

	return FetchResult{
		RequestURL:  u,
		FinalURL:    finalURL,
		HTTPStatus:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		ContentHash: hashutil.ShortDigest(body),
		FetchedAt:   start,
		Duration:    duration,
		Depth:       depth,
	}
}

// readCapped reads at most limit+1 bytes so callers can detect a response
// that exceeded the cap without buffering it in full.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	lr := io.LimitReader(r, limit+1)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(lr); err != nil {
		return nil, false, err
	}
	data := buf.Bytes()
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func (e *Engine) dispatch(ctx context.Context, token frontier.CrawlToken, result FetchResult) {
	rawURL := result.RequestURL.String()
	domain := result.RequestURL.Hostname()
	now := result.FetchedAt

	switch {
	case result.Err != nil:
		e.meta.RecordTemporaryFailure(rawURL, now)
		e.limiter.RecordError(domain, e.blackl)
		e.metrics.RecordError(now, "fetchengine", "fetch", metrics.CauseNetworkFailure, result.Err.Error(), []metrics.Attribute{metrics.NewAttr(metrics.AttrURL, rawURL)})

	case result.HTTPStatus == http.StatusUnauthorized || result.HTTPStatus == http.StatusForbidden:
		e.meta.MarkPermanentlyDiscouraged(rawURL, now)

	case result.HTTPStatus == http.StatusTooManyRequests || result.HTTPStatus == http.StatusServiceUnavailable:
		e.limiter.RecordError(domain, e.blackl)
		e.meta.RecordTemporaryFailure(rawURL, now)

	case result.HTTPStatus >= 300 && result.HTTPStatus < 400:
		e.meta.RecordTemporaryFailure(rawURL, now)

	case result.HTTPStatus >= 400:
		e.meta.RecordTemporaryFailure(rawURL, now)

	case result.HTTPStatus >= 200 && result.HTTPStatus < 300:
		e.dispatchSuccess(ctx, token, result)

	default:
		e.meta.RecordTemporaryFailure(rawURL, now)
	}

	e.metrics.RecordFetch(rawURL, result.HTTPStatus, result.Duration, result.ContentType, 0, token.Depth())
}

func (e *Engine) dispatchSuccess(ctx context.Context, token frontier.CrawlToken, result FetchResult) {
	rawURL := result.RequestURL.String()
	domain := result.RequestURL.Hostname()
	now := result.FetchedAt

	extraction := htmlx.Extract(result.Body, result.FinalURL)
	if !extraction.IsHTML || !extraction.IsQuality {
		existing := e.meta.GetOrCreate(rawURL)
		e.meta.RecordSuccess(rawURL, existing.ContentHash, now)
		e.limiter.RecordSuccess(domain)
		return
	}

	e.admitLinks(ctx, extraction.Links, token.Depth()+1)

	if e.sink != nil {
		e.sink.Submit(Document{
			URL:             rawURL,
			FinalURL:        result.FinalURL.String(),
			HTTPStatus:      result.HTTPStatus,
			ContentType:     result.ContentType,
			Body:            result.Body,
			ContentHash:     result.ContentHash,
			FetchedAt:       now,
			Depth:           token.Depth(),
			ReferringDomain: domain,
			ExtractedLinks:  extraction.Links,
		})
	}

	e.meta.RecordSuccess(rawURL, result.ContentHash, now)
	e.limiter.RecordSuccess(domain)
}

type scoredLink struct {
	url      string
	priority float64
}

// admitLinks applies UrlFilter, scores survivors, and admits at most
// cfg.MaxLinksPerPage of them into the Frontier, highest priority first
// (spec §4.7: "selected by priority").
func (e *Engine) admitLinks(ctx context.Context, links []string, depth int) {
	if depth > e.cfg.MaxDepth {
		return
	}
	scored := make([]scoredLink, 0, len(links))
	for _, l := range links {
		if !e.filter.IsCrawlable(l) {
			continue
		}
		scored = append(scored, scoredLink{url: l, priority: e.filter.Priority(l, depth)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].priority > scored[j].priority })

	if len(scored) > e.cfg.MaxLinksPerPage {
		scored = scored[:e.cfg.MaxLinksPerPage]
	}

	for _, s := range scored {
		parsed, err := url.Parse(s.url)
		if err != nil {
			continue
		}
		candidate := frontier.NewCrawlAdmissionCandidate(
			*parsed,
			frontier.SourceCrawl,
			frontier.NewDiscoveryMetadata(depth, nil),
		)
		_, _ = e.frontier.Push(ctx, candidate, s.priority)
	}
}
