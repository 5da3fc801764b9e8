package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/corewalker/crawler/pkg/failure"
)

type cacheEntry struct {
	data      *robotstxt.RobotsData
	sitemaps  []SitemapHint
	fetchedAt time.Time
	ttl       time.Duration
	fetching  bool
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.fetchedAt) > e.ttl
}

// Cache is the production RobotsCache: one fetch in flight per origin at a
// time (spec §4.4 concurrency rule), refreshed on expiry, bounded by
// entry count (a simple LRU eviction policy, since robots.txt records are
// small and count-bounding is sufficient for the spec's cache-shape
// requirement).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string // most-recently-touched last, for count-bound eviction
	maxSize int

	client        HTTPDoer
	userAgent     string
	fetchTimeout  time.Duration
	defaultDelay  time.Duration
}

// Config tunes the cache's size and fetch behavior.
type Config struct {
	MaxEntries   int
	UserAgent    string
	FetchTimeout time.Duration
	DefaultDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.UserAgent == "" {
		c.UserAgent = "corewalker-crawler/1.0"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = 200 * time.Millisecond
	}
	return c
}

// New builds a Cache that issues robots.txt fetches through client.
func New(client HTTPDoer, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		entries:      make(map[string]*cacheEntry),
		maxSize:      cfg.MaxEntries,
		client:       client,
		userAgent:    cfg.UserAgent,
		fetchTimeout: cfg.FetchTimeout,
		defaultDelay: cfg.DefaultDelay,
	}
}

// IsAllowed implements spec §4.4's is_allowed. If no fresh record exists,
// a fetch is scheduled synchronously here (one per origin, guarded by the
// cache mutex) and the verdict for concurrent callers during that fetch is
// Unknown.
func (c *Cache) IsAllowed(ctx context.Context, origin string, path string) Decision {
	c.mu.Lock()
	entry, ok := c.entries[origin]
	if ok && !entry.expired(time.Now()) {
		data := entry.data
		c.touch(origin)
		c.mu.Unlock()
		return decideFrom(data, c.userAgent, path)
	}
	if ok && entry.fetching {
		c.mu.Unlock()
		return Decision{Allow: Unknown, Reason: ReasonPending}
	}
	if entry == nil {
		entry = &cacheEntry{}
		c.entries[origin] = entry
	}
	entry.fetching = true
	c.mu.Unlock()

	data, sitemaps, ttl, fetchErr := c.fetch(ctx, origin)

	c.mu.Lock()
	entry.fetching = false
	if fetchErr != nil {
		// 404/403/empty/any fetch failure: "allow all, no sitemaps" per
		// spec §4.4.
		entry.data = nil
		entry.sitemaps = nil
		entry.fetchedAt = time.Now()
		entry.ttl = defaultTTL
		c.touch(origin)
		c.evictIfNeeded()
		c.mu.Unlock()
		return Decision{Allow: Allow, Reason: ReasonFetchFailedAllowAll}
	}

	entry.data = data
	entry.sitemaps = sitemaps
	entry.fetchedAt = time.Now()
	entry.ttl = ttl
	c.touch(origin)
	c.evictIfNeeded()
	c.mu.Unlock()

	return decideFrom(data, c.userAgent, path)
}

func decideFrom(data *robotstxt.RobotsData, userAgent string, path string) Decision {
	if data == nil {
		return Decision{Allow: Allow, Reason: ReasonFetchFailedAllowAll}
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return Decision{Allow: Allow, Reason: ReasonUserAgentNotMatched}
	}
	if len(group.Rules) == 0 {
		return Decision{Allow: Allow, Reason: ReasonEmptyRuleSet}
	}
	if group.Test(path) {
		return Decision{Allow: Allow, Reason: ReasonAllowedByRobots}
	}
	return Decision{Allow: Deny, Reason: ReasonDisallowedByRobots}
}

// CrawlDelay returns the origin's robots.txt crawl-delay, or the cache's
// configured default when absent or unknown.
func (c *Cache) CrawlDelay(origin string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[origin]
	if !ok || entry.data == nil {
		return c.defaultDelay
	}
	group := entry.data.FindGroup(c.userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return c.defaultDelay
	}
	return group.CrawlDelay
}

// SitemapsFor returns the sitemap hints discovered in origin's robots.txt.
func (c *Cache) SitemapsFor(origin string) []SitemapHint {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[origin]
	if !ok {
		return nil
	}
	out := make([]SitemapHint, len(entry.sitemaps))
	copy(out, entry.sitemaps)
	return out
}

// Invalidate forces the next IsAllowed call for origin to refetch.
func (c *Cache) Invalidate(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, origin)
}

func (c *Cache) touch(origin string) {
	for i, o := range c.order {
		if o == origin {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, origin)
}

func (c *Cache) evictIfNeeded() {
	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, []SitemapHint, time.Duration, failure.ClassifiedError) {
	robotsURL := origin + "/robots.txt"

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, nil, 0, newRobotsError(err, "build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, 0, newRobotsError(err, "fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return nil, nil, 0, newRobotsError(fmt.Errorf("status %d", resp.StatusCode), "fetch")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, 0, newRobotsError(err, "read body")
	}
	if len(body) == 0 {
		return nil, nil, 0, newRobotsError(fmt.Errorf("empty body"), "fetch")
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, nil, 0, newRobotsError(err, "parse")
	}

	ttl := ttlFromResponse(resp)
	return data, sitemapHintsFrom(data), ttl, nil
}

func ttlFromResponse(resp *http.Response) time.Duration {
	// cache-control max-age, if present and smaller than the default TTL.
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		var maxAge int
		if _, err := fmt.Sscanf(cc, "max-age=%d", &maxAge); err == nil && maxAge > 0 {
			if d := time.Duration(maxAge) * time.Second; d < defaultTTL {
				return d
			}
		}
	}
	return defaultTTL
}

func sitemapHintsFrom(data *robotstxt.RobotsData) []SitemapHint {
	if data == nil || len(data.Sitemaps) == 0 {
		return nil
	}
	hints := make([]SitemapHint, 0, len(data.Sitemaps))
	for _, s := range data.Sitemaps {
		hints = append(hints, SitemapHint{URL: s, Priority: 0.8})
	}
	return hints
}

// OriginOf extracts the scheme://host origin for use as a cache key.
func OriginOf(u url.URL) string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
