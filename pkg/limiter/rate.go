package limiter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/corewalker/crawler/pkg/timeutil"
)

// RateLimiter
// Specialized component to manage rate limiting during crawling
// Responsibilities:
// - Bookkeep each hostname's last fetch timestamp
// - Compute the final delay for each hostname given various factors
// - Make sure the crawling process respects the server's policy
type RateLimiter interface {
	SetBaseDelay(baseDelay time.Duration)
	SetJitter(jitter time.Duration)
	SetRandomSeed(randomSeed int64)
	SetBackoffParam(param timeutil.BackoffParam)
	SetCrawlDelay(host string, delay time.Duration)
	Backoff(host string)
	ResetBackoff(host string)
	MarkLastFetchAsNow(host string)
	MarkLastFetchAt(host string, now time.Time)
	SetRNG(rng *rand.Rand)
	ResolveDelay(host string) time.Duration
	ResolveDelayAt(host string, now time.Time) time.Duration
}

// ConcurrentRateLimiter is a RateLimiter safe for use by many goroutines,
// one per in-flight fetch, sharing a single host-keyed timing table.
type ConcurrentRateLimiter struct {
	mu           sync.RWMutex
	rngMu        sync.Mutex
	baseDelay    time.Duration
	jitter       time.Duration
	backoffParam timeutil.BackoffParam
	hostTimings  map[string]hostTiming
	rng          *rand.Rand
}

func NewConcurrentRateLimiter() *ConcurrentRateLimiter {
	return &ConcurrentRateLimiter{
		hostTimings:  make(map[string]hostTiming),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		backoffParam: timeutil.NewBackoffParam(1*time.Second, 2.0, 30*time.Second),
	}
}

func (r *ConcurrentRateLimiter) SetBaseDelay(baseDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseDelay = baseDelay
}

func (r *ConcurrentRateLimiter) SetJitter(jitter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jitter = jitter
}

func (r *ConcurrentRateLimiter) SetRandomSeed(randomSeed int64) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rand.New(rand.NewSource(randomSeed))
}

// SetBackoffParam overrides the default exponential backoff schedule
// (1s initial, x2 multiplier, 30s cap).
func (r *ConcurrentRateLimiter) SetBackoffParam(param timeutil.BackoffParam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffParam = param
}

// SetCrawlDelay sets a per-host delay, separate from the global base delay.
// RobotsCache supplies this value when a robots.txt declares Crawl-delay.
func (r *ConcurrentRateLimiter) SetCrawlDelay(host string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.hostTimings[host]
	t.crawlDelay = delay
	r.hostTimings[host] = t
}

// Backoff triggers exponential backoff for the given host: increments the
// backoff counter and recomputes the delay from the configured schedule.
func (r *ConcurrentRateLimiter) Backoff(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.hostTimings[host]
	t.backoffCount++
	t.backoffDelay = r.exponentialBackoffDelayLocked(t.backoffCount)
	r.hostTimings[host] = t
}

// exponentialBackoffDelayLocked must be called with r.mu held.
func (r *ConcurrentRateLimiter) exponentialBackoffDelayLocked(backoffCount int) time.Duration {
	r.rngMu.Lock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng := *r.rng
	r.rngMu.Unlock()

	return timeutil.ExponentialBackoffDelay(backoffCount, r.jitter, rng, r.backoffParam)
}

// ResetBackoff clears the backoff counter for host, called after a
// successful request.
func (r *ConcurrentRateLimiter) ResetBackoff(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.hostTimings[host]
	if exists {
		t.backoffCount = 0
		t.backoffDelay = 0
		r.hostTimings[host] = t
	}
}

// MarkLastFetchAsNow records that host was just fetched.
func (r *ConcurrentRateLimiter) MarkLastFetchAsNow(host string) {
	r.MarkLastFetchAt(host, time.Now())
}

// MarkLastFetchAt records that host was fetched at the given instant,
// letting callers inject the clock the way pkg/timeutil.Sleeper lets them
// inject sleep.
func (r *ConcurrentRateLimiter) MarkLastFetchAt(host string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.hostTimings[host]
	t.lastFetchAt = now
	r.hostTimings[host] = t
}

// SetRNG allows injecting a custom random number generator for testing. A
// nil argument is treated as "uninitialized" and lazily reseeded on next use.
func (r *ConcurrentRateLimiter) SetRNG(rng *rand.Rand) {
	r.rngMu.Lock()
	r.rng = rng
	r.rngMu.Unlock()
}

// computeJitter returns a pseudo-random duration in [0, max).
func (r *ConcurrentRateLimiter) computeJitter(max time.Duration) time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()

	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(r.rng.Int63n(int64(max)))
}

// ResolveDelay computes the remaining wait before host may be fetched again:
//
//	finalDelay = max(baseDelay, crawlDelay, backoffDelay) + jitter
//	remaining  = finalDelay - time.Since(lastFetchAt)
//
// An unregistered host (never marked fetched) returns zero: it is free to
// fetch immediately.
func (r *ConcurrentRateLimiter) ResolveDelay(host string) time.Duration {
	return r.ResolveDelayAt(host, time.Now())
}

// ResolveDelayAt is ResolveDelay with the "current time" supplied by the
// caller instead of read from the wall clock, for deterministic tests.
func (r *ConcurrentRateLimiter) ResolveDelayAt(host string, now time.Time) time.Duration {
	r.mu.RLock()
	t, exists := r.hostTimings[host]
	base := r.baseDelay
	jitter := r.jitter
	r.mu.RUnlock()

	if !exists {
		return 0
	}

	finalDelay := timeutil.MaxDuration([]time.Duration{base, t.crawlDelay, t.backoffDelay})
	finalDelay += r.computeJitter(jitter)

	elapsed := now.Sub(t.lastFetchAt)
	if elapsed < finalDelay {
		return finalDelay - elapsed
	}
	return 0
}

func (r *ConcurrentRateLimiter) BaseDelay() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseDelay
}

func (r *ConcurrentRateLimiter) Jitter() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jitter
}

func (r *ConcurrentRateLimiter) RNG() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng
}

// HostTimings returns a shallow copy of the per-host timing table, safe for
// the caller to range over without holding the limiter's lock.
func (r *ConcurrentRateLimiter) HostTimings() map[string]hostTiming {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]hostTiming, len(r.hostTimings))
	for k, v := range r.hostTimings {
		out[k] = v
	}
	return out
}
