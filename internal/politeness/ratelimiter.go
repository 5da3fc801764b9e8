// Package politeness holds the spec's RateLimiter, Blacklist and UrlFilter
// components: everything that decides whether and how fast a domain may
// be crawled (§4.5).
package politeness

import (
	"time"

	"github.com/corewalker/crawler/pkg/limiter"
	"github.com/corewalker/crawler/pkg/timeutil"
)

const (
	defaultMinInterval = 200 * time.Millisecond
	maxThrottleInterval = 60 * time.Second
	errorWindow         = 10 * time.Minute
	errorWindowLimit    = 5
)

// RateLimiter adapts pkg/limiter.ConcurrentRateLimiter to the spec's
// acquire/record_error contract (§4.5), additionally tracking a rolling
// error count per domain for Blacklist escalation.
type RateLimiter struct {
	inner   *limiter.ConcurrentRateLimiter
	errors  *errorTracker
}

func NewRateLimiter() *RateLimiter {
	inner := limiter.NewConcurrentRateLimiter()
	inner.SetBaseDelay(defaultMinInterval)
	inner.SetJitter(50 * time.Millisecond)
	inner.SetBackoffParam(timeutil.NewBackoffParam(1*time.Second, 2.0, maxThrottleInterval))
	return &RateLimiter{
		inner:  inner,
		errors: newErrorTracker(),
	}
}

// Acquire returns (true, 0) if a request is permitted now (and marks the
// domain's last-fetch time), or (false, wait) with the minimum delay
// before the next attempt.
func (r *RateLimiter) Acquire(domain string, now time.Time) (bool, time.Duration) {
	delay := r.inner.ResolveDelayAt(domain, now)
	if delay <= 0 {
		r.inner.MarkLastFetchAt(domain, now)
		return true, 0
	}
	return false, delay
}

// SetCrawlDelay overrides a domain's minimum interval, typically sourced
// from RobotsCache.CrawlDelay.
func (r *RateLimiter) SetCrawlDelay(domain string, d time.Duration) {
	r.inner.SetCrawlDelay(domain, d)
}

// RecordError applies spec §4.5's record_error transition: HTTP 429/503
// multiply the backoff interval (capped); errors accumulate toward a
// Blacklist signal.
func (r *RateLimiter) RecordError(domain string, blacklist *Blacklist) {
	r.inner.Backoff(domain)
	if r.errors.recordAndCheckThreshold(domain, errorWindowLimit, errorWindow) {
		blacklist.Add(domain, time.Hour)
	}
}

// RecordSuccess resets a domain's error streak after a clean fetch.
func (r *RateLimiter) RecordSuccess(domain string) {
	r.inner.ResetBackoff(domain)
	r.errors.reset(domain)
}
