// Package fetchengine is the spec's FetchEngine: drives many outbound
// HTTP requests concurrently, enforces per-request limits, and delivers
// completions to the post-fetch pipeline (§4.7).
//
// The source system multiplexes requests through a single per-worker
// multi-handle polled on a bounded interval. Go's natural non-blocking
// primitive is the goroutine plus a bounded semaphore: each worker is a
// goroutine that keeps up to C_req fetches in flight via its own
// semaphore channel, which is the idiomatic equivalent of "up to N
// concurrent transfers per multi-handle, no operation blocks the worker
// directly" — see DESIGN.md.
package fetchengine

import (
	"net/url"
	"time"
)

// Outcome is the spec §4.7/§9 FetchResult variant: completion dispatch
// branches on this, never on an HTTP status code directly at call sites
// outside this package.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeLowQuality
	OutcomeTemporaryFailure
	OutcomePermanentlyDiscouraged
	OutcomeRateLimited
	OutcomeNetworkError
)

// FetchResult is one completed (or failed) HTTP fetch, ready for the
// post-fetch pipeline: link extraction, storage, and metadata update.
type FetchResult struct {
	RequestURL  url.URL
	FinalURL    url.URL
	Outcome     Outcome
	HTTPStatus  int
	ContentType string
	Body        []byte
	ContentHash string
	FetchedAt   time.Time
	Duration    time.Duration
	Depth       int
	Err         error
}

func (r FetchResult) Domain() string {
	return r.RequestURL.Hostname()
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTotalTimeout   = 15 * time.Second
	defaultMaxRedirects   = 5
	defaultBodyCap        = 5 * 1024 * 1024
	defaultMaxLinksPerPage = 50
	defaultMaxDepth        = 5
)
