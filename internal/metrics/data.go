// Package metrics is the crawler's observability surface: structured
// logging of fetch/error/artifact events via log/slog, plus the aggregate
// counters the orchestrator's periodic status line and final summary read
// from. It never drives control flow — see ErrorCause below.
package metrics

import (
	"time"
)

// ArtifactKind classifies what RecordArtifact just persisted, for logging.
type ArtifactKind int

const (
	ArtifactDocument ArtifactKind = iota
	ArtifactSitemapEntry
	ArtifactFeedEntry
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactDocument:
		return "document"
	case ArtifactSitemapEntry:
		return "sitemap_entry"
	case ArtifactFeedEntry:
		return "feed_entry"
	default:
		return "unknown"
	}
}

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause is for observability only.
  - It must never be used to derive retry, continuation, or abort decisions.
  - Any use of metrics.ErrorCause outside logging, metrics, or reporting is
    a design violation.
  - ErrorCause values MUST have stable, package-agnostic semantics.
  - Pipeline packages MAY map their local errors to ErrorCause, but MUST
    NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST be
used.
*/
type ErrorCause int

const (
	// CauseUnknown: the failure does not map cleanly to any known
	// category. Safe fallback for unclassified third-party failures.
	CauseUnknown ErrorCause = iota
	// CauseNetworkFailure: TCP timeouts, DNS failures, connection resets,
	// robots.txt fetch timeouts.
	CauseNetworkFailure
	// CausePolicyDisallow: robots.txt disallow, 401/403, rate-limit or
	// blacklist enforcement.
	CausePolicyDisallow
	// CauseContentInvalid: non-HTML responses, empty/unextractable bodies.
	CauseContentInvalid
	// CauseStorageFailure: disk full, permission errors, filesystem I/O.
	CauseStorageFailure
	// CauseInvariantViolation: an internal consistency check failed.
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
)

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

// Snapshot is a point-in-time read of the accumulated crawl counters,
// consumed by the orchestrator's periodic status line and shutdown summary.
type Snapshot struct {
	PagesFetched    int64
	ErrorsTotal     int64
	AssetsFetched   int64
	ErrorsByCause   map[ErrorCause]int64
	ElapsedDuration time.Duration
}

// MetadataSink receives every observable event during a crawl. It is
// called from many goroutines concurrently and must not block the caller
// for long — Recorder's implementation only logs and bumps atomic counters.
type MetadataSink interface {
	RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordAssetFetch(fetchURL string, httpStatus int, duration time.Duration, retryCount int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// CrawlFinalizer records the terminal, once-only summary of a completed
// crawl. It must be constructed without reading live metadata: the
// orchestrator computes the final counts itself and hands them over.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// NoopSink discards every event. Useful in tests that don't care about
// observability and don't want to thread a logger through.
type NoopSink struct{}

func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int)          {}
func (NoopSink) RecordAssetFetch(string, int, time.Duration, int)                  {}
func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}
func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute)                  {}
func (NoopSink) RecordFinalCrawlStats(int, int, int, time.Duration)                {}

var (
	_ MetadataSink   = NoopSink{}
	_ CrawlFinalizer = NoopSink{}
)
