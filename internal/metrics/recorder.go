package metrics

/*
Metadata Collected
  - Fetch timestamps, HTTP status codes, content hashes, crawl depth

Logging Goals
  - Debuggable crawl behavior, post-run auditability, failure diagnostics

Structured logging is preferred.

Allowed:
  - Primitive values, timestamps, URLs as values, hashes, status codes,
    durations, identifiers (page ID, crawl ID).
*/

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder is the production MetadataSink/CrawlFinalizer: it logs every
// event through an injected *slog.Logger and keeps a running tally for
// Snapshot(). Safe for concurrent use by many fetch workers.
type Recorder struct {
	logger *slog.Logger
	start  time.Time

	pagesFetched  atomic.Int64
	assetsFetched atomic.Int64
	errorsTotal   atomic.Int64

	mu            sync.Mutex
	errorsByCause map[ErrorCause]int64
}

// NewRecorder builds a Recorder logging through logger. A nil logger falls
// back to slog.Default().
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger:        logger,
		start:         time.Now(),
		errorsByCause: make(map[ErrorCause]int64),
	}
}

func attrsToAny(attrs []Attribute) []any {
	out := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		out = append(out, string(a.Key), a.Value)
	}
	return out
}

func (r *Recorder) RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.pagesFetched.Add(1)
	r.logger.Info("fetch",
		"url", fetchURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"content_type", contentType,
		"retry_count", retryCount,
		"depth", crawlDepth,
	)
}

func (r *Recorder) RecordAssetFetch(fetchURL string, httpStatus int, duration time.Duration, retryCount int) {
	r.assetsFetched.Add(1)
	r.logger.Debug("asset_fetch",
		"url", fetchURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"retry_count", retryCount,
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, details string, attrs []Attribute) {
	r.errorsTotal.Add(1)

	r.mu.Lock()
	r.errorsByCause[cause]++
	r.mu.Unlock()

	args := []any{
		"time", observedAt,
		"package", packageName,
		"action", action,
		"cause", cause.String(),
		"details", details,
	}
	args = append(args, attrsToAny(attrs)...)
	r.logger.Warn("error", args...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	args := []any{"kind", kind.String(), "path", path}
	args = append(args, attrsToAny(attrs)...)
	r.logger.Debug("artifact", args...)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	r.logger.Info("crawl_complete",
		"total_pages", totalPages,
		"total_errors", totalErrors,
		"total_assets", totalAssets,
		"duration_ms", duration.Milliseconds(),
	)
}

// Snapshot returns a point-in-time read of the accumulated counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	byCause := make(map[ErrorCause]int64, len(r.errorsByCause))
	for k, v := range r.errorsByCause {
		byCause[k] = v
	}
	r.mu.Unlock()

	return Snapshot{
		PagesFetched:    r.pagesFetched.Load(),
		ErrorsTotal:     r.errorsTotal.Load(),
		AssetsFetched:   r.assetsFetched.Load(),
		ErrorsByCause:   byCause,
		ElapsedDuration: time.Since(r.start),
	}
}

var (
	_ MetadataSink   = (*Recorder)(nil)
	_ CrawlFinalizer = (*Recorder)(nil)
)
