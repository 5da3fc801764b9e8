package urlstore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/corewalker/crawler/internal/kv"
	"github.com/corewalker/crawler/pkg/timeutil"
)

const defaultShardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*UrlMetadata
}

// Store is the sharded, KV-backed MetadataStore (spec §4.3). Each shard's
// map is guarded by its own mutex so get_or_create/record_* calls for
// different URLs never contend.
type Store struct {
	shards       []*shard
	kv           *kv.Store
	baseInterval time.Duration
	sleeper      timeutil.Sleeper

	pending chan persistRequest
	done    chan struct{}
	wg      sync.WaitGroup
}

type persistRequest struct {
	url  string
	data []byte
}

// Config tunes the store's sharding and persistence cadence.
type Config struct {
	Shards         int
	BaseInterval   time.Duration
	FlushBatchSize int
	FlushInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = defaultShardCount
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = defaultBaseInterval
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	return c
}

// New builds a Store over backingKV, starting its background persistence
// worker. Call Close to drain the queue fully on shutdown (spec §4.11
// step 4).
func New(backingKV *kv.Store, cfg Config) *Store {
	cfg = cfg.withDefaults()

	s := &Store{
		shards:       make([]*shard, cfg.Shards),
		kv:           backingKV,
		baseInterval: cfg.BaseInterval,
		sleeper:      timeutil.RealSleeper{},
		pending:      make(chan persistRequest, 4096),
		done:         make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*UrlMetadata)}
	}

	s.wg.Add(1)
	go s.persistenceLoop(cfg.FlushBatchSize, cfg.FlushInterval)
	return s
}

func (s *Store) shardFor(url string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// GetOrCreate returns a clone of the URL's metadata, creating it (first
// from the KV store, then fresh) if absent.
func (s *Store) GetOrCreate(url string) *UrlMetadata {
	sh := s.shardFor(url)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if m, ok := sh.entries[url]; ok {
		return m.clone()
	}

	if data, ok := s.kv.Get(url); ok {
		if m, err := unmarshalUrlMetadata(data); err == nil {
			sh.entries[url] = m
			return m.clone()
		}
		// Corrupt record on startup: treated as missing (spec §4.3).
	}

	m := newUrlMetadata(url)
	sh.entries[url] = m
	s.enqueuePersist(m)
	return m.clone()
}

// RecordSuccess applies spec §4.3's record_success transition.
func (s *Store) RecordSuccess(url string, newHash string, fetchedAt time.Time) {
	sh := s.shardFor(url)
	sh.mu.Lock()
	m, ok := sh.entries[url]
	if !ok {
		m = newUrlMetadata(url)
		sh.entries[url] = m
	}

	m.LastCrawlTime = fetchedAt
	m.CrawlCount++
	m.TemporaryFailures = 0

	if newHash != m.ContentHash {
		m.PreviousChangeTime = fetchedAt
		m.ContentHash = newHash
		m.BackoffMultiplier = 1
		m.ChangeFrequency = ewmaTowardFaster(m.ChangeFrequency)
	} else {
		if m.BackoffMultiplier == 0 {
			m.BackoffMultiplier = 1
		}
		if m.BackoffMultiplier < maxBackoffMultiplier {
			m.BackoffMultiplier *= 2
			if m.BackoffMultiplier > maxBackoffMultiplier {
				m.BackoffMultiplier = maxBackoffMultiplier
			}
		}
		m.ChangeFrequency = ewmaTowardSlower(m.ChangeFrequency)
	}
	m.ExpectedNextCrawl = fetchedAt.Add(s.baseInterval * time.Duration(m.BackoffMultiplier))

	s.enqueuePersist(m)
	sh.mu.Unlock()
}

// RecordTemporaryFailure applies spec §4.3's record_temporary_failure
// transition: it never touches ContentHash.
func (s *Store) RecordTemporaryFailure(url string, fetchedAt time.Time) {
	sh := s.shardFor(url)
	sh.mu.Lock()
	m, ok := sh.entries[url]
	if !ok {
		m = newUrlMetadata(url)
		sh.entries[url] = m
	}

	if m.TemporaryFailures < maxTemporaryFailures {
		m.TemporaryFailures++
	}
	backoffMinutes := time.Duration(1<<m.TemporaryFailures) * time.Minute
	m.ExpectedNextCrawl = fetchedAt.Add(backoffMinutes)

	s.enqueuePersist(m)
	sh.mu.Unlock()
}

// MarkPermanentlyDiscouraged implements the 401/403 outcome in spec
// §4.7: a very long next-crawl, no blacklist entry.
func (s *Store) MarkPermanentlyDiscouraged(url string, fetchedAt time.Time) {
	sh := s.shardFor(url)
	sh.mu.Lock()
	m, ok := sh.entries[url]
	if !ok {
		m = newUrlMetadata(url)
		sh.entries[url] = m
	}
	m.ExpectedNextCrawl = fetchedAt.Add(24 * 365 * time.Hour)
	s.enqueuePersist(m)
	sh.mu.Unlock()
}

// IsReady reports whether url's expected_next_crawl has passed. Unknown
// URLs are always ready (nothing has ever deferred them).
func (s *Store) IsReady(url string, now time.Time) bool {
	sh := s.shardFor(url)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	m, ok := sh.entries[url]
	if !ok {
		return true
	}
	return m.IsReady(now)
}

// CountReady is a best-effort O(N·shard_size) scan used only for
// statistics (spec §4.3).
func (s *Store) CountReady(now time.Time) int {
	count := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, m := range sh.entries {
			if m.IsReady(now) {
				count++
			}
		}
		sh.mu.Unlock()
	}
	return count
}

func (s *Store) enqueuePersist(m *UrlMetadata) {
	data, err := m.marshal()
	if err != nil {
		return
	}
	select {
	case s.pending <- persistRequest{url: m.URL, data: data}:
	default:
		// Persistence queue is full: this request is dropped. The
		// in-memory record is already correct and reaches the store only
		// when a later mutation of the same URL is persisted.
	}
}

func (s *Store) persistenceLoop(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make(map[string][]byte, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		_ = s.kv.PutBatch(batch)
		batch = make(map[string][]byte, batchSize)
	}

	for {
		select {
		case req := <-s.pending:
			batch[req.url] = req.data
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever remains before exiting (spec §4.11 step 4).
			for {
				select {
				case req := <-s.pending:
					batch[req.url] = req.data
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close drains the persistence queue fully and stops the background
// worker. It does not close the underlying kv.Store.
func (s *Store) Close(ctx context.Context) {
	close(s.done)
	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-ctx.Done():
	}
}

func ewmaTowardFaster(current float32) float32 {
	const alpha = 0.3
	return current + alpha*(1.0-current)
}

func ewmaTowardSlower(current float32) float32 {
	const alpha = 0.3
	return current + alpha*(0.0-current)
}
