package frontier

/*
Frontier Responsibilities
  - Hold admitted, not-yet-fetched URLs ordered by priority (highest first,
    ties broken by discovery order)
  - Deduplicate URLs that have already been seen, regardless of whether
    they are currently queued, in flight, or spilled to disk
  - Bound its own memory footprint: once the in-memory heap reaches
    Capacity, new admissions spill to a Spiller instead of growing
    unbounded
  - Refill itself from the Spiller, asynchronously, once the in-memory
    heap drops to the low-water mark

It knows nothing about fetching, extraction, or storage: it is a data
structure plus an overflow policy, not a pipeline executor.
*/

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corewalker/crawler/pkg/urlutil"
)

// Spiller is the overflow sink a Frontier spills excess candidates into,
// and refills itself from, once the in-memory heap empties below the
// low-water mark. internal/spill.Queue implements this.
type Spiller interface {
	Spill(ctx context.Context, candidate CrawlAdmissionCandidate, priority float64) error
	Refill(ctx context.Context, max int) ([]SpillItem, error)
	Len() int64
}

// SpillItem is a candidate handed back by a Spiller during refill.
type SpillItem struct {
	Candidate CrawlAdmissionCandidate
	Priority  float64
}

// Config bounds the in-memory frontier's size and refill behavior.
type Config struct {
	// Capacity is the maximum number of entries held in memory at once.
	Capacity int
	// LowWaterMark triggers an async refill from the Spiller once the
	// in-memory heap drops to or below this size (and the spiller is
	// non-empty). Zero disables refill.
	LowWaterMark int
	// RefillBatch is how many items a single refill asks the Spiller for.
	RefillBatch int
}

// Frontier is a bounded, priority-ordered, thread-safe queue of admitted
// URLs, with overflow to a Spiller when it is full.
type Frontier struct {
	cfg Config

	mu   sync.Mutex
	heap priorityHeap
	seen Set[string]
	seq  uint64

	spiller     Spiller
	refilling   atomic.Bool
	refillGroup sync.WaitGroup
}

// New builds a Frontier bounded by cfg, spilling overflow to spiller.
// spiller may be nil, in which case Push returns an error once Capacity is
// reached instead of spilling (used in tests that don't exercise overflow).
func New(cfg Config, spiller Spiller) *Frontier {
	f := &Frontier{
		cfg:     cfg,
		heap:    priorityHeap{},
		seen:    NewSet[string](),
		spiller: spiller,
	}
	heap.Init(&f.heap)
	return f
}

// dedupeKey canonicalizes a URL for the seen-set so that equivalent
// spellings (trailing slash, fragment, default port) collapse to one entry.
func dedupeKey(u CrawlAdmissionCandidate) string {
	canon := urlutil.Canonicalize(u.TargetURL())
	return canon.String()
}

// Push admits candidate into the frontier at the given priority. Returns
// (false, nil) if the URL was already seen (not an error, just a no-op).
// Once the in-memory heap is at Capacity, the candidate is handed to the
// Spiller instead of growing the heap.
func (f *Frontier) Push(ctx context.Context, candidate CrawlAdmissionCandidate, priority float64) (bool, error) {
	key := dedupeKey(candidate)

	f.mu.Lock()
	if f.seen.Contains(key) {
		f.mu.Unlock()
		return false, nil
	}
	f.seen.Add(key)

	if f.cfg.Capacity > 0 && f.heap.Len() >= f.cfg.Capacity {
		f.mu.Unlock()
		if f.spiller == nil {
			return false, fmt.Errorf("frontier: at capacity (%d) with no spiller configured", f.cfg.Capacity)
		}
		if err := f.spiller.Spill(ctx, candidate, priority); err != nil {
			return false, fmt.Errorf("frontier: spill: %w", err)
		}
		return true, nil
	}

	f.seq++
	heap.Push(&f.heap, &entry{candidate: candidate, priority: priority, seq: f.seq})
	f.mu.Unlock()

	return true, nil
}

// Pop removes and returns the highest-priority, earliest-discovered
// candidate. The second return value is false when the in-memory heap is
// empty; candidates still held by the Spiller are not checked here and come
// back only through refills started by earlier Pops.
//
// Popping below the configured low-water mark asynchronously triggers a
// refill from the Spiller so that producers never block on disk I/O.
func (f *Frontier) Pop() (CrawlToken, bool) {
	f.mu.Lock()
	if f.heap.Len() == 0 {
		f.mu.Unlock()
		return CrawlToken{}, false
	}

	item := heap.Pop(&f.heap).(*entry)
	shouldRefill := f.cfg.LowWaterMark > 0 && f.heap.Len() <= f.cfg.LowWaterMark
	f.mu.Unlock()

	if shouldRefill {
		f.triggerRefill()
	}

	token := NewCrawlToken(item.candidate.TargetURL(), item.candidate.DiscoveryMetadata().Depth())
	return token, true
}

// triggerRefill starts a background refill if one isn't already running.
// It is intentionally fire-and-forget: Pop must never block on disk I/O.
func (f *Frontier) triggerRefill() {
	if f.spiller == nil {
		return
	}
	if !f.refilling.CompareAndSwap(false, true) {
		return
	}

	f.refillGroup.Add(1)
	go func() {
		defer f.refillGroup.Done()
		defer f.refilling.Store(false)

		batch := f.cfg.RefillBatch
		if batch <= 0 {
			batch = 1
		}
		items, err := f.spiller.Refill(context.Background(), batch)
		if err != nil {
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, it := range items {
			// it.Candidate was already added to f.seen when it was spilled by
			// Push, so re-checking seen here would drop every refilled item.
			f.seq++
			heap.Push(&f.heap, &entry{candidate: it.Candidate, priority: it.Priority, seq: f.seq})
		}
	}()
}

// Wait blocks until any in-flight background refill completes. Intended
// for tests and for orderly shutdown.
func (f *Frontier) Wait() {
	f.refillGroup.Wait()
}

// Len returns the number of candidates currently held in memory.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// SpillLen returns the number of candidates currently overflowed to disk,
// or 0 if no Spiller is configured.
func (f *Frontier) SpillLen() int64 {
	if f.spiller == nil {
		return 0
	}
	return f.spiller.Len()
}

// Total returns the in-memory plus spilled count: the full frontier size.
func (f *Frontier) Total() int64 {
	return int64(f.Len()) + f.SpillLen()
}
