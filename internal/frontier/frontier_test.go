package frontier_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/corewalker/crawler/internal/frontier"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return *u
}

func candidate(t *testing.T, raw string, depth int) frontier.CrawlAdmissionCandidate {
	t.Helper()
	return frontier.NewCrawlAdmissionCandidate(
		mustURL(t, raw),
		frontier.SourceSeed,
		frontier.NewDiscoveryMetadata(depth, nil),
	)
}

func TestFrontier_PopReturnsHighestPriorityFirst(t *testing.T) {
	f := frontier.New(frontier.Config{Capacity: 10}, nil)
	ctx := context.Background()

	if _, err := f.Push(ctx, candidate(t, "https://example.com/low", 0), 0.1); err != nil {
		t.Fatalf("push low: %v", err)
	}
	if _, err := f.Push(ctx, candidate(t, "https://example.com/high", 0), 0.9); err != nil {
		t.Fatalf("push high: %v", err)
	}
	if _, err := f.Push(ctx, candidate(t, "https://example.com/mid", 0), 0.5); err != nil {
		t.Fatalf("push mid: %v", err)
	}

	order := []string{"/high", "/mid", "/low"}
	for _, wantPath := range order {
		token, ok := f.Pop()
		if !ok {
			t.Fatalf("expected a token for %s, queue empty", wantPath)
		}
		u := token.URL()
		if u.Path != wantPath {
			t.Errorf("Pop() = %s, want %s", u.Path, wantPath)
		}
	}

	if _, ok := f.Pop(); ok {
		t.Error("expected empty frontier after draining all pushed items")
	}
}

func TestFrontier_PushDeduplicatesCanonicalURL(t *testing.T) {
	f := frontier.New(frontier.Config{Capacity: 10}, nil)
	ctx := context.Background()

	added, err := f.Push(ctx, candidate(t, "https://example.com/page/", 0), 0.5)
	if err != nil || !added {
		t.Fatalf("first push: added=%v err=%v", added, err)
	}

	// Same URL modulo trailing slash and fragment: must be treated as a dup.
	added, err = f.Push(ctx, candidate(t, "https://example.com/page#section", 0), 0.9)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if added {
		t.Error("expected duplicate URL to be rejected")
	}

	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestFrontier_PushAtCapacityWithoutSpillerErrors(t *testing.T) {
	f := frontier.New(frontier.Config{Capacity: 1}, nil)
	ctx := context.Background()

	if _, err := f.Push(ctx, candidate(t, "https://example.com/a", 0), 0.5); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if _, err := f.Push(ctx, candidate(t, "https://example.com/b", 0), 0.5); err == nil {
		t.Error("expected error when pushing past capacity with no spiller")
	}
}

// fakeSpiller is an in-memory stand-in for internal/spill.Queue.
type fakeSpiller struct {
	items []frontier.SpillItem
}

func (s *fakeSpiller) Spill(_ context.Context, c frontier.CrawlAdmissionCandidate, priority float64) error {
	s.items = append(s.items, frontier.SpillItem{Candidate: c, Priority: priority})
	return nil
}

func (s *fakeSpiller) Refill(_ context.Context, max int) ([]frontier.SpillItem, error) {
	if max > len(s.items) {
		max = len(s.items)
	}
	out := s.items[:max]
	s.items = s.items[max:]
	return out, nil
}

func (s *fakeSpiller) Len() int64 {
	return int64(len(s.items))
}

func TestFrontier_OverflowsToSpillerAtCapacity(t *testing.T) {
	spiller := &fakeSpiller{}
	f := frontier.New(frontier.Config{Capacity: 1}, spiller)
	ctx := context.Background()

	if _, err := f.Push(ctx, candidate(t, "https://example.com/a", 0), 0.5); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if _, err := f.Push(ctx, candidate(t, "https://example.com/b", 0), 0.5); err != nil {
		t.Fatalf("second push (should spill): %v", err)
	}

	if f.Len() != 1 {
		t.Errorf("in-memory Len() = %d, want 1", f.Len())
	}
	if f.SpillLen() != 1 {
		t.Errorf("SpillLen() = %d, want 1", f.SpillLen())
	}
	if f.Total() != 2 {
		t.Errorf("Total() = %d, want 2", f.Total())
	}
}

func TestFrontier_RefillsFromSpillerBelowLowWaterMark(t *testing.T) {
	spiller := &fakeSpiller{}
	f := frontier.New(frontier.Config{Capacity: 2, LowWaterMark: 1, RefillBatch: 2}, spiller)
	ctx := context.Background()

	// Fill the in-memory heap to capacity, then push more so they spill
	// through the real Push path (exercising its seen-set bookkeeping), the
	// same way the live pipeline spills under memory pressure.
	for i, path := range []string{"/a", "/b"} {
		if _, err := f.Push(ctx, candidate(t, "https://example.com"+path, 0), float64(i)); err != nil {
			t.Fatalf("push %s: %v", path, err)
		}
	}
	for i, path := range []string{"/c", "/d"} {
		added, err := f.Push(ctx, candidate(t, "https://example.com"+path, 0), float64(i))
		if err != nil {
			t.Fatalf("push %s: %v", path, err)
		}
		if !added {
			t.Fatalf("push %s: expected spill to report added=true", path)
		}
	}
	if f.SpillLen() != 2 {
		t.Fatalf("SpillLen() = %d, want 2 spilled candidates", f.SpillLen())
	}

	// Drain until we cross the low-water mark and trigger a refill.
	for f.Len() > 1 {
		if _, ok := f.Pop(); !ok {
			t.Fatal("unexpected empty frontier while draining")
		}
	}
	if _, ok := f.Pop(); !ok {
		t.Fatal("expected one more token to cross the low-water mark")
	}

	f.Wait()

	deadline := time.Now().Add(time.Second)
	for f.Len() == 0 && f.SpillLen() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if f.Len() == 0 {
		t.Error("expected refill to have pulled spilled candidates back into memory")
	}

	// The refilled candidates must actually be poppable, not silently
	// dropped by a stale seen-set check during refill.
	seenPaths := map[string]bool{}
	for {
		token, ok := f.Pop()
		if !ok {
			break
		}
		u := token.URL()
		seenPaths[u.Path] = true
	}
	f.Wait()
	for f.Len() > 0 {
		token, ok := f.Pop()
		if !ok {
			break
		}
		seenPaths[token.URL().Path] = true
	}
	for _, want := range []string{"/c", "/d"} {
		if !seenPaths[want] {
			t.Errorf("spilled candidate %s was never returned by Pop", want)
		}
	}
}
