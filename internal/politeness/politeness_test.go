package politeness_test

import (
	"testing"
	"time"

	"github.com/corewalker/crawler/internal/politeness"
)

func TestRateLimiter_SecondRequestWithinIntervalMustWait(t *testing.T) {
	rl := politeness.NewRateLimiter()

	ok, wait := rl.Acquire("slow.example", time.Now())
	if !ok || wait != 0 {
		t.Fatalf("first Acquire() = (%v, %v), want (true, 0)", ok, wait)
	}

	ok2, wait2 := rl.Acquire("slow.example", time.Now())
	if ok2 {
		t.Fatal("second immediate Acquire() should not be permitted")
	}
	if wait2 < 100*time.Millisecond {
		t.Errorf("wait2 = %v, want >= 100ms", wait2)
	}
}

func TestRateLimiter_RecordErrorEscalatesToBlacklist(t *testing.T) {
	rl := politeness.NewRateLimiter()
	bl := politeness.NewBlacklist()

	for i := 0; i < 5; i++ {
		rl.RecordError("bad.example", bl)
	}

	if !bl.IsBlacklisted("bad.example") {
		t.Error("expected domain to be blacklisted after 5 errors within the window")
	}
}

func TestBlacklist_TransientEntryDecays(t *testing.T) {
	bl := politeness.NewBlacklist()
	bl.Add("throttled.example", 10*time.Millisecond)

	if !bl.IsBlacklisted("throttled.example") {
		t.Fatal("expected domain to be blacklisted immediately after Add")
	}
	time.Sleep(30 * time.Millisecond)
	if bl.IsBlacklisted("throttled.example") {
		t.Error("expected transient entry to have decayed")
	}
}

func TestBlacklist_PersistentEntryNeverDecays(t *testing.T) {
	bl := politeness.NewBlacklist()
	bl.Add("banned.example", 0)

	time.Sleep(10 * time.Millisecond)
	if !bl.IsBlacklisted("banned.example") {
		t.Error("expected persistent entry to remain blacklisted")
	}
}

func TestUrlFilter_IsCrawlable(t *testing.T) {
	f := politeness.NewUrlFilter(
		[]string{".pdf", ".zip"},
		[]string{"/login", "/logout"},
		nil,
	)

	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/doc.pdf", false},
		{"https://example.com/login", false},
		{"https://example.com/page", true},
	}
	for _, c := range cases {
		if got := f.IsCrawlable(c.url); got != c.want {
			t.Errorf("IsCrawlable(%q) = %v, want %v", c.url, got, c.want)
		}
	}
}

func TestUrlFilter_IsCrawlableIsPure(t *testing.T) {
	f := politeness.NewUrlFilter([]string{".pdf"}, nil, nil)
	const u = "https://example.com/report.pdf"
	first := f.IsCrawlable(u)
	for i := 0; i < 5; i++ {
		if got := f.IsCrawlable(u); got != first {
			t.Fatalf("IsCrawlable(%q) is not pure: got %v on call %d, first was %v", u, got, i, first)
		}
	}
}

func TestUrlFilter_Priority_HighPriorityDomainBoost(t *testing.T) {
	f := politeness.NewUrlFilter(nil, nil, []string{"docs.example.com"})

	boosted := f.Priority("https://docs.example.com/page", 0)
	plain := f.Priority("https://other.example.com/page", 0)
	if boosted <= plain {
		t.Errorf("expected high-priority domain to score higher: boosted=%v plain=%v", boosted, plain)
	}
}

func TestUrlFilter_Priority_DepthPenalty(t *testing.T) {
	f := politeness.NewUrlFilter(nil, nil, nil)

	shallow := f.Priority("https://example.com/a", 0)
	deep := f.Priority("https://example.com/a", 5)
	if deep >= shallow {
		t.Errorf("expected deeper pages to score lower: shallow=%v deep=%v", shallow, deep)
	}
}

func TestUrlFilter_Priority_ClampedToRange(t *testing.T) {
	f := politeness.NewUrlFilter(nil, nil, []string{"example.edu"})
	p := f.Priority("https://example.edu/news/wiki/page", 0)
	if p > 1.0 {
		t.Errorf("Priority() = %v, want <= 1.0", p)
	}

	low := f.Priority("https://example.com/a", 100)
	if low < 0.05 {
		t.Errorf("Priority() = %v, want >= minimum floor", low)
	}
}
