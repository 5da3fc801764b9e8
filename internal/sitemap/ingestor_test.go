package sitemap_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/internal/sitemap"
)

type fakeDoer struct {
	bodies map[string]string
	calls  int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	body, ok := f.bodies[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func newFrontier() *frontier.Frontier {
	return frontier.New(frontier.Config{Capacity: 1000}, nil)
}

func TestIngestor_UrlSetRoutesToFrontier(t *testing.T) {
	const urlset = `<?xml version="1.0"?>
<urlset>
  <url><loc>https://example.org/a</loc><changefreq>daily</changefreq></url>
  <url><loc>https://example.org/b</loc><priority>0.95</priority></url>
</urlset>`

	doer := &fakeDoer{bodies: map[string]string{"https://example.org/sitemap.xml": urlset}}
	fr := newFrontier()
	ing := sitemap.New(doer, fr, nil, nil)
	ing.AddSitemap("https://example.org/sitemap.xml", 1.0, 1.0)
	ing.RunOnce(context.Background())

	if fr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fr.Len())
	}
}

func TestIngestor_SitemapIndexAddsChildSitemaps(t *testing.T) {
	const index = `<?xml version="1.0"?>
<sitemapindex>
  <sitemap><loc>https://example.org/sub1.xml</loc></sitemap>
  <sitemap><loc>https://example.org/sub2.xml</loc></sitemap>
</sitemapindex>`

	doer := &fakeDoer{bodies: map[string]string{"https://example.org/index.xml": index}}
	fr := newFrontier()
	ing := sitemap.New(doer, fr, nil, nil)
	ing.AddSitemap("https://example.org/index.xml", 1.0, 1.0)
	ing.RunOnce(context.Background())

	// child sitemaps were registered, not yet fetched (no bodies configured
	// for them so their own RunOnce would fail gracefully, not crash).
	ing.RunOnce(context.Background())
	if doer.calls < 3 {
		t.Errorf("expected index fetch plus at least 2 child fetch attempts, got %d calls", doer.calls)
	}
}

func TestIngestor_MalformedXMLDoesNotCrash(t *testing.T) {
	doer := &fakeDoer{bodies: map[string]string{"https://example.org/bad.xml": "not xml at all <<<"}}
	fr := newFrontier()
	ing := sitemap.New(doer, fr, nil, nil)
	ing.AddSitemap("https://example.org/bad.xml", 1.0, 1.0)
	ing.RunOnce(context.Background())

	if fr.Len() != 0 {
		t.Errorf("expected no URLs admitted from malformed XML, got Len()=%d", fr.Len())
	}
}

func TestIngestor_DuplicateSitemapIgnored(t *testing.T) {
	fr := newFrontier()
	doer := &fakeDoer{bodies: map[string]string{}}
	ing := sitemap.New(doer, fr, nil, nil)
	ing.AddSitemap("https://example.org/s.xml", 1.0, 1.0)
	ing.AddSitemap("https://example.org/s.xml", 0.2, 2.0)

	// second AddSitemap call must not override the first's schedule; we
	// can't reach into Ingestor's internals, so assert only one fetch
	// attempt happens per RunOnce despite two AddSitemap calls.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ing.RunOnce(ctx)
	if doer.calls != 1 {
		t.Errorf("expected 1 fetch attempt for a duplicated sitemap, got %d", doer.calls)
	}
}
