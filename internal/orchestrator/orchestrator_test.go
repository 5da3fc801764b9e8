package orchestrator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corewalker/crawler/internal/config"
	"github.com/corewalker/crawler/internal/orchestrator"
	"github.com/corewalker/crawler/internal/spill"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>hello there, this is a short paragraph of prose for orchestrator testing purposes here.</p></body></html>`))
	})
	return httptest.NewServer(mux)
}

func newTestOrchestrator(t *testing.T, dataDir string, seedURL string) *orchestrator.Orchestrator {
	t.Helper()
	u, err := url.Parse(seedURL)
	if err != nil {
		t.Fatalf("parsing seed URL: %v", err)
	}
	cfg, err := config.WithDefault([]url.URL{*u}).
		WithWorkers(1).
		WithRequestsPerWorker(1).
		WithFrontierCapacity(100).
		WithLowWaterMark(1).
		WithRefillBatch(10).
		WithFetchTimeout(2 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("building config: %v", err)
	}

	spillQueue, err := spill.Open(spill.Config{Dir: filepath.Join(dataDir, "frontier_spill"), Shards: 2})
	if err != nil {
		t.Fatalf("opening spill queue: %v", err)
	}

	o, err := orchestrator.New(cfg, orchestrator.Seeds{}, dataDir, spillQueue, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestOrchestrator_SignalTriggeredShutdownDrainsCleanly(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	dataDir := t.TempDir()
	o := newTestOrchestrator(t, dataDir, srv.URL+"/page")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx, []string{srv.URL + "/page"}) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != orchestrator.ErrSignalShutdown {
			t.Errorf("Run() error = %v, want ErrSignalShutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if _, err := os.Stat(filepath.Join(dataDir, "metadata.kv")); err != nil {
		t.Errorf("expected metadata.kv to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "raw", "documents.csv")); err != nil {
		t.Errorf("expected raw/documents.csv to exist: %v", err)
	}
}

func TestOrchestrator_MaxPagesStopsWithoutSignalError(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	dataDir := t.TempDir()
	o := newTestOrchestrator(t, dataDir, srv.URL+"/page").WithMaxPages(1).WithShutdownDeadline(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := o.Run(ctx, []string{srv.URL + "/page"})
	if err != nil {
		t.Errorf("Run() error = %v, want nil (internal max-pages stop)", err)
	}
}
