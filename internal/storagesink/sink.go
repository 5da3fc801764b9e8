// Package storagesink is the spec's StorageSink (§4.8): durably persists
// accepted documents without slowing the fetch loop. A bounded submit
// queue backpressures to metadata-only logging; a background writer
// batches JSON documents via pkg/fileutil.AtomicWriteFile (scoped
// acquisition: open, write, fsync, rename), with a parallel CSV metadata
// log for observability.
package storagesink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corewalker/crawler/internal/fetchengine"
	"github.com/corewalker/crawler/pkg/fileutil"
)

const (
	defaultQueueCapacity = 1000
	defaultBatchSize     = 25
	defaultFlushInterval = 5 * time.Second
	defaultDrainDeadline = 30 * time.Second
)

// Config bounds the sink's queue and batching behavior.
type Config struct {
	OutputDir     string
	QueueCapacity int
	BatchSize     int
	FlushInterval time.Duration
	DrainDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = defaultDrainDeadline
	}
	return c
}

// Sink implements fetchengine.Sink.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	queue chan fetchengine.Document

	metaMu   sync.Mutex
	metaFile *os.File
	metaCSV  *csv.Writer

	dropped  atomic.Int64
	batchSeq atomic.Int64

	wg   sync.WaitGroup
	done chan struct{}
}

// New opens (creating if necessary) cfg.OutputDir and its metadata log,
// ready for Submit calls once Run is started.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("storagesink: creating output dir: %w", err)
	}

	metaPath := filepath.Join(cfg.OutputDir, "documents.csv")
	f, err := os.OpenFile(metaPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storagesink: opening metadata log: %w", err)
	}

	s := &Sink{
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan fetchengine.Document, cfg.QueueCapacity),
		metaFile: f,
		metaCSV:  csv.NewWriter(f),
		done:     make(chan struct{}),
	}
	return s, nil
}

// Submit enqueues doc for batched JSON persistence and always appends a
// metadata-log line. It never blocks: if the queue is full, the document
// is dropped to metadata-only (spec §4.8) and the drop counter increments.
func (s *Sink) Submit(doc fetchengine.Document) bool {
	s.appendMetaLine(doc)

	select {
	case s.queue <- doc:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("storagesink: queue full, document dropped to metadata-only", "url", doc.URL, "dropped_total", s.dropped.Load())
		return false
	}
}

// DroppedCount returns how many documents have been logged to metadata
// only because the submit queue was full.
func (s *Sink) DroppedCount() int64 {
	return s.dropped.Load()
}

func (s *Sink) appendMetaLine(doc fetchengine.Document) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	_ = s.metaCSV.Write([]string{
		doc.URL,
		strconv.Itoa(doc.HTTPStatus),
		doc.FetchedAt.UTC().Format(time.RFC3339),
		doc.ReferringDomain,
		strconv.Itoa(len(doc.Body)),
	})
	s.metaCSV.Flush()
}

// Run batches queued documents into JSON files (≤ BatchSize docs or every
// FlushInterval) until ctx is cancelled, then drains the remaining queue
// up to DrainDeadline before giving up (spec §4.8).
func (s *Sink) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	batch := make([]fetchengine.Document, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case doc := <-s.queue:
			batch = append(batch, doc)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			s.drain(&batch)
			return
		}
	}
}

// drain empties whatever remains in the queue (and current batch) up to
// DrainDeadline, logging and dropping any stragglers past that point.
func (s *Sink) drain(batch *[]fetchengine.Document) {
	deadline := time.NewTimer(s.cfg.DrainDeadline)
	defer deadline.Stop()

	for {
		if len(*batch) >= s.cfg.BatchSize {
			s.writeBatch(*batch)
			*batch = (*batch)[:0]
		}
		select {
		case doc := <-s.queue:
			*batch = append(*batch, doc)
		case <-deadline.C:
			s.writeBatch(*batch)
			remaining := len(s.queue)
			if remaining > 0 {
				s.logger.Warn("storagesink: drain deadline exceeded, dropping remaining documents", "remaining", remaining)
			}
			return
		default:
			if len(s.queue) == 0 {
				s.writeBatch(*batch)
				*batch = (*batch)[:0]
				return
			}
		}
	}
}

func (s *Sink) writeBatch(batch []fetchengine.Document) {
	if len(batch) == 0 {
		return
	}
	data, err := json.Marshal(batch)
	if err != nil {
		s.logger.Error("storagesink: marshaling batch failed", "err", err)
		return
	}
	seq := s.batchSeq.Add(1)
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("batch-%020d.json", seq))
	if classified := fileutil.AtomicWriteFile(path, data, 0o644); classified != nil {
		s.logger.Error("storagesink: writing batch failed", "path", path, "err", classified.Error())
	}
}

// Close flushes and closes the metadata log file. Call after Run has
// returned.
func (s *Sink) Close() error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.metaCSV.Flush()
	return s.metaFile.Close()
}
