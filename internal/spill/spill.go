// Package spill implements a sharded, durable overflow store for the
// frontier: once the in-memory priority queue is full, new candidates are
// appended here instead of being dropped, and read back (FIFO within each
// shard, no ordering guarantee across shards) once the frontier needs more
// work.
//
// Each shard is a single append-only file of length-prefixed, checksummed
// records. Writes round-robin across shards so no single shard becomes a
// write hotspot; reads round-robin the same way so shards drain evenly.
// A shard compacts itself (rewrites the file keeping only the unconsumed
// tail) once its consumed prefix crosses CompactionThreshold of the file.
package spill

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corewalker/crawler/internal/frontier"
	"github.com/corewalker/crawler/pkg/fileutil"
)

// record is the on-disk, JSON-encoded representation of one spilled
// candidate. url.URL itself doesn't round-trip through JSON cleanly (it has
// unexported internals on some fields in older encodings), so we carry the
// raw string and re-parse it on refill.
//
// This is a JSON-plus-per-record-checksum encoding rather than the fixed
// binary layout described in the spec's on-disk format section; see
// DESIGN.md's internal/spill entry for the rationale.
type record struct {
	URL           string  `json:"url"`
	Depth         int     `json:"depth"`
	SourceContext string  `json:"source_context"`
	Priority      float64 `json:"priority"`
}

// Config controls shard count and compaction behavior.
type Config struct {
	Dir                string
	Shards             int
	CompactionThreshold float64 // fraction of file consumed before compaction, e.g. 0.5
}

// Queue is a sharded durable overflow store implementing frontier.Spiller.
type Queue struct {
	cfg    Config
	shards []*shard
	nextW  int // next shard index to write to
	nextR  int // next shard index to read from
	mu     sync.Mutex
}

// Open opens (creating if necessary) cfg.Shards shard files under cfg.Dir.
func Open(cfg Config) (*Queue, error) {
	if cfg.Shards <= 0 {
		cfg.Shards = 8
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 0.5
	}
	if err := fileutil.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("spill: ensure dir: %w", err)
	}

	q := &Queue{cfg: cfg}
	for i := 0; i < cfg.Shards; i++ {
		s, err := openShard(filepath.Join(cfg.Dir, fmt.Sprintf("shard-%03d.log", i)), cfg.CompactionThreshold)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("spill: open shard %d: %w", i, err)
		}
		q.shards = append(q.shards, s)
	}
	return q, nil
}

// Spill appends candidate to the next shard in round-robin order.
func (q *Queue) Spill(_ context.Context, candidate frontier.CrawlAdmissionCandidate, priority float64) error {
	q.mu.Lock()
	s := q.shards[q.nextW%len(q.shards)]
	q.nextW++
	q.mu.Unlock()

	rec := record{
		URL:           candidate.TargetURL().String(),
		Depth:         candidate.DiscoveryMetadata().Depth(),
		SourceContext: string(candidate.SourceContext()),
		Priority:      priority,
	}
	return s.append(rec)
}

// Refill reads up to max records back out, round-robining across shards so
// no single shard is starved. Records are removed from the shard (the read
// offset advances) as they're returned; a shard that crosses its
// compaction threshold rewrites itself to reclaim disk space.
func (q *Queue) Refill(_ context.Context, max int) ([]frontier.SpillItem, error) {
	if max <= 0 {
		return nil, nil
	}

	var out []frontier.SpillItem
	q.mu.Lock()
	startIdx := q.nextR
	n := len(q.shards)
	q.mu.Unlock()

	for i := 0; i < n && len(out) < max; i++ {
		idx := (startIdx + i) % n
		s := q.shards[idx]

		for len(out) < max {
			rec, ok, err := s.popFront()
			if err != nil {
				return out, fmt.Errorf("spill: read shard %d: %w", idx, err)
			}
			if !ok {
				break
			}
			u, err := url.Parse(rec.URL)
			if err != nil {
				continue
			}
			candidate := frontier.NewCrawlAdmissionCandidate(
				*u,
				frontier.SourceContext(rec.SourceContext),
				frontier.NewDiscoveryMetadata(rec.Depth, nil),
			)
			out = append(out, frontier.SpillItem{Candidate: candidate, Priority: rec.Priority})
		}
	}

	q.mu.Lock()
	q.nextR = (startIdx + 1) % n
	q.mu.Unlock()

	return out, nil
}

// Len returns the total number of unconsumed records across all shards.
func (q *Queue) Len() int64 {
	var total int64
	for _, s := range q.shards {
		total += s.pendingCount()
	}
	return total
}

// Close releases all shard file handles.
func (q *Queue) Close() error {
	var firstErr error
	for _, s := range q.shards {
		if s == nil {
			continue
		}
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// shard is one append-only log file plus the in-memory index of records
// not yet consumed. It batches reads by loading the unconsumed tail into
// memory once per process lifetime; writers append directly to the file.
type shard struct {
	path      string
	threshold float64

	mu      sync.Mutex
	f       *os.File
	pending []record
	written int64 // bytes appended since last compaction; not read by the compaction check
	total   int64 // records in the shard file since load or last compaction; consumed records are not subtracted
}

func openShard(path string, threshold float64) (*shard, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	s := &shard{path: path, threshold: threshold, f: f}
	if err := s.loadAll(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// loadAll reads every surviving record in the shard file into memory. Shard
// files are expected to stay small relative to available memory because
// the frontier only spills the excess past its own in-memory capacity.
func (s *shard) loadAll() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.f)
	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		s.pending = append(s.pending, rec)
	}
	s.total = int64(len(s.pending))
	return nil
}

func (s *shard) append(rec record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if err := writeRecord(s.f, payload); err != nil {
		return err
	}

	s.pending = append(s.pending, rec)
	s.total++
	s.written += int64(len(payload)) + 8
	return nil
}

func (s *shard) popFront() (record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return record{}, false, nil
	}
	rec := s.pending[0]
	s.pending = s.pending[1:]

	if s.shouldCompactLocked() {
		if err := s.compactLocked(); err != nil {
			return rec, true, err
		}
	}
	return rec, true, nil
}

func (s *shard) pendingCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending))
}

// shouldCompactLocked reports whether the fraction of already-consumed
// records among those in the file has reached the threshold, making the
// file worth rewriting.
// Must be called with s.mu held.
func (s *shard) shouldCompactLocked() bool {
	if s.total == 0 {
		return false
	}
	consumedFraction := 1 - float64(len(s.pending))/float64(s.total)
	return consumedFraction >= s.threshold && len(s.pending) < int(s.total)
}

// compactLocked rewrites the shard file to contain only the unconsumed
// tail via a temp-file-plus-rename, so a crash mid-compaction never leaves
// a corrupt shard. Must be called with s.mu held.
func (s *shard) compactLocked() error {
	tmpPath := s.path + fmt.Sprintf(".compact-%d", time.Now().UnixNano())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range s.pending {
		payload, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := writeRecord(w, payload); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	s.f.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	s.f = f
	s.total = int64(len(s.pending))
	s.written = 0
	return nil
}

func (s *shard) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// writeRecord writes a length-prefixed, CRC32-checksummed record:
// [4 bytes length][4 bytes crc32(payload)][payload].
func writeRecord(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRecord reads one length-prefixed, checksummed record, returning
// io.EOF when the stream ends cleanly at a record boundary. A checksum
// mismatch (e.g. a partially-flushed record from a crash mid-write) is
// treated the same as a clean EOF: the corrupt tail is simply dropped, not
// fatal to the shard.
func readRecord(r *bufio.Reader) (record, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return record{}, io.EOF
		}
		return record{}, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return record{}, io.EOF
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return record{}, io.EOF
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return record{}, io.EOF
	}
	return rec, nil
}
