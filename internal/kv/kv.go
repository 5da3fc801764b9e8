// Package kv is a small embedded, file-backed key-value store. It backs
// internal/urlstore's durable persistence of per-URL crawl metadata: no
// third-party embedded KV library appears anywhere in the retrieved pack,
// so this stays on the standard library (see DESIGN.md).
//
// The store is a single append-only log of [4-byte key length][key][4-byte
// value length][value] records plus an in-memory index built by replaying
// the log at Open time. A tombstone (a value-length field of 0xFFFFFFFF
// with no value bytes after it) records deletion. Compaction rewrites the log to only the
// live records, same as internal/spill's shard compaction.
package kv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/corewalker/crawler/pkg/failure"
	"github.com/corewalker/crawler/pkg/fileutil"
)

const tombstoneMarker = 0xFFFFFFFF

type Store struct {
	mu      sync.RWMutex
	dir     string
	logPath string
	f       *os.File
	index   map[string][]byte
	dead    int64 // number of log records superseded or deleted since the last compaction
	live    int64
}

// Open opens (or creates) the KV store rooted at dir, replaying its log to
// rebuild the in-memory index.
func Open(dir string) (*Store, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	logPath := filepath.Join(dir, "store.log")

	s := &Store{dir: dir, logPath: logPath, index: make(map[string][]byte)}
	if err := s.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open kv log: %w", err)
	}
	s.f = f
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open kv log for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		key, value, tomb, err := readEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn record at the tail from an unclean shutdown: stop
			// replaying, keep whatever was read so far.
			break
		}
		if tomb {
			if _, ok := s.index[key]; ok {
				delete(s.index, key)
				s.dead++
				s.live--
			}
		} else {
			if _, ok := s.index[key]; ok {
				s.dead++
			} else {
				s.live++
			}
			s.index[key] = value
		}
	}
	return nil
}

func readEntry(r *bufio.Reader) (key string, value []byte, tombstone bool, err error) {
	var keyLen, valLen uint32
	if err = binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return "", nil, false, err
	}
	keyBytes := make([]byte, keyLen)
	if _, err = io.ReadFull(r, keyBytes); err != nil {
		return "", nil, false, io.ErrUnexpectedEOF
	}
	if err = binary.Read(r, binary.BigEndian, &valLen); err != nil {
		return "", nil, false, io.ErrUnexpectedEOF
	}
	if valLen == tombstoneMarker {
		return string(keyBytes), nil, true, nil
	}
	val := make([]byte, valLen)
	if _, err = io.ReadFull(r, val); err != nil {
		return "", nil, false, io.ErrUnexpectedEOF
	}
	return string(keyBytes), val, false, nil
}

func writeEntry(w io.Writer, key string, value []byte, tombstone bool) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(key))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(key)); err != nil {
		return err
	}
	if tombstone {
		return binary.Write(w, binary.BigEndian, uint32(tombstoneMarker))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(value))); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// Get returns a copy of the stored value for key, if present.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.index[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Put durably appends key/value and updates the in-memory index.
func (s *Store) Put(key string, value []byte) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeEntry(s.f, key, value, false); err != nil {
		return newKVError(err, "put")
	}
	if err := s.f.Sync(); err != nil {
		return newKVError(err, "put sync")
	}
	if _, existed := s.index[key]; existed {
		s.dead++
	} else {
		s.live++
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.index[key] = stored
	return nil
}

// PutBatch writes multiple entries under a single fsync, matching
// MetadataStore's bulk-write persistence contract (spec §4.3).
func (s *Store) PutBatch(entries map[string][]byte) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range entries {
		if err := writeEntry(s.f, key, value, false); err != nil {
			return newKVError(err, "put batch")
		}
		if _, existed := s.index[key]; existed {
			s.dead++
		} else {
			s.live++
		}
		stored := make([]byte, len(value))
		copy(stored, value)
		s.index[key] = stored
	}
	if err := s.f.Sync(); err != nil {
		return newKVError(err, "put batch sync")
	}
	return nil
}

// Delete removes key, if present, recording a tombstone.
func (s *Store) Delete(key string) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; !ok {
		return nil
	}
	if err := writeEntry(s.f, key, nil, true); err != nil {
		return newKVError(err, "delete")
	}
	delete(s.index, key)
	s.dead++
	s.live--
	return nil
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// ShouldCompact reports whether dead records outnumber live ones enough to
// justify rewriting the log.
func (s *Store) ShouldCompact() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dead > 1000 && s.dead > s.live
}

// Compact rewrites the log to contain only live entries.
func (s *Store) Compact() failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.logPath + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return newKVError(err, "compact create")
	}
	for key, value := range s.index {
		if err := writeEntry(tmp, key, value, false); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return newKVError(err, "compact write")
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newKVError(err, "compact sync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return newKVError(err, "compact close")
	}
	if err := s.f.Close(); err != nil {
		return newKVError(err, "compact close old")
	}
	if err := os.Rename(tmpPath, s.logPath); err != nil {
		return newKVError(err, "compact rename")
	}

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return newKVError(err, "compact reopen")
	}
	s.f = f
	s.dead = 0
	s.live = int64(len(s.index))
	return nil
}

// Close flushes and closes the underlying log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
