// Package shardstore implements the Shard Buffering component (spec §4.5):
// the 256 per-child output buffers a Radix Splitter scatters records into.
//
// It is adapted from the teacher's segmentmanager/disk.go: the same
// lock-protected "buffer in memory, flush past a threshold" shape, but
// without segment rotation — each shard owns exactly one file for the
// lifetime of one Splitter invocation, per spec §3's shard-buffer
// lifecycle (lazily opened, destroyed when the Splitter finishes).
package shardstore

import (
	"fmt"
	"os"
	"sync"

	"github.com/storj-tools/nodebloom/internal/identifier"
)

// DefaultBatchSize is the design constant from spec §4.1: ~10,000 records
// staged in memory before a shard is flushed to disk.
const DefaultBatchSize = 10000

// Shard is one of the 256 per-child output buffers of a single Splitter
// invocation (spec §3 Shard buffer).
type Shard struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	staged    []byte
	batchSize int

	haveFirst   bool
	firstNodeID identifier.ID
	manyNodes   bool
	records     int
}

func newShard(path string, batchSize int) *Shard {
	return &Shard{
		path:      path,
		batchSize: batchSize,
		staged:    make([]byte, 0, batchSize*identifier.RecordSize),
	}
}

// Append routes one record into the shard, updates the single-node witness
// described in spec §4.1 (the many_nodes flag latches true on the first
// mismatch against first_node_id and is never unset), and stages the
// record for a batched write.
func (s *Shard) Append(rec identifier.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("shardstore: failed to create shard file %s: %w", s.path, err)
		}
		s.file = f
	}

	if !s.haveFirst {
		s.firstNodeID = rec.NodeID
		s.haveFirst = true
	} else if rec.NodeID != s.firstNodeID {
		s.manyNodes = true
	}

	buf := make([]byte, identifier.RecordSize)
	rec.Encode(buf)
	s.staged = append(s.staged, buf...)
	s.records++

	if len(s.staged) >= s.batchSize*identifier.RecordSize {
		return s.flushLocked()
	}
	return nil
}

func (s *Shard) flushLocked() error {
	if len(s.staged) == 0 {
		return nil
	}
	if _, err := s.file.Write(s.staged); err != nil {
		return fmt.Errorf("shardstore: failed to flush shard file %s: %w", s.path, err)
	}
	s.staged = s.staged[:0]
	return nil
}

// Result summarizes a closed shard for the Splitter's follow-up decision
// (spec §4.1: empty/single-node/multi-node).
type Result struct {
	Prefix    []byte
	Path      string
	Empty     bool
	ManyNodes bool
	Records   int
}

// close flushes any residual staged records and closes the shard's file
// (spec §4.5: "on partition completion, any residual staged records are
// flushed before the file is closed").
func (s *Shard) close(prefix []byte) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Prefix: prefix, Path: s.path, Records: s.records, ManyNodes: s.manyNodes}

	if s.file == nil {
		res.Empty = true
		return res, nil
	}

	if err := s.flushLocked(); err != nil {
		return res, err
	}
	if err := s.file.Close(); err != nil {
		return res, fmt.Errorf("shardstore: failed to close shard file %s: %w", s.path, err)
	}
	return res, nil
}

// StoreOption configures a Store, in the teacher's functional-options
// convention (segmentmanager.DiskSegmentManagerOption).
type StoreOption func(*Store)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) StoreOption {
	return func(st *Store) { st.batchSize = n }
}

// Store owns the 256 shards of one Splitter invocation, keyed by the byte
// immediately after prefix (spec §4.1's "partitioning rule").
type Store struct {
	mu        sync.Mutex
	prefix    []byte
	batchSize int
	shards    [256]*Shard
}

// New allocates a Store for a Splitter running at prefix.
func New(prefix []byte, opts ...StoreOption) *Store {
	st := &Store{
		prefix:    append([]byte(nil), prefix...),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Append routes rec into its child shard, keyed by rec.NodeID at the byte
// position immediately after the store's prefix. Multiple strands may call
// Append concurrently (root split, spec §4.1); the shard lookup takes the
// store-wide mutex briefly, while staging and flushing serialize under each
// shard's own mutex.
func (st *Store) Append(rec identifier.Record) error {
	idx := rec.NodeID[len(st.prefix)]
	return st.shardFor(idx).Append(rec)
}

func (st *Store) shardFor(idx byte) *Shard {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.shards[idx] == nil {
		childPrefix := append(append([]byte(nil), st.prefix...), idx)
		st.shards[idx] = newShard(identifier.Filename(childPrefix), st.batchSize)
	}
	return st.shards[idx]
}

// CloseAll flushes and closes every opened shard and returns one Result
// per shard slot 0..255 in order, including empty (never-opened) shards so
// callers can address results by byte value directly.
func (st *Store) CloseAll() ([256]Result, error) {
	var results [256]Result
	for idx := 0; idx < 256; idx++ {
		childPrefix := append(append([]byte(nil), st.prefix...), byte(idx))
		if st.shards[idx] == nil {
			results[idx] = Result{Prefix: childPrefix, Empty: true}
			continue
		}
		res, err := st.shards[idx].close(childPrefix)
		if err != nil {
			return results, err
		}
		results[idx] = res
	}
	return results, nil
}
