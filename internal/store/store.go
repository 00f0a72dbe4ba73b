// Package store implements the in-memory partitioned event index: a
// mapping from ledger sequence to an immutable partition snapshot, with
// lock-free reads and single-mutator writes.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store maps ledger sequence to partition. Reads (Get, the sequence index
// used by Query) never block on a mutex; the only synchronization a reader
// pays for is sync.Map's internal read-mostly fast path and a single atomic
// pointer load for the sorted sequence index.
type Store struct {
	partitions sync.Map // uint32 -> *Partition

	// index is an immutable, ascending-sorted snapshot of known sequences.
	// It is replaced wholesale (copy-on-write) by Put and Sweep, which are
	// the only mutators and so need no reader-side lock to consult it.
	index atomic.Pointer[[]uint32]

	// indexMu serializes the read-modify-write of index between the
	// concurrent ingestion controller and backfill single-flight — it is
	// never held by a reader.
	indexMu sync.Mutex

	latestIngested    atomic.Uint32
	hasLatest         atomic.Bool
	partitionsExpired atomic.Uint64
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	empty := []uint32{}
	s.index.Store(&empty)
	return s
}

// Put publishes partition, replacing any existing snapshot for the same
// sequence, and advances latest_ingested to at least partition.Sequence.
// Idempotent: re-putting the same sequence (e.g. on TTL refresh) is safe.
func (s *Store) Put(p *Partition) {
	_, existed := s.partitions.Load(p.Sequence)
	s.partitions.Store(p.Sequence, p)

	if !existed {
		s.indexMu.Lock()
		cur := *s.index.Load()
		next := make([]uint32, len(cur), len(cur)+1)
		copy(next, cur)
		i := sort.Search(len(next), func(i int) bool { return next[i] >= p.Sequence })
		next = append(next, 0)
		copy(next[i+1:], next[i:])
		next[i] = p.Sequence
		s.index.Store(&next)
		s.indexMu.Unlock()
	}

	s.advanceLatest(p.Sequence)
}

func (s *Store) advanceLatest(seq uint32) {
	for {
		cur := s.latestIngested.Load()
		if s.hasLatest.Load() && cur >= seq {
			return
		}
		if s.latestIngested.CompareAndSwap(cur, seq) {
			s.hasLatest.Store(true)
			return
		}
	}
}

// Get returns the partition for sequence, or (nil, false) if absent.
func (s *Store) Get(sequence uint32) (*Partition, bool) {
	v, ok := s.partitions.Load(sequence)
	if !ok {
		return nil, false
	}
	return v.(*Partition), true
}

// Latest returns latest_ingested, or (0, false) if nothing has been
// ingested yet.
func (s *Store) Latest() (uint32, bool) {
	if !s.hasLatest.Load() {
		return 0, false
	}
	return s.latestIngested.Load(), true
}

// Count returns the number of partitions currently held, including empty
// ones published for eventless ledgers.
func (s *Store) Count() int {
	return len(*s.index.Load())
}

// ListLatest returns up to n of the highest known sequences, descending.
func (s *Store) ListLatest(n int) []uint32 {
	idx := *s.index.Load()
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = idx[len(idx)-1-i]
	}
	return out
}

// Sweep removes every partition whose TTL has elapsed as of now, returning
// the count removed. partitions_expired accumulates across calls.
func (s *Store) Sweep(now time.Time, ttl time.Duration) int {
	var expired []uint32
	s.partitions.Range(func(key, value interface{}) bool {
		p := value.(*Partition)
		if p.Expired(now, ttl) {
			expired = append(expired, key.(uint32))
		}
		return true
	})
	if len(expired) == 0 {
		return 0
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	for _, seq := range expired {
		s.partitions.Delete(seq)
	}

	cur := *s.index.Load()
	removed := make(map[uint32]bool, len(expired))
	for _, seq := range expired {
		removed[seq] = true
	}
	next := make([]uint32, 0, len(cur))
	for _, seq := range cur {
		if !removed[seq] {
			next = append(next, seq)
		}
	}
	s.index.Store(&next)

	s.partitionsExpired.Add(uint64(len(expired)))
	return len(expired)
}

// PartitionsExpired returns the running total of partitions removed by Sweep.
func (s *Store) PartitionsExpired() uint64 {
	return s.partitionsExpired.Load()
}
