package store

import (
	"context"

	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/filter"
)

// Direction controls iteration order relative to the cursor: Before walks
// toward older events (descending, the default), After walks toward newer
// ones (ascending).
type Direction int

const (
	Before Direction = iota
	After
)

// BackfillFunc is invoked at most once per Query call, only to fetch the
// resolved start ledger if it is not already present in the store. It is
// injected rather than imported from internal/ingest to avoid a cycle
// between the store (read by the ingestion controller) and the controller
// itself. It should block until the partition is published (or fails) and
// return an error if the fetch could not be completed.
type BackfillFunc func(ctx context.Context, sequence uint32) error

// QueryParams describes a single page request against the index.
type QueryParams struct {
	Filters []filter.EventFilter

	// StartLedger, if set, pins iteration to begin at this ledger. Takes
	// precedence over StartCursor's ledger component.
	StartLedger *uint32

	// StartCursor, if set, resumes from the tuple's position: the tuple
	// itself is excluded from the result (strict "after"/"before" paging).
	StartCursor *cursor.Tuple

	Direction Direction
	Limit     int
}

// Result is one page of matching events plus pagination state.
type Result struct {
	Events     []decoder.ExtractedEvent
	NextCursor *cursor.Tuple
	HasMore    bool
}

// Query walks the index in the requested direction starting from the
// resolved ledger, collecting up to params.Limit matching events. Only the
// resolved start ledger may trigger an on-demand backfill; ledgers absent
// from the store encountered later in the walk are skipped silently, per
// the "one backfill per request" contract.
func (s *Store) Query(ctx context.Context, params QueryParams, backfill BackfillFunc) (Result, error) {
	startLedger, ok := resolveStart(params, s)
	if !ok {
		return Result{}, nil
	}

	if _, present := s.Get(startLedger); !present && backfill != nil {
		if err := backfill(ctx, startLedger); err != nil {
			return Result{}, err
		}
	}

	sequences := s.orderedSequences(params.Direction)
	startIdx := seekStart(sequences, startLedger, params.Direction)

	var out []decoder.ExtractedEvent
	var next *cursor.Tuple
	hasMore := false

	for i := startIdx; i < len(sequences); i++ {
		seq := sequences[i]
		p, present := s.Get(seq)
		if !present {
			continue
		}

		events := p.Events
		if params.Direction == Before {
			for j := len(events) - 1; j >= 0; j-- {
				if !withinBound(events[j].Tuple, params, seq) {
					continue
				}
				if !filter.MatchesAny(params.Filters, &events[j]) {
					continue
				}
				if len(out) == params.Limit {
					hasMore = true
					return Result{Events: out, NextCursor: next, HasMore: hasMore}, nil
				}
				out = append(out, events[j])
				t := events[j].Tuple
				next = &t
			}
		} else {
			for j := 0; j < len(events); j++ {
				if !withinBound(events[j].Tuple, params, seq) {
					continue
				}
				if !filter.MatchesAny(params.Filters, &events[j]) {
					continue
				}
				if len(out) == params.Limit {
					hasMore = true
					return Result{Events: out, NextCursor: next, HasMore: hasMore}, nil
				}
				out = append(out, events[j])
				t := events[j].Tuple
				next = &t
			}
		}
	}

	return Result{Events: out, NextCursor: nil, HasMore: false}, nil
}

func resolveStart(params QueryParams, s *Store) (uint32, bool) {
	if params.StartLedger != nil {
		return *params.StartLedger, true
	}
	if params.StartCursor != nil {
		return params.StartCursor.Ledger, true
	}
	latest, ok := s.Latest()
	return latest, ok
}

// withinBound reports whether an event at (seq, tuple) lies on the correct
// side of params.StartCursor for the requested direction. The cursor's own
// position is excluded (strict paging); only events in the cursor's ledger
// are compared against it.
func withinBound(t cursor.Tuple, params QueryParams, seq uint32) bool {
	if params.StartCursor == nil {
		return true
	}
	bound := *params.StartCursor
	if seq != bound.Ledger {
		return true
	}
	if params.Direction == Before {
		return t.Less(bound)
	}
	return bound.Less(t)
}

// orderedSequences returns the store's known ledger sequences in the
// direction of iteration: descending for Before, ascending for After.
func (s *Store) orderedSequences(dir Direction) []uint32 {
	idx := *s.index.Load()
	out := make([]uint32, len(idx))
	if dir == Before {
		for i, v := range idx {
			out[len(idx)-1-i] = v
		}
	} else {
		copy(out, idx)
	}
	return out
}

// seekStart finds the index in sequences (already ordered per dir) of the
// first entry at or before/after startLedger.
func seekStart(sequences []uint32, startLedger uint32, dir Direction) int {
	for i, seq := range sequences {
		if dir == Before && seq <= startLedger {
			return i
		}
		if dir == After && seq >= startLedger {
			return i
		}
	}
	return len(sequences)
}
