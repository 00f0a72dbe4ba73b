// Package filter defines the EventFilter value type and the per-event match
// predicate the store and query language both evaluate against.
package filter

import "github.com/leighmcculloch/stellar-events-api/internal/decoder"

// EventFilter is one conjunctive clause: an event matches it only if every
// populated field matches. A zero-value EventFilter matches every event.
type EventFilter struct {
	EventType  *decoder.EventType
	ContractID *string
	// Ledger and TxHash constrain events to a specific ledger sequence
	// and/or transaction hash; populated by the ledger:/tx: qualifiers.
	Ledger *uint32
	TxHash *string
	// Topics holds positional constraints; a nil entry at index i is a
	// wildcard. len(Topics) may be less than an event's topic count but an
	// event with fewer topics than len(Topics) never matches.
	Topics []*decoder.Value
	// TopicsAny must each appear somewhere in the event's topics,
	// independent of position.
	TopicsAny []decoder.Value
}

// Matches reports whether event satisfies every populated field of f.
func (f EventFilter) Matches(event *decoder.ExtractedEvent) bool {
	if f.EventType != nil && *f.EventType != event.EventType {
		return false
	}
	if f.ContractID != nil && *f.ContractID != event.ContractID {
		return false
	}
	if f.Ledger != nil && *f.Ledger != event.Tuple.Ledger {
		return false
	}
	if f.TxHash != nil && *f.TxHash != event.TxHash {
		return false
	}
	if len(f.Topics) > len(event.Topics) {
		return false
	}
	for i, want := range f.Topics {
		if want == nil {
			continue // wildcard
		}
		if !want.Equal(event.Topics[i]) {
			return false
		}
	}
	for _, want := range f.TopicsAny {
		if !containsValue(event.Topics, want) {
			return false
		}
	}
	return true
}

func containsValue(topics []decoder.Value, want decoder.Value) bool {
	for _, topic := range topics {
		if topic.Equal(want) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether event satisfies at least one of filters. An
// empty filter set matches everything, per the disjunctive-OR-of-filters
// request semantics.
func MatchesAny(filters []EventFilter, event *decoder.ExtractedEvent) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(event) {
			return true
		}
	}
	return false
}
