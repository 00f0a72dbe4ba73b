package store

import (
	"time"

	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
)

// Partition is an immutable, shared-ownership snapshot of every event
// produced for a single ledger sequence. Once published into a Store it is
// never mutated; a refreshed fetch publishes a brand new Partition under the
// same key.
type Partition struct {
	Sequence  uint32
	Events    []decoder.ExtractedEvent // ascending natural order
	CreatedAt time.Time
}

// NewPartition builds a Partition, defensively copying nothing — events is
// taken by move, matching the decoder's "no clone on insert" contract.
func NewPartition(sequence uint32, events []decoder.ExtractedEvent, createdAt time.Time) *Partition {
	return &Partition{Sequence: sequence, Events: events, CreatedAt: createdAt}
}

// Expired reports whether this partition's TTL has elapsed as of now.
func (p *Partition) Expired(now time.Time, ttl time.Duration) bool {
	return p.CreatedAt.Add(ttl).Before(now)
}
