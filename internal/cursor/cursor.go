// Package cursor implements the event external ID: a bijective encoding of
// the (ledger_sequence, phase, tx_index, event_index) tuple that identifies
// an event, used both as its public id and as an opaque pagination cursor.
package cursor

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Prefix is prepended to every encoded cursor/external ID.
const Prefix = "evt_"

const tupleLen = 9 // u32 + u8 + u16 + u16

// Tuple is the four-part key that uniquely identifies an event within the
// store and is monotonic in natural (ascending) order within a ledger.
type Tuple struct {
	Ledger     uint32
	Phase      uint8
	TxIndex    uint16
	EventIndex uint16
}

// Less reports whether t is strictly before other in natural ascending order.
func (t Tuple) Less(other Tuple) bool {
	if t.Ledger != other.Ledger {
		return t.Ledger < other.Ledger
	}
	if t.Phase != other.Phase {
		return t.Phase < other.Phase
	}
	if t.TxIndex != other.TxIndex {
		return t.TxIndex < other.TxIndex
	}
	return t.EventIndex < other.EventIndex
}

// Encode packs the tuple into 9 big-endian bytes and base58-encodes them
// with the evt_ prefix. The encoded string's lexical order does NOT need to
// match the tuple's natural order — callers must decode before comparing.
func Encode(t Tuple) string {
	var buf [tupleLen]byte
	binary.BigEndian.PutUint32(buf[0:4], t.Ledger)
	buf[4] = t.Phase
	binary.BigEndian.PutUint16(buf[5:7], t.TxIndex)
	binary.BigEndian.PutUint16(buf[7:9], t.EventIndex)
	return Prefix + base58.Encode(buf[:])
}

// Decode is the inverse of Encode. It validates the prefix and decoded byte
// length, returning an error (wrapping ErrInvalid) on any mismatch.
func Decode(s string) (Tuple, error) {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return Tuple{}, fmt.Errorf("%w: missing %q prefix", ErrInvalid, Prefix)
	}
	raw, err := base58.Decode(s[len(Prefix):])
	if err != nil {
		return Tuple{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(raw) != tupleLen {
		return Tuple{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalid, tupleLen, len(raw))
	}

	return Tuple{
		Ledger:     binary.BigEndian.Uint32(raw[0:4]),
		Phase:      raw[4],
		TxIndex:    binary.BigEndian.Uint16(raw[5:7]),
		EventIndex: binary.BigEndian.Uint16(raw[7:9]),
	}, nil
}

// ErrInvalid is wrapped by every Decode failure; callers use errors.Is to
// detect an invalid_cursor condition.
var ErrInvalid = errInvalid{}

type errInvalid struct{}

func (errInvalid) Error() string { return "invalid_cursor" }
