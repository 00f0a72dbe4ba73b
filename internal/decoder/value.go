package decoder

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/stellar/go/xdr"
)

// Value is the opaque XDR-JSON value tree used for both stored event
// topics/data and parsed filter qualifier values. Two Values are considered
// equal by plain struct equality of their exported fields (see Equal), which
// is how the store and query language compare topics — no floating point is
// involved anywhere in this model.
//
// On the wire each Value is a single-key JSON object keyed by its Kind, e.g.
// {"symbol":"transfer"}, {"u32":5}, {"address":"CB...CONTRACT"}, mirroring
// the chain's canonical XDR-JSON ScVal representation.
type Value struct {
	Kind string // bool, void, u32, i32, u64, i64, u128, i128, u256, i256, timepoint, duration, symbol, string, bytes, address, vec, map, instance, unknown
	Str  string // symbol, string, bytes(hex), address, u128/i128/u256/i256 decimal string, unknown type name
	Num  int64  // u32/i32/u64/i64/timepoint/duration as a signed 64-bit container
	Vec  []Value
	Map  []MapEntry
}

// MapEntry is one key/value pair of an ScvMap, preserved in encoded order.
type MapEntry struct {
	Key Value
	Val Value
}

// Equal reports whether v and other are structurally identical, including
// ordered array/map comparison, per the query language's deep-equality
// matching contract.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind || v.Str != other.Str || v.Num != other.Num {
		return false
	}
	if len(v.Vec) != len(other.Vec) {
		return false
	}
	for i := range v.Vec {
		if !v.Vec[i].Equal(other.Vec[i]) {
			return false
		}
	}
	if len(v.Map) != len(other.Map) {
		return false
	}
	for i := range v.Map {
		if !v.Map[i].Key.Equal(other.Map[i].Key) || !v.Map[i].Val.Equal(other.Map[i].Val) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the value in its single-key XDR-JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case "void":
		return json.Marshal(map[string]interface{}{"void": nil})
	case "instance":
		return json.Marshal(map[string]interface{}{"instance": nil})
	case "vec":
		return json.Marshal(map[string]interface{}{"vec": v.Vec})
	case "map":
		entries := make([]map[string]interface{}, 0, len(v.Map))
		for _, e := range v.Map {
			entries = append(entries, map[string]interface{}{"key": e.Key, "val": e.Val})
		}
		return json.Marshal(map[string]interface{}{"map": entries})
	case "bool":
		return json.Marshal(map[string]interface{}{"bool": v.Num != 0})
	case "u32", "i32", "u64", "i64", "timepoint", "duration":
		return json.Marshal(map[string]interface{}{v.Kind: v.Num})
	case "symbol", "string", "bytes", "address", "u128", "i128", "u256", "i256", "unknown":
		return json.Marshal(map[string]interface{}{v.Kind: v.Str})
	default:
		return json.Marshal(map[string]interface{}{"unknown": v.Str})
	}
}

// UnmarshalJSON parses a single-key XDR-JSON object back into a Value, used
// by the query language to turn a topicN:{"symbol":"transfer"} qualifier
// into a comparable Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("value must be a JSON object: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("value object must have exactly one key, got %d", len(raw))
	}
	for kind, payload := range raw {
		v.Kind = kind
		switch kind {
		case "void":
			return nil
		case "bool":
			var b bool
			if err := json.Unmarshal(payload, &b); err != nil {
				return err
			}
			if b {
				v.Num = 1
			}
			return nil
		case "u32", "i32", "u64", "i64", "timepoint", "duration":
			var n int64
			if err := json.Unmarshal(payload, &n); err != nil {
				return err
			}
			v.Num = n
			return nil
		case "symbol", "string", "bytes", "address", "u128", "i128", "u256", "i256", "unknown":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			v.Str = s
			return nil
		case "vec":
			var vec []Value
			if err := json.Unmarshal(payload, &vec); err != nil {
				return err
			}
			v.Vec = vec
			return nil
		case "map":
			var entries []struct {
				Key Value `json:"key"`
				Val Value `json:"val"`
			}
			if err := json.Unmarshal(payload, &entries); err != nil {
				return err
			}
			for _, e := range entries {
				v.Map = append(v.Map, MapEntry{Key: e.Key, Val: e.Val})
			}
			return nil
		default:
			return fmt.Errorf("unrecognized value kind %q", kind)
		}
	}
	return nil
}

// FromScVal converts a chain ScVal into the opaque Value tree. Strkey
// encoding of addresses is delegated to cache, which may be nil (no
// caching) for one-off conversions.
func FromScVal(val xdr.ScVal, cache *strkeyCache) (Value, error) {
	switch val.Type {
	case xdr.ScValTypeScvVoid:
		return Value{Kind: "void"}, nil

	case xdr.ScValTypeScvBool:
		if val.B == nil {
			return Value{}, fmt.Errorf("scvBool missing value")
		}
		n := int64(0)
		if *val.B {
			n = 1
		}
		return Value{Kind: "bool", Num: n}, nil

	case xdr.ScValTypeScvU32:
		if val.U32 == nil {
			return Value{}, fmt.Errorf("scvU32 missing value")
		}
		return Value{Kind: "u32", Num: int64(*val.U32)}, nil

	case xdr.ScValTypeScvI32:
		if val.I32 == nil {
			return Value{}, fmt.Errorf("scvI32 missing value")
		}
		return Value{Kind: "i32", Num: int64(*val.I32)}, nil

	case xdr.ScValTypeScvU64:
		if val.U64 == nil {
			return Value{}, fmt.Errorf("scvU64 missing value")
		}
		return Value{Kind: "u64", Num: int64(*val.U64)}, nil

	case xdr.ScValTypeScvI64:
		if val.I64 == nil {
			return Value{}, fmt.Errorf("scvI64 missing value")
		}
		return Value{Kind: "i64", Num: int64(*val.I64)}, nil

	case xdr.ScValTypeScvTimepoint:
		if val.Timepoint == nil {
			return Value{}, fmt.Errorf("scvTimepoint missing value")
		}
		return Value{Kind: "timepoint", Num: int64(*val.Timepoint)}, nil

	case xdr.ScValTypeScvDuration:
		if val.Duration == nil {
			return Value{}, fmt.Errorf("scvDuration missing value")
		}
		return Value{Kind: "duration", Num: int64(*val.Duration)}, nil

	case xdr.ScValTypeScvU128:
		if val.U128 == nil {
			return Value{}, fmt.Errorf("scvU128 missing value")
		}
		return Value{Kind: "u128", Str: uint128ToString(*val.U128)}, nil

	case xdr.ScValTypeScvI128:
		if val.I128 == nil {
			return Value{}, fmt.Errorf("scvI128 missing value")
		}
		return Value{Kind: "i128", Str: int128ToString(*val.I128)}, nil

	case xdr.ScValTypeScvU256:
		if val.U256 == nil {
			return Value{}, fmt.Errorf("scvU256 missing value")
		}
		return Value{Kind: "u256", Str: uint256ToString(*val.U256)}, nil

	case xdr.ScValTypeScvI256:
		if val.I256 == nil {
			return Value{}, fmt.Errorf("scvI256 missing value")
		}
		return Value{Kind: "i256", Str: int256ToString(*val.I256)}, nil

	case xdr.ScValTypeScvSymbol:
		if val.Sym == nil {
			return Value{}, fmt.Errorf("scvSymbol missing value")
		}
		return Value{Kind: "symbol", Str: string(*val.Sym)}, nil

	case xdr.ScValTypeScvString:
		if val.Str == nil {
			return Value{}, fmt.Errorf("scvString missing value")
		}
		return Value{Kind: "string", Str: string(*val.Str)}, nil

	case xdr.ScValTypeScvBytes:
		if val.Bytes == nil {
			return Value{}, fmt.Errorf("scvBytes missing value")
		}
		return Value{Kind: "bytes", Str: fmt.Sprintf("%x", []byte(*val.Bytes))}, nil

	case xdr.ScValTypeScvAddress:
		if val.Address == nil {
			return Value{}, fmt.Errorf("scvAddress missing value")
		}
		addr, err := addressToStrkey(*val.Address, cache)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: "address", Str: addr}, nil

	case xdr.ScValTypeScvVec:
		if val.Vec == nil {
			return Value{Kind: "vec"}, nil
		}
		items := *val.Vec
		out := make([]Value, 0, len(items))
		for _, item := range items {
			converted, err := FromScVal(item, cache)
			if err != nil {
				return Value{}, err
			}
			out = append(out, converted)
		}
		return Value{Kind: "vec", Vec: out}, nil

	case xdr.ScValTypeScvMap:
		if val.Map == nil {
			return Value{Kind: "map"}, nil
		}
		entries := *val.Map
		out := make([]MapEntry, 0, len(entries))
		for _, entry := range entries {
			key, err := FromScVal(entry.Key, cache)
			if err != nil {
				return Value{}, err
			}
			v, err := FromScVal(entry.Val, cache)
			if err != nil {
				return Value{}, err
			}
			out = append(out, MapEntry{Key: key, Val: v})
		}
		return Value{Kind: "map", Map: out}, nil

	case xdr.ScValTypeScvContractInstance:
		return Value{Kind: "instance"}, nil

	case xdr.ScValTypeScvLedgerKeyContractInstance:
		return Value{Kind: "instance"}, nil

	case xdr.ScValTypeScvLedgerKeyNonce:
		return Value{Kind: "unknown", Str: "ledger_key_nonce"}, nil

	default:
		return Value{Kind: "unknown", Str: val.Type.String()}, nil
	}
}

func addressToStrkey(addr xdr.ScAddress, cache *strkeyCache) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("scAddress account missing id")
		}
		raw := addr.AccountId.Ed25519
		return cache.encodeAccount(*raw)

	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("scAddress contract missing id")
		}
		return cache.encodeContract(*addr.ContractId)

	default:
		return "", fmt.Errorf("unsupported ScAddress type: %v", addr.Type)
	}
}

func uint128ToString(val xdr.UInt128Parts) string {
	hi := new(big.Int).SetUint64(uint64(val.Hi))
	lo := new(big.Int).SetUint64(uint64(val.Lo))
	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}

func int128ToString(val xdr.Int128Parts) string {
	hi := new(big.Int).SetUint64(uint64(val.Hi))
	lo := new(big.Int).SetUint64(uint64(val.Lo))
	if uint64(val.Hi)&(1<<63) != 0 {
		hi.Sub(hi, new(big.Int).Lsh(big.NewInt(1), 64))
	}
	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}

func uint256ToString(val xdr.UInt256Parts) string {
	return assemble256(uint64(val.HiHi), uint64(val.HiLo), uint64(val.LoHi), uint64(val.LoLo), false)
}

func int256ToString(val xdr.Int256Parts) string {
	return assemble256(uint64(val.HiHi), uint64(val.HiLo), uint64(val.LoHi), uint64(val.LoLo), true)
}

func assemble256(hiHi, hiLo, loHi, loLo uint64, signed bool) string {
	hiHiB := new(big.Int).SetUint64(hiHi)
	if signed && hiHi&(1<<63) != 0 {
		hiHiB.Sub(hiHiB, new(big.Int).Lsh(big.NewInt(1), 64))
	}
	hiLoB := new(big.Int).SetUint64(hiLo)
	loHiB := new(big.Int).SetUint64(loHi)
	loLoB := new(big.Int).SetUint64(loLo)

	hiHiB.Lsh(hiHiB, 192)
	hiLoB.Lsh(hiLoB, 128)
	loHiB.Lsh(loHiB, 64)

	result := new(big.Int)
	result.Add(result, hiHiB)
	result.Add(result, hiLoB)
	result.Add(result, loHiB)
	result.Add(result, loLoB)
	return result.String()
}
