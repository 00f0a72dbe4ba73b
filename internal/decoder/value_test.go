package decoder

import (
	"encoding/json"
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	v := Value{Kind: "symbol", Str: "transfer"}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"symbol":"transfer"}`, string(b))

	var got Value
	require.NoError(t, json.Unmarshal(b, &got))
	require.True(t, v.Equal(got))
}

func TestValueEqualityVecAndMap(t *testing.T) {
	a := Value{Kind: "vec", Vec: []Value{{Kind: "u32", Num: 1}, {Kind: "symbol", Str: "x"}}}
	b := Value{Kind: "vec", Vec: []Value{{Kind: "u32", Num: 1}, {Kind: "symbol", Str: "x"}}}
	c := Value{Kind: "vec", Vec: []Value{{Kind: "symbol", Str: "x"}, {Kind: "u32", Num: 1}}}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c), "order matters for structural equality")
}

func TestValueEqualityIgnoresNothingImplicit(t *testing.T) {
	require.False(t, (Value{Kind: "u32", Num: 1}).Equal(Value{Kind: "u32", Num: 2}))
	require.False(t, (Value{Kind: "u32", Num: 1}).Equal(Value{Kind: "i32", Num: 1}))
}

func TestUnmarshalRejectsMultiKeyObject(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"symbol":"a","u32":1}`), &v)
	require.Error(t, err)
}

func TestFromScValAddress(t *testing.T) {
	var cid xdr.ContractId
	copy(cid[:], []byte{1, 2, 3, 4})
	sc := xdr.ScVal{
		Type: xdr.ScValTypeScvAddress,
		Address: &xdr.ScAddress{
			Type:       xdr.ScAddressTypeScAddressTypeContract,
			ContractId: &cid,
		},
	}
	v, err := FromScVal(sc, newStrkeyCache())
	require.NoError(t, err)
	require.Equal(t, "address", v.Kind)
	require.NotEmpty(t, v.Str)
}

func TestFromScValU128(t *testing.T) {
	sc := xdr.ScVal{
		Type: xdr.ScValTypeScvU128,
		U128: &xdr.UInt128Parts{Hi: 1, Lo: 0},
	}
	v, err := FromScVal(sc, nil)
	require.NoError(t, err)
	require.Equal(t, "u128", v.Kind)
	require.Equal(t, "18446744073709551616", v.Str) // 2^64
}

func TestStrkeyCacheMemoizes(t *testing.T) {
	cache := newStrkeyCache()
	var id [32]byte
	id[0] = 0x42

	a, err := cache.encodeContract(id)
	require.NoError(t, err)
	b, err := cache.encodeContract(id)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, cache.contracts, 1)
}
