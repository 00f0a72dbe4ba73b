package decoder

import (
	"bytes"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"
)

func TestDecompressRoundTrip(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility " +
		"the quick brown fox jumps over the lazy dog, repeated for compressibility")

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(want)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	got, err := decompress(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecompressInvalidInput(t *testing.T) {
	_, err := decompress([]byte("not zstd"))
	require.Error(t, err)
}

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		in   xdr.ContractEventType
		want EventType
	}{
		{xdr.ContractEventTypeContract, EventTypeContract},
		{xdr.ContractEventTypeSystem, EventTypeSystem},
		{xdr.ContractEventTypeDiagnostic, EventTypeDiagnostic},
	}
	for _, c := range cases {
		got, err := classifyEventType(xdr.ContractEvent{Type: c.in})
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func symbolScVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func TestToExtractedEvent(t *testing.T) {
	var contractID xdr.ContractId
	copy(contractID[:], bytes.Repeat([]byte{0x01}, 32))

	event := xdr.ContractEvent{
		Type:       xdr.ContractEventTypeContract,
		ContractId: &contractID,
		Body: xdr.ContractEventBody{
			Type: 0,
			V0: &xdr.ContractEventV0{
				Topics: []xdr.ScVal{symbolScVal("transfer")},
				Data:   symbolScVal("payload"),
			},
		},
	}

	cache := newStrkeyCache()
	extracted, err := toExtractedEvent(100, 1, 2, 0, "deadbeef", time.Now().UTC(), event, cache)
	require.NoError(t, err)

	require.Equal(t, uint32(100), extracted.Tuple.Ledger)
	require.Equal(t, uint8(1), extracted.Tuple.Phase)
	require.Equal(t, uint16(2), extracted.Tuple.TxIndex)
	require.Equal(t, uint16(0), extracted.Tuple.EventIndex)
	require.Equal(t, EventTypeContract, extracted.EventType)
	require.NotEmpty(t, extracted.ContractID)
	require.Len(t, extracted.Topics, 1)
	require.Equal(t, "symbol", extracted.Topics[0].Kind)
	require.Equal(t, "transfer", extracted.Topics[0].Str)
	require.NotEmpty(t, extracted.ExternalID)
}

func TestToExtractedEventTruncatesTopicsToFour(t *testing.T) {
	var contractID xdr.ContractId
	event := xdr.ContractEvent{
		Type:       xdr.ContractEventTypeContract,
		ContractId: &contractID,
		Body: xdr.ContractEventBody{
			Type: 0,
			V0: &xdr.ContractEventV0{
				Topics: []xdr.ScVal{
					symbolScVal("a"), symbolScVal("b"), symbolScVal("c"),
					symbolScVal("d"), symbolScVal("e"),
				},
				Data: xdr.ScVal{Type: xdr.ScValTypeScvVoid},
			},
		},
	}

	extracted, err := toExtractedEvent(1, 0, 0, 0, "hash", time.Now().UTC(), event, newStrkeyCache())
	require.NoError(t, err)
	require.Len(t, extracted.Topics, 4)
}
