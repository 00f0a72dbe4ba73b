package store

import (
	"context"
	"testing"
	"time"

	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/stretchr/testify/require"
)

func evAt(ledger uint32, eventIdx uint16) decoder.ExtractedEvent {
	return decoder.ExtractedEvent{
		Tuple: cursor.Tuple{Ledger: ledger, Phase: 1, TxIndex: 0, EventIndex: eventIdx},
	}
}

func TestPutGetLatest(t *testing.T) {
	s := New()
	_, ok := s.Latest()
	require.False(t, ok)

	s.Put(NewPartition(100, []decoder.ExtractedEvent{evAt(100, 0)}, time.Now()))
	s.Put(NewPartition(101, []decoder.ExtractedEvent{evAt(101, 0)}, time.Now()))

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, uint32(101), latest)

	p, ok := s.Get(100)
	require.True(t, ok)
	require.Equal(t, uint32(100), p.Sequence)

	_, ok = s.Get(999)
	require.False(t, ok)
}

func TestPutOutOfOrderStillAdvancesLatestCorrectly(t *testing.T) {
	s := New()
	s.Put(NewPartition(50, nil, time.Now()))
	s.Put(NewPartition(200, nil, time.Now()))
	s.Put(NewPartition(100, nil, time.Now()))

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, uint32(200), latest)
	require.Equal(t, []uint32{200, 100, 50}, s.ListLatest(3))
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := New()
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()
	s.Put(NewPartition(1, nil, old))
	s.Put(NewPartition(2, nil, fresh))

	removed := s.Sweep(time.Now(), time.Hour)
	require.Equal(t, 1, removed)
	require.EqualValues(t, 1, s.PartitionsExpired())

	_, ok := s.Get(1)
	require.False(t, ok)
	_, ok = s.Get(2)
	require.True(t, ok)
}

func TestQueryDescendingDefault(t *testing.T) {
	s := New()
	s.Put(NewPartition(10, []decoder.ExtractedEvent{evAt(10, 0), evAt(10, 1)}, time.Now()))
	s.Put(NewPartition(11, []decoder.ExtractedEvent{evAt(11, 0)}, time.Now()))

	res, err := s.Query(context.Background(), QueryParams{Direction: Before, Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	require.Equal(t, uint32(11), res.Events[0].Tuple.Ledger)
	require.Equal(t, uint32(10), res.Events[1].Tuple.Ledger)
	require.Equal(t, uint16(1), res.Events[1].Tuple.EventIndex)
	require.Equal(t, uint16(0), res.Events[2].Tuple.EventIndex)
	require.False(t, res.HasMore)
}

func TestQueryAscending(t *testing.T) {
	s := New()
	s.Put(NewPartition(10, []decoder.ExtractedEvent{evAt(10, 0)}, time.Now()))
	s.Put(NewPartition(11, []decoder.ExtractedEvent{evAt(11, 0)}, time.Now()))

	res, err := s.Query(context.Background(), QueryParams{
		Direction:   After,
		Limit:       10,
		StartLedger: uint32p(10),
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Equal(t, uint32(10), res.Events[0].Tuple.Ledger)
	require.Equal(t, uint32(11), res.Events[1].Tuple.Ledger)
}

func TestQueryPaginationHasMoreAndCursorRoundTrip(t *testing.T) {
	s := New()
	s.Put(NewPartition(10, []decoder.ExtractedEvent{evAt(10, 0), evAt(10, 1), evAt(10, 2)}, time.Now()))

	first, err := s.Query(context.Background(), QueryParams{Direction: Before, Limit: 2}, nil)
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	require.True(t, first.HasMore)
	require.NotNil(t, first.NextCursor)

	second, err := s.Query(context.Background(), QueryParams{
		Direction:   Before,
		Limit:       2,
		StartCursor: first.NextCursor,
	}, nil)
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	require.False(t, second.HasMore)
}

func TestQueryTriggersBackfillOnlyForStartLedger(t *testing.T) {
	s := New()
	s.Put(NewPartition(10, []decoder.ExtractedEvent{evAt(10, 0)}, time.Now()))

	var backfilled []uint32
	backfill := func(ctx context.Context, seq uint32) error {
		backfilled = append(backfilled, seq)
		return nil
	}

	res, err := s.Query(context.Background(), QueryParams{
		Direction:   Before,
		Limit:       10,
		StartLedger: uint32p(12),
	}, backfill)
	require.NoError(t, err)
	require.Equal(t, []uint32{12}, backfilled, "absent ledger 11 between start and existing partitions must not trigger a second backfill")
	require.Len(t, res.Events, 1)
}

func TestQueryNoBackfillWhenStartAlreadyPresent(t *testing.T) {
	s := New()
	s.Put(NewPartition(10, []decoder.ExtractedEvent{evAt(10, 0)}, time.Now()))

	called := false
	backfill := func(ctx context.Context, seq uint32) error {
		called = true
		return nil
	}

	_, err := s.Query(context.Background(), QueryParams{Direction: Before, Limit: 10, StartLedger: uint32p(10)}, backfill)
	require.NoError(t, err)
	require.False(t, called)
}

func uint32p(v uint32) *uint32 { return &v }
