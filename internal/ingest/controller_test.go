package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leighmcculloch/stellar-events-api/internal/archive"
	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/metrics"
	"github.com/leighmcculloch/stellar-events-api/internal/store"
)

var errUnconfigured = errors.New("no fake response configured")

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[uint32]func() ([]byte, error)
	calls     map[uint32]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[uint32]func() ([]byte, error){}, calls: map[uint32]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, seq uint32) ([]byte, error) {
	f.mu.Lock()
	f.calls[seq]++
	fn, ok := f.responses[seq]
	f.mu.Unlock()
	if !ok {
		return nil, &archive.Error{Kind: archive.KindNotFound, Err: errUnconfigured}
	}
	return fn()
}

func (f *fakeFetcher) callCount(seq uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[seq]
}

func newTestController(t *testing.T, fetcher archiveFetcher, st *store.Store) *Controller {
	reg := prometheus.NewRegistry()
	logger := zap.NewNop()
	c := &Controller{
		cfg: Config{
			ParallelFetches: 2,
			PollInterval:    10 * time.Millisecond,
			InitialBackoff:  5 * time.Millisecond,
			MaxBackoff:      20 * time.Millisecond,
			FatalCooldown:   5 * time.Millisecond,
			BackfillBudget:  200 * time.Millisecond,
		}.withDefaults(),
		fetcher: fetcher,
		store:   st,
		metrics: metrics.New(reg),
		logger:  logger,
		decode: func(passphrase string, payload []byte) ([]decoder.ExtractedEvent, error) {
			var events []decoder.ExtractedEvent
			if err := decodeFakePayload(payload, &events); err != nil {
				return nil, err
			}
			return events, nil
		},
	}
	return c
}

// decodeFakePayload lets tests hand the controller a pre-built event list
// without needing a real zstd/XDR payload, by encoding it as a gob-free
// sentinel the fake fetcher constructs directly.
func decodeFakePayload(payload []byte, out *[]decoder.ExtractedEvent) error {
	events, ok := fakePayloads[string(payload)]
	if !ok {
		return nil
	}
	*out = events
	return nil
}

var fakePayloads = map[string][]decoder.ExtractedEvent{}

func registerFakePayload(token string, events []decoder.ExtractedEvent) []byte {
	fakePayloads[token] = events
	return []byte(token)
}

func TestBackfillIfNeededFetchesAndPublishes(t *testing.T) {
	st := store.New()
	fetcher := newFakeFetcher()

	payload := registerFakePayload("obj-0", []decoder.ExtractedEvent{
		{Tuple: mustTuple(5, 0)},
	})
	fetcher.responses[0] = func() ([]byte, error) { return payload, nil }

	c := newTestController(t, fetcher, st)

	err := c.BackfillIfNeeded(context.Background(), 5)
	require.NoError(t, err)

	p, ok := st.Get(5)
	require.True(t, ok)
	require.Len(t, p.Events, 1)
}

func TestBackfillCoalescesConcurrentCallers(t *testing.T) {
	st := store.New()
	fetcher := newFakeFetcher()

	var fetchStarted sync.WaitGroup
	fetchStarted.Add(1)
	release := make(chan struct{})

	payload := registerFakePayload("obj-coalesce", nil)
	fetcher.responses[0] = func() ([]byte, error) {
		fetchStarted.Done()
		<-release
		return payload, nil
	}

	c := newTestController(t, fetcher, st)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.BackfillIfNeeded(context.Background(), uint32(i))
		}(i)
	}

	fetchStarted.Wait()
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, fetcher.callCount(0), "concurrent backfills for the same object must coalesce to one fetch")
}

func TestBackfillPropagatesNotFound(t *testing.T) {
	st := store.New()
	fetcher := newFakeFetcher()
	c := newTestController(t, fetcher, st)

	err := c.BackfillIfNeeded(context.Background(), 100)
	require.Error(t, err)
}

func TestRunPublishesEmptyPartitionsForEventlessLedgers(t *testing.T) {
	st := store.New()
	fetcher := newFakeFetcher()

	payload := registerFakePayload("obj-run-0", []decoder.ExtractedEvent{
		{Tuple: mustTuple(3, 0)},
	})
	fetcher.responses[0] = func() ([]byte, error) { return payload, nil }

	c := newTestController(t, fetcher, st)
	c.cfg.StartLedger = 1

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	p3, ok := st.Get(3)
	require.True(t, ok)
	require.Len(t, p3.Events, 1)

	p0, ok := st.Get(0)
	require.True(t, ok)
	require.Empty(t, p0.Events, "eventless ledgers in a fetched object must still publish an empty partition")
}

func mustTuple(ledger uint32, eventIdx uint16) cursor.Tuple {
	return cursor.Tuple{Ledger: ledger, EventIndex: eventIdx}
}

func TestResolveStartLedgerUsesConfiguredStartLedger(t *testing.T) {
	st := store.New()
	c := newTestController(t, newFakeFetcher(), st)
	c.cfg.StartLedger = 42
	c.head = func(ctx context.Context) (uint32, error) {
		t.Fatal("head discovery must not be consulted when start_ledger is configured")
		return 0, nil
	}

	start, err := c.resolveStartLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(42), start)
}

func TestResolveStartLedgerResumesFromLatestIngested(t *testing.T) {
	st := store.New()
	st.Put(store.NewPartition(7, nil, time.Now()))
	c := newTestController(t, newFakeFetcher(), st)
	c.head = func(ctx context.Context) (uint32, error) {
		t.Fatal("head discovery must not be consulted when the store already has a latest_ingested")
		return 0, nil
	}

	start, err := c.resolveStartLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(8), start)
}

func TestResolveStartLedgerDiscoversHeadOnColdStart(t *testing.T) {
	st := store.New()
	c := newTestController(t, newFakeFetcher(), st)
	c.head = func(ctx context.Context) (uint32, error) {
		return 9000, nil
	}

	start, err := c.resolveStartLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(9000), start)
}

func TestResolveStartLedgerFallsBackWithNoHeadConfigured(t *testing.T) {
	st := store.New()
	c := newTestController(t, newFakeFetcher(), st)
	c.head = nil

	start, err := c.resolveStartLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultStartLedgerFallback), start)
}

func TestDiscoverHeadRetriesTransientFailuresThenSucceeds(t *testing.T) {
	st := store.New()
	c := newTestController(t, newFakeFetcher(), st)

	var attempts int
	c.head = func(ctx context.Context) (uint32, error) {
		attempts++
		if attempts < 3 {
			return 0, errUnconfigured
		}
		return 12345, nil
	}

	start, err := c.discoverHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(12345), start)
	require.Equal(t, 3, attempts)
}

func TestDiscoverHeadAbandonsOnCancellation(t *testing.T) {
	st := store.New()
	c := newTestController(t, newFakeFetcher(), st)
	c.head = func(ctx context.Context) (uint32, error) {
		return 0, errUnconfigured
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.discoverHead(ctx)
	require.Error(t, err)
}
