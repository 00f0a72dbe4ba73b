// Package ingest implements the proactive sync loop, bounded-concurrency
// fan-out fetcher, on-demand backfill coalescing, and TTL sweep scheduling
// that together keep the event store populated from the archive.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leighmcculloch/stellar-events-api/internal/archive"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/metrics"
	"github.com/leighmcculloch/stellar-events-api/internal/store"
)

// archiveFetcher is the subset of *archive.Client the controller depends
// on, narrowed so tests can substitute a fake.
type archiveFetcher interface {
	Fetch(ctx context.Context, seq uint32) ([]byte, error)
}

// ledgerHeadFunc discovers the current chain tip, used only to resolve the
// starting ledger when neither a configured start_ledger nor a prior
// latest_ingested is available.
type ledgerHeadFunc func(ctx context.Context) (uint32, error)

// Config tunes retry, concurrency, and cache-expiry behavior. Zero values
// are replaced with the documented defaults by New.
type Config struct {
	NetworkPassphrase string
	StartLedger       uint32 // 0 means auto-resolve
	ParallelFetches   int
	PollInterval      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	FatalCooldown     time.Duration
	BackfillBudget    time.Duration
	SweepInterval     time.Duration
	TTL               time.Duration
}

const (
	defaultParallelFetches = 10
	defaultPollInterval    = 5 * time.Second
	defaultInitialBackoff  = 500 * time.Millisecond
	defaultMaxBackoff      = 30 * time.Second
	defaultFatalCooldown   = 5 * time.Second
	defaultBackfillBudget  = 30 * time.Second
	defaultSweepInterval   = time.Minute
	defaultTTL             = 24 * time.Hour

	// DefaultStartLedgerFallback is used when no start_ledger is
	// configured, the store has never been populated, and no ledger-head
	// discovery endpoint is configured. Ledger 1 is the network's
	// genesis ledger and carries no transactions; 2 is the first ledger
	// that can.
	DefaultStartLedgerFallback = 2
)

func (c Config) withDefaults() Config {
	if c.ParallelFetches <= 0 {
		c.ParallelFetches = defaultParallelFetches
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.FatalCooldown <= 0 {
		c.FatalCooldown = defaultFatalCooldown
	}
	if c.BackfillBudget <= 0 {
		c.BackfillBudget = defaultBackfillBudget
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	return c
}

// Controller is the single mutator of the event store: it runs the
// proactive sync loop, serves on-demand backfill requests, and schedules
// the periodic TTL sweep.
type Controller struct {
	cfg     Config
	fetcher archiveFetcher
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	head    ledgerHeadFunc

	decode func(networkPassphrase string, payload []byte) ([]decoder.ExtractedEvent, error)

	sf singleflight.Group
}

// New builds a Controller. head may be nil, in which case start-ledger
// resolution falls back to DefaultStartLedgerFallback when the store is
// empty and no start ledger is configured.
func New(cfg Config, fetcher *archive.Client, st *store.Store, m *metrics.Metrics, logger *zap.Logger, head func(ctx context.Context) (uint32, error)) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		store:   st,
		metrics: m,
		logger:  logger,
		head:    head,
		decode:  decoder.Decode,
	}
}

// Run drives the proactive sync loop until ctx is cancelled. It fans out
// up to cfg.ParallelFetches concurrent archive fetches for consecutive
// partition objects ahead of the current position, committing each
// object's partitions to the store strictly in sequence order so
// latest_ingested only ever advances monotonically.
func (c *Controller) Run(ctx context.Context) error {
	start, err := c.resolveStartLedger(ctx)
	if err != nil {
		return fmt.Errorf("resolve start ledger: %w", err)
	}

	nextToCommit := archive.PartitionStart(start)

	jobs := make(chan uint32)
	results := make(chan fetchResult)

	go func() {
		defer close(jobs)
		objectStart := nextToCommit
		for {
			select {
			case <-ctx.Done():
				return
			case jobs <- objectStart:
				objectStart += archive.LedgersPerPartition
			}
		}
	}()

	workerCount := c.cfg.ParallelFetches
	done := make(chan struct{})
	for i := 0; i < workerCount; i++ {
		go func() {
			for objectStart := range jobs {
				events, err := c.fetchWithRetry(ctx, objectStart)
				select {
				case results <- fetchResult{objectStart: objectStart, events: events, err: err}:
				case <-ctx.Done():
					return
				}
			}
			done <- struct{}{}
		}()
	}

	pending := map[uint32]fetchResult{}
	finished := 0
	for finished < workerCount {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			finished++
		case res := <-results:
			if res.err != nil {
				if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
					continue
				}
				c.logger.Error("fatal error syncing partition, publishing as empty and continuing",
					zap.Uint32("object_start", res.objectStart), zap.Error(res.err))
				res.events = nil
			}
			pending[res.objectStart] = res
			for {
				r, ok := pending[nextToCommit]
				if !ok {
					break
				}
				c.publishObject(r.objectStart, r.events)
				delete(pending, nextToCommit)
				nextToCommit += archive.LedgersPerPartition
			}
		}
	}
	return ctx.Err()
}

type fetchResult struct {
	objectStart uint32
	events      []decoder.ExtractedEvent
	err         error
}

// fetchWithRetry fetches and decodes the partition object starting at
// objectStart, retrying not_found (tip-of-chain polling) and transient
// errors indefinitely until success, ctx cancellation, or a fatal error.
func (c *Controller) fetchWithRetry(ctx context.Context, objectStart uint32) ([]decoder.ExtractedEvent, error) {
	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		events, err := c.fetchObject(ctx, objectStart)
		if err == nil {
			return events, nil
		}

		var aerr *archive.Error
		if !errors.As(err, &aerr) {
			return nil, err
		}

		switch aerr.Kind {
		case archive.KindNotFound:
			if !sleep(ctx, c.cfg.PollInterval) {
				return nil, ctx.Err()
			}
		case archive.KindTransient:
			c.metrics.SyncErrors.Inc()
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
		case archive.KindFatal:
			c.logger.Error("fatal archive error", zap.Uint32("object_start", objectStart), zap.Error(err))
			sleep(ctx, c.cfg.FatalCooldown)
			return nil, err
		}
	}
}

func (c *Controller) fetchObject(ctx context.Context, objectStart uint32) ([]decoder.ExtractedEvent, error) {
	payload, err := c.fetcher.Fetch(ctx, objectStart)
	if err != nil {
		return nil, err
	}
	events, err := c.decode(c.cfg.NetworkPassphrase, payload)
	if err != nil {
		return nil, &archive.Error{Kind: archive.KindFatal, Err: err}
	}
	return events, nil
}

// publishObject fans a decoded partition object's events out into one
// store.Partition per ledger sequence in the object's range — including
// ledgers with zero events, so a later get(sequence) for an empty ledger
// does not look like an unsynced gap and trigger a redundant backfill.
func (c *Controller) publishObject(objectStart uint32, events []decoder.ExtractedEvent) {
	buckets := make(map[uint32][]decoder.ExtractedEvent)
	for _, e := range events {
		buckets[e.Tuple.Ledger] = append(buckets[e.Tuple.Ledger], e)
	}

	now := time.Now()
	for seq := objectStart; seq < objectStart+archive.LedgersPerPartition; seq++ {
		c.store.Put(store.NewPartition(seq, buckets[seq], now))
	}

	if c.metrics != nil {
		latest, ok := c.store.Latest()
		if ok {
			c.metrics.LatestIngested.Set(float64(latest))
		}
		c.metrics.PartitionsCached.Set(float64(c.store.Count()))
	}
}

func (c *Controller) resolveStartLedger(ctx context.Context) (uint32, error) {
	if c.cfg.StartLedger > 0 {
		return c.cfg.StartLedger, nil
	}
	if latest, ok := c.store.Latest(); ok {
		return latest + 1, nil
	}
	if c.head != nil {
		return c.discoverHead(ctx)
	}
	return DefaultStartLedgerFallback, nil
}

func (c *Controller) discoverHead(ctx context.Context) (uint32, error) {
	backoff := c.cfg.InitialBackoff
	for {
		seq, err := c.head(ctx)
		if err == nil {
			return seq, nil
		}
		c.logger.Warn("ledger-head discovery failed, retrying", zap.Error(err))
		if !sleep(ctx, backoff) {
			return 0, ctx.Err()
		}
		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current, capAt time.Duration) time.Duration {
	next := current * 2
	if next > capAt {
		next = capAt
	}
	jitter := time.Duration(rand.Int63n(int64(next)/10 + 1))
	return next + jitter
}

// BackfillIfNeeded fetches and publishes the partition object containing
// ledgerSeq if it is not already present, coalescing concurrent requests
// for the same object via a keyed single-flight. Cancelling ctx abandons
// this caller's wait without aborting a shared fetch other callers depend
// on.
func (c *Controller) BackfillIfNeeded(ctx context.Context, ledgerSeq uint32) error {
	if _, ok := c.store.Get(ledgerSeq); ok {
		return nil
	}

	objectStart := archive.PartitionStart(ledgerSeq)
	key := strconv.FormatUint(uint64(objectStart), 10)

	ch := c.sf.DoChan(key, func() (interface{}, error) {
		c.metrics.BackfillInflight.Inc()
		defer c.metrics.BackfillInflight.Dec()
		return nil, c.backfillObject(objectStart)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Controller) backfillObject(objectStart uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.BackfillBudget)
	defer cancel()

	backoff := c.cfg.InitialBackoff
	for {
		events, err := c.fetchObject(ctx, objectStart)
		if err == nil {
			c.publishObject(objectStart, events)
			return nil
		}

		var aerr *archive.Error
		if !errors.As(err, &aerr) {
			return err
		}

		switch aerr.Kind {
		case archive.KindNotFound:
			return err
		case archive.KindTransient:
			c.metrics.SyncErrors.Inc()
			if !sleep(ctx, backoff) {
				return &archive.Error{Kind: archive.KindFatal, Err: fmt.Errorf("backfill budget exceeded for object %d", objectStart)}
			}
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
		case archive.KindFatal:
			return err
		}
	}
}

// RunSweep runs the periodic TTL sweep until ctx is cancelled.
func (c *Controller) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.store.Sweep(time.Now(), c.cfg.TTL)
			if removed > 0 {
				c.logger.Info("swept expired partitions", zap.Int("removed", removed))
			}
			if c.metrics != nil {
				c.metrics.PartitionsExpired.Add(float64(removed))
				c.metrics.PartitionsCached.Set(float64(c.store.Count()))
			}
		}
	}
}
