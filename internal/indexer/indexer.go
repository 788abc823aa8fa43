package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// ChainReader lists the on-chain transactions carrying sync payloads for one
// chain within [from, to) (spec §4.5).
type ChainReader interface {
	Chain() types.Chain
	FetchRange(ctx context.Context, from, to time.Time) ([]types.ChainTx, error)
	Head(ctx context.Context) (time.Time, error)
}

// Config mirrors the pack's fetcher Config (other_examples indexer-go
// pkg/fetch/fetcher.go), trimmed to the knobs a time-windowed reader needs.
type Config struct {
	SyncType    string
	BatchWindow time.Duration
	NumWorkers  int
	RetryDelay  time.Duration
	MaxRetries  int
}

// Reader drives one ChainReader against a resumable ChainSyncStatus cursor,
// persisting observed transactions via txpublisher's store dependency (spec
// §4.5: "per-chain reader loop").
type Reader struct {
	reader ChainReader
	store  store.Store
	cfg    Config
	log    *zap.Logger

	onTxs func(ctx context.Context, txs []types.ChainTx) error
}

// New builds a Reader. onTxs is invoked with each fetched batch, typically
// internal/txpublisher.Publisher.Publish.
func New(reader ChainReader, st store.Store, cfg Config, log *zap.Logger, onTxs func(ctx context.Context, txs []types.ChainTx) error) *Reader {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = time.Hour
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Reader{reader: reader, store: st, cfg: cfg, log: log, onTxs: onTxs}
}

// Run advances the chain's sync cursor to its current head, fetching
// BatchWindow-sized windows with NumWorkers of concurrency (spec §4.5,
// grounded on the pack fetcher's FetchRangeConcurrent worker pool).
func (r *Reader) Run(ctx context.Context) error {
	chain := r.reader.Chain()
	status, err := r.loadStatus(ctx, chain)
	if err != nil {
		return err
	}

	head, err := r.reader.Head(ctx)
	if err != nil {
		return fmt.Errorf("indexer: head for %s: %w", chain, err)
	}

	from := time.Unix(0, int64(status.Height))
	if status.Height == 0 {
		from = head.Add(-24 * time.Hour)
	}
	if !from.Before(head) {
		return nil
	}

	windows := windowize(from, head, r.cfg.BatchWindow)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.NumWorkers)

	results := make([][]types.ChainTx, len(windows))
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			txs, err := r.fetchWithRetry(gctx, w.Start, w.End)
			if err != nil {
				return err
			}
			results[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, txs := range results {
		if len(txs) > 0 {
			if err := r.onTxs(ctx, txs); err != nil {
				return err
			}
		}
		status.Height = uint64(windows[i].End.UnixNano())
		status.LastUpdate = time.Now().UTC()
		if err := r.store.Messages().SetSyncStatus(*status); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) fetchWithRetry(ctx context.Context, from, to time.Time) ([]types.ChainTx, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}
		txs, err := r.reader.FetchRange(ctx, from, to)
		if err == nil {
			return txs, nil
		}
		lastErr = err
		r.log.Warn("indexer: fetch range failed, retrying",
			zap.String("chain", string(r.reader.Chain())),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("indexer: %s fetch range exhausted retries: %w", r.reader.Chain(), lastErr)
}

func (r *Reader) loadStatus(ctx context.Context, chain types.Chain) (*types.ChainSyncStatus, error) {
	if s, ok := r.store.Messages().GetSyncStatus(chain, r.cfg.SyncType); ok {
		return s, nil
	}
	return &types.ChainSyncStatus{Chain: chain, SyncType: r.cfg.SyncType}, nil
}

func windowize(from, to time.Time, size time.Duration) []Range[time.Time] {
	var out []Range[time.Time]
	for cursor := from; cursor.Before(to); {
		end := cursor.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, Range[time.Time]{Start: cursor, End: end})
		cursor = end
	}
	return out
}
