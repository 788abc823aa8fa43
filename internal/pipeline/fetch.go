package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccnode/ccnode/internal/chains"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// FetchConfig tunes the Fetch stage's worker pool (spec §4.1 step 2:
// "typically 20-200").
type FetchConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	FetchTimeout time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 50
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// Fetcher implements the Fetch stage (spec §4.1 step 2): signature
// verification plus content resolution for pending messages.
type Fetcher struct {
	store   store.Store
	chains  *chains.Registry
	content *contentstore.ContentStore
	cfg     FetchConfig
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewFetcher constructs a Fetcher. m may be nil, in which case fetch
// counters are not recorded.
func NewFetcher(st store.Store, chainsReg *chains.Registry, content *contentstore.ContentStore, cfg FetchConfig, log *zap.Logger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{store: st, chains: chainsReg, content: content, cfg: cfg.withDefaults(), log: log, metrics: m}
}

// Run polls SelectFetchable on PollInterval and dispatches a bounded worker
// pool over each batch until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	t := time.NewTicker(f.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := f.runBatch(ctx); err != nil && ctx.Err() == nil {
				f.log.Error("pipeline: fetch batch failed", zap.Error(err))
			}
		}
	}
}

func (f *Fetcher) runBatch(ctx context.Context) error {
	batch := f.store.Messages().SelectFetchable(time.Now().UTC(), f.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	ids := make([]int64, len(batch))
	for i, pm := range batch {
		ids[i] = pm.ID
	}
	f.store.Messages().MarkInFlight(ids...)
	defer f.store.Messages().ClearInFlight(ids...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, pm := range batch {
		pm := pm
		g.Go(func() error {
			f.fetchOne(gctx, pm)
			return nil
		})
	}
	return g.Wait()
}

// fetchOne verifies the signature, resolves content, and marks the row
// fetched (spec §4.1 step 2). Errors are classified per §7: transient
// errors bump Retries with backoff, permanent errors reject the message.
func (f *Fetcher) fetchOne(ctx context.Context, pm types.PendingMessage) {
	if err := f.chains.Verify(&pm.Message); err != nil {
		f.handleError(pm, err)
		return
	}

	if pm.ItemType != types.ItemTypeInline && pm.Content == nil {
		raw, _, err := f.content.GetHashContent(ctx, pm.ItemHash, pm.ItemType, f.cfg.FetchTimeout, true, true, true)
		if err != nil {
			f.handleError(pm, err)
			return
		}
		var content map[string]any
		if err := json.Unmarshal(raw, &content); err != nil {
			f.handleError(pm, types.NewPermanent(types.KindInvalidContent, "content is not valid JSON"))
			return
		}
		pm.Content = content
		pm.Size = len(raw)
	}

	pm.Fetched = true
	pm.Retries = 0
	_ = f.store.Messages().UpdatePending(pm)
}

// handleError applies spec §7's retry/reject split: transient errors get an
// exponential backoff on NextAttempt, permanent errors reject the message
// immediately.
func (f *Fetcher) handleError(pm types.PendingMessage, err error) {
	pe, ok := types.AsProcessingError(err)
	if !ok || !pe.Transient() {
		f.reject(pm, err)
		return
	}

	pm.Retries++
	pm.NextAttempt = time.Now().UTC().Add(backoff(pm.Retries))
	if updateErr := f.store.Messages().UpdatePending(pm); updateErr != nil {
		f.log.Error("pipeline: failed to persist retry", zap.Error(updateErr))
	}
	if f.metrics != nil {
		f.metrics.FetchRetries.Inc()
	}
	f.log.Warn("pipeline: fetch retry scheduled", zap.String("item_hash", pm.ItemHash), zap.Int("retries", pm.Retries), zap.Error(err))
}

func (f *Fetcher) reject(pm types.PendingMessage, err error) {
	code := 0
	if pe, ok := types.AsProcessingError(err); ok {
		code = int(pe.Code)
	}
	hash := pm.ItemHash
	_ = f.store.Messages().InsertRejected(types.RejectedMessage{
		ItemHash:      &hash,
		Reason:        err.Error(),
		ErrorCode:     code,
		ReceptionTime: time.Now().UTC(),
	})
	_ = f.store.Messages().SetStatus(types.MessageStatus{
		ItemHash:      pm.ItemHash,
		Status:        types.StatusRejected,
		ReceptionTime: time.Now().UTC(),
		ErrorCode:     code,
	})
	_ = f.store.Messages().DeletePending(pm.ID)
	if f.metrics != nil {
		kind := "unknown"
		if pe, ok := types.AsProcessingError(err); ok {
			kind = string(pe.Kind)
		}
		f.metrics.MessagesRejected.WithLabelValues(kind).Inc()
	}
	f.log.Warn("pipeline: message rejected at fetch", zap.String("item_hash", pm.ItemHash), zap.Error(err))
}

// backoff is a capped exponential delay keyed on retry count (spec §7
// "retry with backoff").
func backoff(retries int) time.Duration {
	const max = 5 * time.Minute
	if retries <= 0 {
		return 0
	}
	if retries > 9 {
		return max
	}
	d := time.Second << uint(retries-1)
	if d > max {
		return max
	}
	return d
}
