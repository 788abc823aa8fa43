package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/handlers"
	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// ProcessConfig tunes the Process stage's worker pool (spec §4.1 step 3:
// "each worker processes at most K messages in parallel, typically 5").
type ProcessConfig struct {
	Workers int
}

func (c ProcessConfig) withDefaults() ProcessConfig {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	return c
}

// Processor implements the Process stage (spec §4.1 step 3): dispatches
// fetched messages through the content handler Registry and commits the
// resulting projection.
type Processor struct {
	store    store.Store
	mq       broker.Broker
	registry *handlers.Registry
	cfg      ProcessConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewProcessor constructs a Processor, binding the ccnode.pending_messages
// queue to the transient message_processing exchange with pattern
// "fetch.#", so it receives every fetch announcement (spec §6). m may be
// nil, in which case process counters are not recorded.
func NewProcessor(st store.Store, mq broker.Broker, registry *handlers.Registry, cfg ProcessConfig, log *zap.Logger, m *metrics.Metrics) (*Processor, <-chan broker.Envelope, error) {
	mq.DeclareExchange(broker.ExchangeMessageProcessing, broker.Transient)
	ch, err := mq.Bind(broker.ExchangeMessageProcessing, broker.QueuePendingMessages, "fetch.#")
	if err != nil {
		return nil, nil, err
	}
	mq.DeclareExchange(broker.ExchangeMessageResult, broker.Durable)
	return &Processor{store: st, mq: mq, registry: registry, cfg: cfg.withDefaults(), log: log, metrics: m}, ch, nil
}

// Run drains envelopes with a bounded worker pool until ctx is cancelled or
// the channel closes.
func (p *Processor) Run(ctx context.Context, envelopes <-chan broker.Envelope) {
	sem := make(chan struct{}, p.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			sem <- struct{}{}
			go func(env broker.Envelope) {
				defer func() { <-sem }()
				p.handleFetched(ctx, string(env.Payload))
			}(env)
		}
	}
}

// handleFetched re-fetches the PendingMessage announced by hash and drives
// it through CheckDependencies/CheckPermissions/Process, or the
// confirmation path if the hash is already a live Message (spec §4.1 step
// 3).
func (p *Processor) handleFetched(ctx context.Context, hash string) {
	candidates := p.store.Messages().ListPendingByHash(hash)
	for _, pm := range candidates {
		if !pm.Fetched {
			continue
		}
		if err := p.processOne(ctx, pm); err != nil {
			p.log.Error("pipeline: process failed", zap.String("item_hash", hash), zap.Error(err))
		}
	}
}

func (p *Processor) processOne(ctx context.Context, pm types.PendingMessage) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	msg := pm.Message

	if existing, ok := p.store.Messages().GetMessage(msg.ItemHash); ok {
		if existing.Signature != msg.Signature {
			return p.rejectProcessed(pm, types.NewPermanent(types.KindInvalidSignature, "signature mismatch with existing message"))
		}
		if pm.TxHash != nil {
			if err := p.store.Messages().AddConfirmation(msg.ItemHash, *pm.TxHash); err != nil {
				return err
			}
		}
		if err := p.store.Messages().DeletePending(pm.ID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		if p.metrics != nil {
			p.metrics.MessagesProcessed.Inc()
		}
		p.publishResult(types.StatusProcessed, msg.ItemHash, msg.Sender)
		return nil
	}

	handler, ok := p.registry.Dispatch(msg.Type)
	if !ok {
		return p.rejectProcessed(pm, types.NewPermanent(types.KindInvalidMessageFormat, "no handler for message type"))
	}
	if err := handler.CheckDependencies(ctx, tx, &msg); err != nil {
		return p.handleProcessError(pm, err)
	}
	if err := handler.CheckPermissions(ctx, tx, &msg); err != nil {
		return p.handleProcessError(pm, err)
	}
	if err := handler.Process(ctx, tx, &msg); err != nil {
		return p.handleProcessError(pm, err)
	}

	if err := p.store.Messages().UpsertMessage(msg); err != nil {
		return err
	}
	if msg.ItemType != types.ItemTypeInline {
		if err := p.store.Files().UpsertStoredFile(types.StoredFile{Hash: msg.ItemHash, Size: int64(pm.Size), Type: types.StoredFileTypeFile}); err != nil {
			return err
		}
		if _, err := p.store.Files().UpsertPinUnique(types.FilePin{
			FileHash: msg.ItemHash,
			Type:     types.FilePinTypeContent,
			Owner:    msg.Sender,
			ItemHash: msg.ItemHash,
		}); err != nil {
			return err
		}
	}
	if pm.TxHash != nil {
		if err := p.store.Messages().AddConfirmation(msg.ItemHash, *pm.TxHash); err != nil {
			return err
		}
	}
	if err := p.store.Messages().DeletePending(pm.ID); err != nil {
		return err
	}
	if err := p.store.Messages().SetStatus(types.MessageStatus{
		ItemHash:      msg.ItemHash,
		Status:        types.StatusProcessed,
		ReceptionTime: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	if p.metrics != nil {
		p.metrics.MessagesProcessed.Inc()
	}
	p.publishResult(types.StatusProcessed, msg.ItemHash, msg.Sender)
	return nil
}

// handleProcessError applies §7's retry/reject split at the Process stage:
// transient errors leave the PendingMessage in place for a later retry,
// permanent errors reject it.
func (p *Processor) handleProcessError(pm types.PendingMessage, err error) error {
	pe, ok := types.AsProcessingError(err)
	if ok && pe.Transient() {
		pm.Retries++
		pm.NextAttempt = time.Now().UTC().Add(backoff(pm.Retries))
		return p.store.Messages().UpdatePending(pm)
	}
	return p.rejectProcessed(pm, err)
}

func (p *Processor) rejectProcessed(pm types.PendingMessage, err error) error {
	code := 0
	if pe, ok := types.AsProcessingError(err); ok {
		code = int(pe.Code)
	}
	hash := pm.ItemHash
	if rejErr := p.store.Messages().InsertRejected(types.RejectedMessage{
		ItemHash:      &hash,
		Reason:        err.Error(),
		ErrorCode:     code,
		ReceptionTime: time.Now().UTC(),
	}); rejErr != nil {
		return rejErr
	}
	if statusErr := p.store.Messages().SetStatus(types.MessageStatus{
		ItemHash:      pm.ItemHash,
		Status:        types.StatusRejected,
		ReceptionTime: time.Now().UTC(),
		ErrorCode:     code,
	}); statusErr != nil {
		return statusErr
	}
	if delErr := p.store.Messages().DeletePending(pm.ID); delErr != nil {
		return delErr
	}
	if p.metrics != nil {
		kind := "unknown"
		if pe, ok := types.AsProcessingError(err); ok {
			kind = string(pe.Kind)
		}
		p.metrics.MessagesRejected.WithLabelValues(kind).Inc()
	}
	p.publishResult(types.StatusRejected, pm.ItemHash, pm.Sender)
	return nil
}

func (p *Processor) publishResult(status types.MessageStatusValue, itemHash, sender string) {
	p.mq.Publish(broker.ExchangeMessageResult, broker.Envelope{
		RoutingKey: broker.ResultRoutingKey(string(status), itemHash, sender),
		Payload:    []byte(itemHash),
	})
}
