// Package txprocessor implements the pending-TX processor (spec §4.6):
// consumes `pending_tx.<chain>.<publisher>.<hash>`, materializes a ChainTx
// into 0..N PendingMessage rows via internal/chaindata, and clears the
// PendingTx row on success. Grounded on the teacher's bounded-parallelism
// dispatch shape; concurrency is bounded with golang.org/x/sync/errgroup's
// SetLimit the way other_examples' indexer fetcher bounds its worker pool.
package txprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccnode/ccnode/internal/chaindata"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// MaxParallelTxs is the default intra-batch concurrency bound (spec §4.6
// "default 200 parallel TXs").
const MaxParallelTxs = 200

// Processor turns observed chain transactions into pending messages.
type Processor struct {
	store   store.Store
	decoder *chaindata.Decoder
	log     *zap.Logger

	parallelism int
}

// New constructs a Processor.
func New(st store.Store, decoder *chaindata.Decoder, log *zap.Logger) *Processor {
	return &Processor{store: st, decoder: decoder, log: log, parallelism: MaxParallelTxs}
}

// ProcessBatch handles a set of TX hashes observed together, deduplicating
// off-chain CIDs within the batch before fetching them (spec §4.6 "A
// per-batch deduplication set skips the second occurrence of the same
// off-chain CID within one scan").
func (p *Processor) ProcessBatch(ctx context.Context, txHashes []string) error {
	var seenCIDs sync.Map // string -> struct{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)

	for _, hash := range txHashes {
		hash := hash
		g.Go(func() error {
			return p.processOne(gctx, hash, &seenCIDs)
		})
	}
	return g.Wait()
}

func (p *Processor) processOne(ctx context.Context, txHash string, seenCIDs *sync.Map) error {
	tx, ok := p.store.Messages().GetChainTx(txHash)
	if !ok {
		return fmt.Errorf("txprocessor: unknown chain tx %s", txHash)
	}

	if tx.Protocol == types.ProtocolOffChainSync {
		if cidStr, ok := tx.Content.(string); ok {
			if _, dup := seenCIDs.LoadOrStore(cidStr, struct{}{}); dup {
				return p.store.Messages().DeletePendingTx(txHash)
			}
		}
	}

	dicts, err := p.decoder.Decode(ctx, tx)
	if err != nil {
		if pe, ok := types.AsProcessingError(err); ok && !pe.Transient() {
			p.log.Warn("txprocessor: permanently undecodable chain tx",
				zap.String("hash", txHash), zap.Error(pe))
			return p.store.Messages().DeletePendingTx(txHash)
		}
		return fmt.Errorf("txprocessor: decode %s: %w", txHash, err)
	}

	for i, dict := range dicts {
		// Sub-millisecond nudge preserves intra-TX ordering (spec §4.6 step 2).
		msgTime := tx.Datetime.Add(time.Duration(i) * time.Millisecond / 1000)
		msg, err := messageFromDict(dict, tx, msgTime)
		if err != nil {
			p.log.Warn("txprocessor: invalid message dict in tx",
				zap.String("hash", txHash), zap.Int("index", i), zap.Error(err))
			continue
		}
		txHashCopy := tx.Hash
		pm := types.PendingMessage{
			Message:       *msg,
			CheckMessage:  false,
			Fetched:       msg.ItemType == types.ItemTypeInline,
			TxHash:        &txHashCopy,
			ReceptionTime: time.Now().UTC(),
		}
		if _, err := p.store.Messages().InsertPending(pm); err != nil {
			return fmt.Errorf("txprocessor: insert pending for %s: %w", txHash, err)
		}
	}

	return p.store.Messages().DeletePendingTx(txHash)
}

func messageFromDict(dict map[string]any, tx *types.ChainTx, t time.Time) (*types.Message, error) {
	itemHash, _ := dict["item_hash"].(string)
	msgType, _ := dict["type"].(string)
	sender, _ := dict["sender"].(string)
	if itemHash == "" || msgType == "" || sender == "" {
		return nil, fmt.Errorf("missing required field (item_hash/type/sender)")
	}

	itemType := types.ItemTypeInline
	if it, ok := dict["item_type"].(string); ok && it != "" {
		itemType = types.ItemType(it)
	}

	msg := &types.Message{
		ItemHash:  itemHash,
		Type:      types.MessageType(msgType),
		Chain:     tx.Chain,
		Sender:    sender,
		ItemType:  itemType,
		Time:      t,
		Channel:   stringField(dict, "channel"),
		Signature: stringField(dict, "signature"),
	}
	if content, ok := dict["content"].(map[string]any); ok {
		msg.Content = content
	}
	if itemType == types.ItemTypeInline {
		msg.ItemContent = stringField(dict, "item_content")
	}
	return msg, nil
}

func stringField(dict map[string]any, key string) string {
	s, _ := dict[key].(string)
	return s
}
