// Package txpublisher persists observed on-chain transactions and announces
// them on the pending-TX exchange (spec.md §2 component table, §6 MQ
// topology: `pending_tx.<chain>.<publisher>.<tx_hash>`). Not separately
// detailed in spec.md §4, but required to connect internal/indexer's output
// to internal/txprocessor's input. Grounded on the teacher's
// Broadcast/SetBroadcaster hook (core/network.go), generalized into the
// internal/broker abstraction.
package txpublisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// Publisher persists ChainTx rows and fans them out as pending work.
type Publisher struct {
	store store.Store
	mq    broker.Broker
	log   *zap.Logger
}

// New constructs a Publisher. It declares the pending_tx exchange if it
// doesn't already exist.
func New(st store.Store, mq broker.Broker, log *zap.Logger) *Publisher {
	mq.DeclareExchange(broker.ExchangePendingTx, broker.Durable)
	return &Publisher{store: st, mq: mq, log: log}
}

// Publish upserts each transaction, enqueues a PendingTx row, and announces
// it on the pending_tx exchange (spec §4.11 / §2 component table).
func (p *Publisher) Publish(ctx context.Context, txs []types.ChainTx) error {
	for _, tx := range txs {
		if err := p.store.Messages().UpsertChainTx(tx); err != nil {
			return fmt.Errorf("txpublisher: upsert chain tx %s: %w", tx.Hash, err)
		}
		if err := p.store.Messages().InsertPendingTx(tx.Hash); err != nil {
			return fmt.Errorf("txpublisher: insert pending tx %s: %w", tx.Hash, err)
		}

		payload, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("txpublisher: marshal tx %s: %w", tx.Hash, err)
		}
		routingKey := broker.PendingTxRoutingKey(string(tx.Chain), tx.Publisher, tx.Hash)
		p.mq.Publish(broker.ExchangePendingTx, broker.Envelope{RoutingKey: routingKey, Payload: payload})

		p.log.Info("txpublisher: announced pending tx",
			zap.String("chain", string(tx.Chain)),
			zap.String("hash", tx.Hash),
			zap.String("publisher", tx.Publisher),
		)
	}
	return nil
}
