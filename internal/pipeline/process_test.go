package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/handlers"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

func newTestProcessorForPipeline(t *testing.T) (*Processor, <-chan broker.Envelope, store.Store) {
	t.Helper()
	st := store.New()
	mq := broker.New()
	registry := handlers.NewRegistry(st, handlers.Dependencies{})
	resultCh, err := mq.Bind(broker.ExchangeMessageResult, "test-consumer", "#")
	require.NoError(t, err)
	p, ch, err := NewProcessor(st, mq, registry, ProcessConfig{}, zap.NewNop(), nil)
	require.NoError(t, err)
	_ = resultCh
	return p, ch, st
}

func TestProcessOneDispatchesAggregateHandler(t *testing.T) {
	p, _, st := newTestProcessorForPipeline(t)

	msg := types.Message{
		ItemHash: "agg-1",
		Type:     types.MessageTypeAggregate,
		Sender:   "0xowner",
		Chain:    types.ChainETH,
		ItemType: types.ItemTypeInline,
		Time:     time.Now().UTC(),
		Content: map[string]any{
			"key":     "mykey",
			"content": map[string]any{"foo": "bar"},
		},
	}
	pm := types.PendingMessage{Message: msg, Fetched: true}
	id, err := st.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	require.NoError(t, p.processOne(context.Background(), pm))

	_, ok := st.Messages().GetMessage("agg-1")
	assert.True(t, ok, "message should be upserted into the live Message table")

	agg, ok := st.Aggregates().GetAggregate("mykey", "0xowner")
	require.True(t, ok)
	assert.Equal(t, "bar", agg.Content["foo"])

	status, ok := st.Messages().GetStatus("agg-1")
	require.True(t, ok)
	assert.Equal(t, types.StatusProcessed, status.Status)

	_, pending := st.Messages().GetPending(id)
	assert.False(t, pending, "processed message should be cleared from PendingMessage")
}

func TestProcessOneRejectsUnknownMessageType(t *testing.T) {
	p, _, st := newTestProcessorForPipeline(t)

	msg := types.Message{
		ItemHash: "unk-1",
		Type:     types.MessageType("BOGUS"),
		Sender:   "0xowner",
		Chain:    types.ChainETH,
		Time:     time.Now().UTC(),
	}
	pm := types.PendingMessage{Message: msg, Fetched: true}
	id, err := st.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	err = p.processOne(context.Background(), pm)
	require.NoError(t, err, "rejectProcessed absorbs the error and returns nil")

	rejected, ok := st.Messages().GetRejected("unk-1")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "no handler")
}

func TestProcessOneConfirmsExistingMessageWithMatchingSignature(t *testing.T) {
	p, _, st := newTestProcessorForPipeline(t)

	existing := types.Message{
		ItemHash: "dup-1", Type: types.MessageTypeAggregate, Sender: "0xowner",
		Signature: "sig-a", Time: time.Now().UTC(),
	}
	require.NoError(t, st.Messages().UpsertMessage(existing))

	txHash := "tx-confirm-1"
	pm := types.PendingMessage{
		Message: types.Message{ItemHash: "dup-1", Signature: "sig-a", Sender: "0xowner"},
		Fetched: true,
		TxHash:  &txHash,
	}
	id, err := st.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	require.NoError(t, p.processOne(context.Background(), pm))

	confirmations := st.Messages().Confirmations("dup-1")
	assert.Contains(t, confirmations, txHash)

	_, pending := st.Messages().GetPending(id)
	assert.False(t, pending)
}

func TestProcessOneRejectsSignatureMismatchWithExistingMessage(t *testing.T) {
	p, _, st := newTestProcessorForPipeline(t)

	existing := types.Message{ItemHash: "dup-2", Signature: "sig-a", Time: time.Now().UTC()}
	require.NoError(t, st.Messages().UpsertMessage(existing))

	pm := types.PendingMessage{
		Message: types.Message{ItemHash: "dup-2", Signature: "sig-b"},
		Fetched: true,
	}
	id, err := st.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	require.NoError(t, p.processOne(context.Background(), pm))

	rejected, ok := st.Messages().GetRejected("dup-2")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "signature mismatch")
}
