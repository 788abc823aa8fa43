package txpublisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

func TestPublishUpsertsAndAnnouncesEachTx(t *testing.T) {
	st := store.New()
	mq := broker.New()
	p := New(st, mq, zap.NewNop())

	ch, err := mq.Bind(broker.ExchangePendingTx, "test-consumer", "#")
	require.NoError(t, err)

	tx := types.ChainTx{
		Hash:      "tx-1",
		Chain:     types.ChainETH,
		Publisher: "0xpublisher",
		Datetime:  time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), []types.ChainTx{tx}))

	stored, ok := st.Messages().GetChainTx("tx-1")
	require.True(t, ok)
	assert.Equal(t, tx.Hash, stored.Hash)

	pending := st.Messages().ListPendingTx()
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-1", pending[0])

	select {
	case env := <-ch:
		var got types.ChainTx
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, "tx-1", got.Hash)
	default:
		t.Fatal("expected an envelope to be published to the pending_tx exchange")
	}
}

func TestPublishHandlesMultipleTxsIndependently(t *testing.T) {
	st := store.New()
	mq := broker.New()
	p := New(st, mq, zap.NewNop())

	txs := []types.ChainTx{
		{Hash: "tx-1", Chain: types.ChainETH},
		{Hash: "tx-2", Chain: types.ChainETH},
	}
	require.NoError(t, p.Publish(context.Background(), txs))

	pending := st.Messages().ListPendingTx()
	assert.Len(t, pending, 2)
}
