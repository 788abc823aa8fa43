package txprocessor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/chaindata"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

type onChainMsg struct {
	Messages []map[string]any `json:"messages"`
}

func newTestProcessor(t *testing.T) (*Processor, store.Store) {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	content := contentstore.New(blobs, nil, nil, nil, nil)
	decoder := chaindata.New(content)
	st := store.New()
	return New(st, decoder, zap.NewNop()), st
}

func onChainSyncTx(hash string, messages []map[string]any) types.ChainTx {
	raw, _ := json.Marshal(onChainMsg{Messages: messages})
	return types.ChainTx{
		Hash:            hash,
		Chain:           types.ChainETH,
		Datetime:        time.Now().UTC(),
		Protocol:        types.ProtocolOnChainSync,
		ProtocolVersion: 1,
		Content:         json.RawMessage(raw),
	}
}

func TestProcessBatchInsertsPendingMessagesAndClearsPendingTx(t *testing.T) {
	p, st := newTestProcessor(t)

	tx := onChainSyncTx("tx-1", []map[string]any{
		{"item_hash": "m1", "type": "POST", "sender": "0xabc", "item_content": "{}"},
	})
	require.NoError(t, st.Messages().UpsertChainTx(tx))
	require.NoError(t, st.Messages().InsertPendingTx(tx.Hash))

	require.NoError(t, p.ProcessBatch(context.Background(), []string{tx.Hash}))

	pending := st.Messages().ListPendingByHash("m1")
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Fetched, "inline item_type should already count as fetched")

	assert.Empty(t, st.Messages().ListPendingTx(), "pending tx row should be cleared on success")
}

func TestProcessBatchReturnsErrorForUnknownChainTx(t *testing.T) {
	p, _ := newTestProcessor(t)
	err := p.ProcessBatch(context.Background(), []string{"does-not-exist"})
	require.Error(t, err)
}

func TestProcessBatchDeletesPendingTxOnPermanentDecodeError(t *testing.T) {
	p, st := newTestProcessor(t)

	tx := types.ChainTx{
		Hash:            "tx-bad",
		Chain:           types.ChainETH,
		Protocol:        types.ProtocolOnChainSync,
		ProtocolVersion: 99, // unsupported -> permanent error
		Content:         json.RawMessage(`{}`),
	}
	require.NoError(t, st.Messages().UpsertChainTx(tx))
	require.NoError(t, st.Messages().InsertPendingTx(tx.Hash))

	require.NoError(t, p.ProcessBatch(context.Background(), []string{tx.Hash}))
	assert.Empty(t, st.Messages().ListPendingTx(), "permanently undecodable tx should still clear its pending row")
}

func TestProcessBatchSkipsDuplicateOffChainCIDWithinBatch(t *testing.T) {
	p, st := newTestProcessor(t)

	cid := "Qmshared"
	tx1 := types.ChainTx{
		Hash: "tx-1", Chain: types.ChainETH,
		Protocol: types.ProtocolOffChainSync, ProtocolVersion: 1, Content: cid,
	}
	tx2 := types.ChainTx{
		Hash: "tx-2", Chain: types.ChainETH,
		Protocol: types.ProtocolOffChainSync, ProtocolVersion: 1, Content: cid,
	}
	require.NoError(t, st.Messages().UpsertChainTx(tx1))
	require.NoError(t, st.Messages().InsertPendingTx(tx1.Hash))
	require.NoError(t, st.Messages().UpsertChainTx(tx2))
	require.NoError(t, st.Messages().InsertPendingTx(tx2.Hash))

	// Neither the blob store nor an IPFS client can resolve this CID, so
	// whichever occurrence wins the dedup race fails with a transient
	// content-unavailable error; the other must short-circuit as a duplicate
	// without attempting to fetch at all.
	err := p.ProcessBatch(context.Background(), []string{tx1.Hash, tx2.Hash})
	require.Error(t, err, "the non-duplicate occurrence should still surface its fetch failure")

	pending := st.Messages().ListPendingTx()
	assert.Len(t, pending, 1, "exactly one of the two same-CID txs should remain pending after its fetch failure")
}

func TestProcessBatchSkipsMessageDictsMissingRequiredFields(t *testing.T) {
	p, st := newTestProcessor(t)

	tx := onChainSyncTx("tx-2", []map[string]any{
		{"type": "POST", "sender": "0xabc"}, // missing item_hash
		{"item_hash": "m2", "type": "POST", "sender": "0xdef", "item_content": "{}"},
	})
	require.NoError(t, st.Messages().UpsertChainTx(tx))
	require.NoError(t, st.Messages().InsertPendingTx(tx.Hash))

	require.NoError(t, p.ProcessBatch(context.Background(), []string{tx.Hash}))

	assert.Empty(t, st.Messages().ListPendingByHash("m1"))
	assert.Len(t, st.Messages().ListPendingByHash("m2"), 1)
}
