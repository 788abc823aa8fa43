package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/chains"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

type fakeVerifier struct{ err error }

func (v *fakeVerifier) Verify(msg *types.Message) error { return v.err }

func newTestFetcher(t *testing.T, verifyErr error) *Fetcher {
	t.Helper()
	st := store.New()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	content := contentstore.New(blobs, nil, nil, nil, nil)
	reg := chains.NewRegistry()
	reg.Register(types.ChainETH, &fakeVerifier{err: verifyErr})
	return NewFetcher(st, reg, content, FetchConfig{FetchTimeout: time.Second}, zap.NewNop(), nil)
}

func TestFetchOneMarksInlineAsAlreadyFetched(t *testing.T) {
	f := newTestFetcher(t, nil)
	pm := types.PendingMessage{
		ID: 1,
		Message: types.Message{
			ItemHash: "h1", Chain: types.ChainETH, ItemType: types.ItemTypeInline,
		},
	}
	id, err := f.store.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	f.fetchOne(context.Background(), pm)

	got, ok := f.store.Messages().GetPending(id)
	require.True(t, ok)
	assert.True(t, got.Fetched)
	assert.Zero(t, got.Retries)
}

func TestFetchOneRejectsOnPermanentSignatureFailure(t *testing.T) {
	f := newTestFetcher(t, types.NewPermanent(types.KindInvalidSignature, "bad signature"))
	pm := types.PendingMessage{
		Message: types.Message{ItemHash: "h1", Chain: types.ChainETH, ItemType: types.ItemTypeInline},
	}
	id, err := f.store.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	f.fetchOne(context.Background(), pm)

	_, ok := f.store.Messages().GetPending(id)
	assert.False(t, ok, "rejected pending row should be deleted")

	status, ok := f.store.Messages().GetStatus("h1")
	require.True(t, ok)
	assert.Equal(t, types.StatusRejected, status.Status)
}

func TestFetchOneSchedulesRetryOnTransientSignatureFailure(t *testing.T) {
	f := newTestFetcher(t, types.NewTransient(types.KindContentCurrentlyUnavailable, "network blip"))
	pm := types.PendingMessage{
		Message: types.Message{ItemHash: "h1", Chain: types.ChainETH, ItemType: types.ItemTypeInline},
	}
	id, err := f.store.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	f.fetchOne(context.Background(), pm)

	got, ok := f.store.Messages().GetPending(id)
	require.True(t, ok, "transient failure should leave the pending row in place")
	assert.Equal(t, 1, got.Retries)
	assert.True(t, got.NextAttempt.After(time.Now().UTC()))
}

func TestFetchOneResolvesNonInlineContentFromContentStore(t *testing.T) {
	st := store.New()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	content := contentstore.New(blobs, nil, nil, nil, nil)

	payload, err := json.Marshal(map[string]any{"foo": "bar"})
	require.NoError(t, err)
	hash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	require.NoError(t, blobs.Write(hash, payload))

	reg := chains.NewRegistry()
	reg.Register(types.ChainETH, &fakeVerifier{})
	f := NewFetcher(st, reg, content, FetchConfig{FetchTimeout: time.Second}, zap.NewNop(), nil)

	pm := types.PendingMessage{
		Message: types.Message{ItemHash: hash, Chain: types.ChainETH, ItemType: types.ItemTypeStorage},
	}
	id, err := st.Messages().InsertPending(pm)
	require.NoError(t, err)
	pm.ID = id

	f.fetchOne(context.Background(), pm)

	got, ok := st.Messages().GetPending(id)
	require.True(t, ok)
	assert.True(t, got.Fetched)
	assert.Equal(t, "bar", got.Content["foo"])
	assert.Equal(t, len(payload), got.Size)
}

func TestBackoffIsCappedAtFiveMinutes(t *testing.T) {
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 5*time.Minute, backoff(1000))
}
