package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// inlineHash returns the sha256 hex digest Admit requires item_hash to match
// for an inline message carrying this exact content.
func inlineHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestAdmitInlineMessageIsAlreadyFetched(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	content := `{"foo":"bar"}`
	hash, err := a.Admit(context.Background(), map[string]any{
		"item_hash":    inlineHash(content),
		"type":         "post",
		"sender":       "0xabc",
		"chain":        "eth",
		"item_type":    "inline",
		"item_content": content,
	})
	require.NoError(t, err)
	assert.Equal(t, inlineHash(content), hash)

	pending := st.Messages().ListPendingByHash(hash)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Fetched)
	assert.Equal(t, "bar", pending[0].Content["foo"])

	status, ok := st.Messages().GetStatus(hash)
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, status.Status)
}

func TestAdmitRejectsInlineContentNotMatchingItemHash(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	_, err := a.Admit(context.Background(), map[string]any{
		"item_hash":    "deadbeef",
		"type":         "post",
		"sender":       "0xabc",
		"chain":        "eth",
		"item_type":    "inline",
		"item_content": `{"foo":"bar"}`,
	})
	require.Error(t, err)

	rejected, ok := st.Messages().GetRejected("deadbeef")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "sha256")
}

func TestAdmitRejectsMessageTooFarInThePast(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	tooOld := time.Now().UTC().Add(-24*time.Hour - time.Second)
	_, err := a.Admit(context.Background(), map[string]any{
		"item_hash": "deadbeef",
		"type":      "post",
		"sender":    "0xabc",
		"chain":     "eth",
		"time":      float64(tooOld.Unix()),
	})
	require.Error(t, err)

	rejected, ok := st.Messages().GetRejected("deadbeef")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "past")
}

func TestAdmitRejectsMessageTooFarInTheFuture(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	tooFar := time.Now().UTC().Add(5*time.Minute + time.Second)
	_, err := a.Admit(context.Background(), map[string]any{
		"item_hash": "deadbeef",
		"type":      "post",
		"sender":    "0xabc",
		"chain":     "eth",
		"time":      float64(tooFar.Unix()),
	})
	require.Error(t, err)

	rejected, ok := st.Messages().GetRejected("deadbeef")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "future")
}

func TestAdmitRejectsMissingItemHash(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	_, err := a.Admit(context.Background(), map[string]any{
		"type":   "post",
		"sender": "0xabc",
		"chain":  "eth",
	})
	require.Error(t, err)

	rejected, ok := st.Messages().GetRejected("")
	assert.False(t, ok, "a rejection with no item_hash should not be keyed under an empty string")
	_ = rejected
}

func TestAdmitRejectsOversizedInlineContent(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	big := make([]byte, types.MaxInlineContentSize+1)
	for i := range big {
		big[i] = 'a'
	}

	_, err := a.Admit(context.Background(), map[string]any{
		"item_hash":    "deadbeef",
		"type":         "post",
		"sender":       "0xabc",
		"chain":        "eth",
		"item_type":    "inline",
		"item_content": string(big),
	})
	require.Error(t, err)

	rejected, ok := st.Messages().GetRejected("deadbeef")
	require.True(t, ok)
	assert.Contains(t, rejected.Reason, "exceeds")
}

func TestAdmitInfersItemTypeFromHashShape(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	sha256Hash := ""
	for i := 0; i < 64; i++ {
		sha256Hash += "a"
	}

	hash, err := a.Admit(context.Background(), map[string]any{
		"item_hash": sha256Hash,
		"type":      "store",
		"sender":    "0xabc",
		"chain":     "eth",
	})
	require.NoError(t, err)

	pending := st.Messages().ListPendingByHash(hash)
	require.Len(t, pending, 1)
	assert.Equal(t, types.ItemTypeStorage, pending[0].ItemType)
	assert.False(t, pending[0].Fetched, "non-inline items are not fetched at admit time")
}

func TestAdmitPublishesFetchAnnouncement(t *testing.T) {
	st := store.New()
	mq := broker.New()
	a := NewAdmitter(st, mq, zap.NewNop(), nil)

	ch, err := mq.Bind(broker.ExchangeMessageProcessing, "test-consumer", "fetch.#")
	require.NoError(t, err)

	_, err = a.Admit(context.Background(), map[string]any{
		"item_hash": "Qmsomecid",
		"type":      "store",
		"sender":    "0xabc",
		"chain":     "eth",
	})
	require.NoError(t, err)

	select {
	case env := <-ch:
		assert.Equal(t, "Qmsomecid", string(env.Payload))
	default:
		t.Fatal("expected a fetch announcement to be published")
	}
}
