package files

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

func newTestManager(t *testing.T, gracePeriod time.Duration) (*Manager, *blobstore.Store, store.Store) {
	t.Helper()
	st := store.New()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	content := contentstore.New(blobs, nil, nil, nil, nil)
	return New(st, blobs, content, nil, gracePeriod, zap.NewNop(), nil), blobs, st
}

func TestPinRegistersStoredFileOnFirstPin(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))

	require.NoError(t, m.Pin(context.Background(), types.FilePin{
		FileHash: "h1", Type: types.FilePinTypeMessage, ItemHash: "h1",
	}))

	sf, ok := st.Files().GetStoredFile("h1")
	require.True(t, ok)
	assert.Equal(t, int64(5), sf.Size)
	assert.Equal(t, 1, st.Files().PinCount("h1"))
}

func TestUnpinMessageInstallsGracePinWhenLastPinRemoved(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))
	require.NoError(t, m.Pin(context.Background(), types.FilePin{
		FileHash: "h1", Type: types.FilePinTypeMessage, ItemHash: "h1",
	}))

	require.NoError(t, m.UnpinMessage(context.Background(), "h1", ""))

	pins := st.Files().PinsForFile("h1")
	require.Len(t, pins, 1)
	assert.Equal(t, types.FilePinTypeGracePeriod, pins[0].Type)
	assert.True(t, pins[0].DeleteBy.After(time.Now().UTC()))
}

func TestUnpinMessageLeavesOtherPinsUntouched(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))
	require.NoError(t, m.Pin(context.Background(), types.FilePin{FileHash: "h1", Type: types.FilePinTypeMessage, ItemHash: "h1"}))
	_, err := st.Files().InsertPin(types.FilePin{FileHash: "h1", Type: types.FilePinTypeContent, Owner: "someone"})
	require.NoError(t, err)

	require.NoError(t, m.UnpinMessage(context.Background(), "h1", ""))

	assert.Equal(t, 1, st.Files().PinCount("h1"), "the CONTENT pin should survive; no grace pin should be added")
}

func TestRunGCDeletesExpiredGracePinsAndOrphanedBlobs(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))
	require.NoError(t, st.Files().UpsertStoredFile(types.StoredFile{Hash: "h1", Size: 5, Type: types.StoredFileTypeFile}))
	_, err := st.Files().UpsertPinUnique(types.FilePin{
		FileHash: "h1", Type: types.FilePinTypeGracePeriod, DeleteBy: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, m.RunGC(context.Background()))

	assert.Zero(t, st.Files().PinCount("h1"))
	_, ok := st.Files().GetStoredFile("h1")
	assert.False(t, ok, "stored file with zero remaining pins should be collected")
	assert.False(t, blobs.Has("h1"), "orphaned blob should be deleted from local storage")
}

func TestRunGCKeepsFilesWithRemainingPins(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))
	require.NoError(t, st.Files().UpsertStoredFile(types.StoredFile{Hash: "h1", Size: 5, Type: types.StoredFileTypeFile}))
	_, err := st.Files().InsertPin(types.FilePin{FileHash: "h1", Type: types.FilePinTypeContent, Owner: "someone"})
	require.NoError(t, err)

	require.NoError(t, m.RunGC(context.Background()))

	_, ok := st.Files().GetStoredFile("h1")
	assert.True(t, ok)
	assert.True(t, blobs.Has("h1"))
}

func TestRunGCDoesNotTouchUnexpiredGracePins(t *testing.T) {
	m, blobs, st := newTestManager(t, time.Hour)
	require.NoError(t, blobs.Write("h1", []byte("hello")))
	require.NoError(t, st.Files().UpsertStoredFile(types.StoredFile{Hash: "h1", Size: 5, Type: types.StoredFileTypeFile}))
	_, err := st.Files().UpsertPinUnique(types.FilePin{
		FileHash: "h1", Type: types.FilePinTypeGracePeriod, DeleteBy: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, m.RunGC(context.Background()))

	assert.Equal(t, 1, st.Files().PinCount("h1"))
}
