// Package files implements the file pin/tag/GC subsystem (spec §4.8):
// tagged-union FilePin rows keyed by Type, FileTag resolution with
// keep-newer semantics, and a periodic GC job that removes StoredFiles with
// zero remaining pins. Grounded on the teacher's disk-backed cache
// (core/storage.go diskLRU eviction loop), generalized from size-bounded LRU
// eviction to pin-reference-counted GC.
package files

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// DefaultGracePeriod is the GRACE_PERIOD pin duration a FORGET of the last
// pin falls back to (spec §4.7 STORE forget, §4.8).
const DefaultGracePeriod = 24 * time.Hour

// Manager implements pin/tag lifecycle and garbage collection.
type Manager struct {
	store   store.Store
	blobs   *blobstore.Store
	content *contentstore.ContentStore
	ipfs    contentstore.IPFSClient
	log     *zap.Logger
	metrics *metrics.Metrics

	gracePeriod time.Duration
}

// New constructs a Manager. m may be nil, in which case GC counters are not
// recorded.
func New(st store.Store, blobs *blobstore.Store, content *contentstore.ContentStore, ipfs contentstore.IPFSClient, gracePeriod time.Duration, log *zap.Logger, m *metrics.Metrics) *Manager {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Manager{store: st, blobs: blobs, content: content, ipfs: ipfs, gracePeriod: gracePeriod, log: log, metrics: m}
}

// Resolve ensures itemHash is present in local storage, fetching it through
// the content store if necessary (spec §4.7 STORE fetch_related_content).
func (m *Manager) Resolve(ctx context.Context, itemHash string) (bool, error) {
	if m.blobs.Has(itemHash) {
		return true, nil
	}
	itemType := types.ItemTypeIPFS
	if len(itemHash) == 64 {
		itemType = types.ItemTypeStorage
	}
	_, _, err := m.content.GetHashContent(ctx, itemHash, itemType, 30*time.Second, true, true, true)
	if err != nil {
		if pe, ok := types.AsProcessingError(err); ok && !pe.Transient() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Pin inserts a pin row and records the backing StoredFile if it isn't
// already catalogued (spec §4.7 STORE process, §4.8).
func (m *Manager) Pin(ctx context.Context, pin types.FilePin) error {
	if _, ok := m.store.Files().GetStoredFile(pin.FileHash); !ok {
		size, err := m.blobs.Size(pin.FileHash)
		if err == nil {
			if err := m.store.Files().UpsertStoredFile(types.StoredFile{Hash: pin.FileHash, Size: size, Type: types.StoredFileTypeFile}); err != nil {
				return err
			}
		}
	}
	pin.Created = time.Now().UTC()
	switch pin.Type {
	case types.FilePinTypeMessage, types.FilePinTypeGracePeriod:
		_, err := m.store.Files().UpsertPinUnique(pin)
		return err
	default:
		_, err := m.store.Files().InsertPin(pin)
		return err
	}
}

// UpsertTag applies last-write-wins on LastUpdated (delegated straight to
// the store, spec §4.1 Ordering / §4.7 STORE process).
func (m *Manager) UpsertTag(ctx context.Context, tag types.FileTag) error {
	return m.store.Files().SetTag(tag)
}

// UnpinMessage removes the MESSAGE pin for itemHash/ref; if it was the last
// remaining pin, a GRACE_PERIOD pin is installed instead of deleting
// immediately (spec §4.7 STORE forget).
func (m *Manager) UnpinMessage(ctx context.Context, itemHash, ref string) error {
	fileHash := ref
	if fileHash == "" {
		fileHash = itemHash
	}
	for _, p := range m.store.Files().PinsForFile(fileHash) {
		if p.Type != types.FilePinTypeMessage || p.ItemHash != itemHash {
			continue
		}
		if err := m.store.Files().DeletePin(p.ID); err != nil {
			return err
		}
	}
	if m.store.Files().PinCount(fileHash) > 0 {
		return nil
	}
	_, err := m.store.Files().UpsertPinUnique(types.FilePin{
		FileHash: fileHash,
		Type:     types.FilePinTypeGracePeriod,
		DeleteBy: time.Now().UTC().Add(m.gracePeriod),
	})
	return err
}

// RunGC performs one garbage-collection pass (spec §4.8):
//  1. delete expired grace pins
//  2. delete StoredFiles with zero remaining pins (from local store, and
//     from IPFS if applicable)
//  3. delete the StoredFile row
func (m *Manager) RunGC(ctx context.Context) error {
	now := time.Now().UTC()
	expired := m.store.Files().ListExpiredGracePins(now.UnixNano())
	for _, p := range expired {
		if err := m.store.Files().DeletePin(p.ID); err != nil {
			return fmt.Errorf("files: delete expired grace pin %d: %w", p.ID, err)
		}
		if m.metrics != nil {
			m.metrics.GCPinsDeleted.Inc()
		}
	}

	for _, f := range m.store.Files().ListStoredFiles() {
		if m.store.Files().PinCount(f.Hash) > 0 {
			continue
		}
		if err := m.blobs.Delete(f.Hash); err != nil {
			return fmt.Errorf("files: delete blob %s: %w", f.Hash, err)
		}
		if f.Type == types.StoredFileTypeDirectory && m.ipfs != nil {
			_ = m.ipfs.Pin(ctx, f.Hash) // best-effort unpin hook point; errors ignored (spec: "ignore not pinned")
		}
		if err := m.store.Files().DeleteStoredFile(f.Hash); err != nil {
			return fmt.Errorf("files: delete stored file row %s: %w", f.Hash, err)
		}
		if m.metrics != nil {
			m.metrics.GCFilesDeleted.Inc()
		}
		m.log.Info("files: garbage collected", zap.String("hash", f.Hash))
	}
	return nil
}

// RunForever runs RunGC on interval until ctx is cancelled (spec §4.8
// "Garbage collection runs periodically").
func (m *Manager) RunForever(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.RunGC(ctx); err != nil {
				m.log.Error("files: gc pass failed", zap.Error(err))
			}
		}
	}
}
