package store

import (
	"sync"

	"github.com/ccnode/ccnode/internal/types"
)

// FileTable covers StoredFile, FilePin, and FileTag (spec §3, §4.8).
type FileTable interface {
	UpsertStoredFile(f types.StoredFile) error
	GetStoredFile(hash string) (*types.StoredFile, bool)
	DeleteStoredFile(hash string) error
	ListStoredFiles() []types.StoredFile

	InsertPin(p types.FilePin) (int64, error)
	// UpsertPinUnique enforces the `(item_hash, type)` uniqueness spec §3
	// requires, replacing any existing pin with the same key. The file hash
	// is part of the match, so pins without an item_hash (GRACE_PERIOD) are
	// unique per file.
	UpsertPinUnique(p types.FilePin) (int64, error)
	DeletePin(id int64) error
	DeletePinsByType(fileHash string, pinType types.FilePinType) (int, error)
	PinsForFile(fileHash string) []types.FilePin
	PinCount(fileHash string) int
	ListExpiredGracePins(nowUnixNano int64) []types.FilePin

	GetTag(tag string) (*types.FileTag, bool)
	SetTag(t types.FileTag) error
}

type fileTable struct {
	s *memStore

	mu sync.RWMutex

	files map[string]types.StoredFile

	nextPinID int64
	pins      map[int64]types.FilePin

	tags map[string]types.FileTag
}

func newFileTable(s *memStore) *fileTable {
	return &fileTable{
		s:     s,
		files: make(map[string]types.StoredFile),
		pins:  make(map[int64]types.FilePin),
		tags:  make(map[string]types.FileTag),
	}
}

func (t *fileTable) UpsertStoredFile(f types.StoredFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[f.Hash] = f
	return nil
}

func (t *fileTable) GetStoredFile(hash string) (*types.StoredFile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[hash]
	if !ok {
		return nil, false
	}
	return &f, true
}

func (t *fileTable) DeleteStoredFile(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, hash)
	return nil
}

func (t *fileTable) ListStoredFiles() []types.StoredFile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.StoredFile, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, f)
	}
	return out
}

func (t *fileTable) InsertPin(p types.FilePin) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPinID++
	p.ID = t.nextPinID
	t.pins[p.ID] = p
	return p.ID, nil
}

func (t *fileTable) UpsertPinUnique(p types.FilePin) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, existing := range t.pins {
		if existing.FileHash == p.FileHash && existing.ItemHash == p.ItemHash && existing.Type == p.Type {
			p.ID = id
			t.pins[id] = p
			return id, nil
		}
	}
	t.nextPinID++
	p.ID = t.nextPinID
	t.pins[p.ID] = p
	return p.ID, nil
}

func (t *fileTable) DeletePin(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pins, id)
	return nil
}

func (t *fileTable) DeletePinsByType(fileHash string, pinType types.FilePinType) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.pins {
		if p.FileHash == fileHash && p.Type == pinType {
			delete(t.pins, id)
			n++
		}
	}
	return n, nil
}

func (t *fileTable) PinsForFile(fileHash string) []types.FilePin {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.FilePin
	for _, p := range t.pins {
		if p.FileHash == fileHash {
			out = append(out, p)
		}
	}
	return out
}

func (t *fileTable) PinCount(fileHash string) int {
	return len(t.PinsForFile(fileHash))
}

func (t *fileTable) ListExpiredGracePins(nowUnixNano int64) []types.FilePin {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.FilePin
	for _, p := range t.pins {
		if p.Type == types.FilePinTypeGracePeriod && p.DeleteBy.UnixNano() < nowUnixNano {
			out = append(out, p)
		}
	}
	return out
}

func (t *fileTable) GetTag(tag string) (*types.FileTag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ft, ok := t.tags[tag]
	if !ok {
		return nil, false
	}
	return &ft, true
}

func (t *fileTable) SetTag(ft types.FileTag) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.tags[ft.Tag]; ok && existing.LastUpdated.After(ft.LastUpdated) {
		return nil // keep-newer semantics (spec §4.1 Ordering)
	}
	t.tags[ft.Tag] = ft
	return nil
}
