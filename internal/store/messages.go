package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ccnode/ccnode/internal/types"
)

// MessageTable is the Message/MessageStatus/PendingMessage/ChainTx
// aggregate of tables spec §3 describes; grouped behind one interface
// because the pipeline almost always needs to touch more than one of them
// atomically (e.g. §4.1: insert MessageStatus + PendingMessage together).
type MessageTable interface {
	// Message (processed/live) rows.
	GetMessage(hash string) (*types.Message, bool)
	// UpsertMessage inserts or updates, keeping the earliest `time` on
	// conflict (spec §4.1 "on conflict, keep the minimum time").
	UpsertMessage(msg types.Message) error
	DeleteMessage(hash string) error
	CountMessages() int

	// MessageStatus.
	GetStatus(hash string) (*types.MessageStatus, bool)
	SetStatus(status types.MessageStatus) error

	// PendingMessage — multiple rows may share item_hash (confirmations).
	InsertPending(pm types.PendingMessage) (int64, error)
	GetPending(id int64) (*types.PendingMessage, bool)
	UpdatePending(pm types.PendingMessage) error
	DeletePending(id int64) error
	// SelectFetchable returns up to limit PendingMessage rows with
	// fetched=false and next_attempt<=now, ordered by next_attempt asc,
	// excluding ids already claimed via MarkInFlight (spec §4.1 Fetch).
	SelectFetchable(now time.Time, limit int) []types.PendingMessage
	MarkInFlight(ids ...int64)
	ClearInFlight(ids ...int64)
	// ListPendingByHash returns every PendingMessage row sharing item_hash,
	// used to coalesce confirmations (spec §4.1 Process).
	ListPendingByHash(hash string) []types.PendingMessage
	// CountPending reports the current PendingMessage row count, used to
	// drive the pending-queue-depth gauge (spec §6 metrics).
	CountPending() int

	// Confirmations.
	AddConfirmation(itemHash, txHash string) error
	Confirmations(itemHash string) []string

	// ChainTx / PendingTx.
	UpsertChainTx(tx types.ChainTx) error
	GetChainTx(hash string) (*types.ChainTx, bool)
	InsertPendingTx(hash string) error
	DeletePendingTx(hash string) error
	ListPendingTx() []string

	// ChainSyncStatus.
	GetSyncStatus(chain types.Chain, syncType string) (*types.ChainSyncStatus, bool)
	SetSyncStatus(s types.ChainSyncStatus) error

	// Rejected / Forgotten tombstones.
	InsertRejected(r types.RejectedMessage) error
	GetRejected(hash string) (*types.RejectedMessage, bool)
	InsertForgotten(f types.ForgottenMessage) error
	GetForgotten(hash string) (*types.ForgottenMessage, bool)
	AppendForgottenBy(hash, forgetHash string) error
}

type messageTable struct {
	s *memStore

	mu sync.RWMutex

	messages map[string]types.Message
	statuses map[string]types.MessageStatus

	nextPendingID int64
	pending       map[int64]types.PendingMessage
	inFlight      map[int64]bool

	confirmations map[string]map[string]bool // item_hash -> set(tx_hash)

	chainTxs   map[string]types.ChainTx
	pendingTxs map[string]bool

	syncStatus map[string]types.ChainSyncStatus // "chain/sync_type"

	rejected  map[string]types.RejectedMessage
	forgotten map[string]types.ForgottenMessage
}

func newMessageTable(s *memStore) *messageTable {
	return &messageTable{
		s:             s,
		messages:      make(map[string]types.Message),
		statuses:      make(map[string]types.MessageStatus),
		pending:       make(map[int64]types.PendingMessage),
		inFlight:      make(map[int64]bool),
		confirmations: make(map[string]map[string]bool),
		chainTxs:      make(map[string]types.ChainTx),
		pendingTxs:    make(map[string]bool),
		syncStatus:    make(map[string]types.ChainSyncStatus),
		rejected:      make(map[string]types.RejectedMessage),
		forgotten:     make(map[string]types.ForgottenMessage),
	}
}

func (t *messageTable) GetMessage(hash string) (*types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.messages[hash]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (t *messageTable) UpsertMessage(msg types.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.messages[msg.ItemHash]; ok && existing.Time.Before(msg.Time) {
		msg.Time = existing.Time
	}
	t.messages[msg.ItemHash] = msg
	return nil
}

func (t *messageTable) DeleteMessage(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.messages, hash)
	delete(t.confirmations, hash)
	return nil
}

func (t *messageTable) CountMessages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *messageTable) GetStatus(hash string) (*types.MessageStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[hash]
	if !ok {
		return nil, false
	}
	return &s, true
}

func (t *messageTable) SetStatus(status types.MessageStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[status.ItemHash] = status
	return nil
}

func (t *messageTable) InsertPending(pm types.PendingMessage) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPendingID++
	pm.ID = t.nextPendingID
	t.pending[pm.ID] = pm
	return pm.ID, nil
}

func (t *messageTable) GetPending(id int64) (*types.PendingMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pm, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	return &pm, true
}

func (t *messageTable) UpdatePending(pm types.PendingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[pm.ID]; !ok {
		return nil
	}
	t.pending[pm.ID] = pm
	return nil
}

func (t *messageTable) DeletePending(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	delete(t.inFlight, id)
	return nil
}

func (t *messageTable) SelectFetchable(now time.Time, limit int) []types.PendingMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []types.PendingMessage
	for id, pm := range t.pending {
		if pm.Fetched || t.inFlight[id] {
			continue
		}
		if pm.NextAttempt.After(now) {
			continue
		}
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *messageTable) MarkInFlight(ids ...int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.inFlight[id] = true
	}
}

func (t *messageTable) ClearInFlight(ids ...int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.inFlight, id)
	}
}

func (t *messageTable) ListPendingByHash(hash string) []types.PendingMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.PendingMessage
	for _, pm := range t.pending {
		if pm.ItemHash == hash {
			out = append(out, pm)
		}
	}
	return out
}

func (t *messageTable) CountPending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

func (t *messageTable) AddConfirmation(itemHash, txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.confirmations[itemHash]
	if !ok {
		set = make(map[string]bool)
		t.confirmations[itemHash] = set
	}
	set[txHash] = true
	return nil
}

func (t *messageTable) Confirmations(itemHash string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for tx := range t.confirmations[itemHash] {
		out = append(out, tx)
	}
	return out
}

func (t *messageTable) UpsertChainTx(tx types.ChainTx) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chainTxs[tx.Hash] = tx
	return nil
}

func (t *messageTable) GetChainTx(hash string) (*types.ChainTx, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.chainTxs[hash]
	if !ok {
		return nil, false
	}
	return &tx, true
}

func (t *messageTable) InsertPendingTx(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingTxs[hash] = true
	return nil
}

func (t *messageTable) DeletePendingTx(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingTxs, hash)
	return nil
}

func (t *messageTable) ListPendingTx() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for h := range t.pendingTxs {
		out = append(out, h)
	}
	return out
}

func syncKey(chain types.Chain, syncType string) string {
	return string(chain) + "/" + syncType
}

func (t *messageTable) GetSyncStatus(chain types.Chain, syncType string) (*types.ChainSyncStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.syncStatus[syncKey(chain, syncType)]
	if !ok {
		return nil, false
	}
	return &s, true
}

func (t *messageTable) SetSyncStatus(s types.ChainSyncStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncStatus[syncKey(s.Chain, s.SyncType)] = s
	return nil
}

func (t *messageTable) InsertRejected(r types.RejectedMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.ItemHash != nil {
		t.rejected[*r.ItemHash] = r
	}
	return nil
}

func (t *messageTable) GetRejected(hash string) (*types.RejectedMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rejected[hash]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (t *messageTable) InsertForgotten(f types.ForgottenMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forgotten[f.ItemHash] = f
	return nil
}

func (t *messageTable) GetForgotten(hash string) (*types.ForgottenMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.forgotten[hash]
	if !ok {
		return nil, false
	}
	return &f, true
}

func (t *messageTable) AppendForgottenBy(hash, forgetHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.forgotten[hash]
	if !ok {
		return nil
	}
	f.ForgottenBy = append(f.ForgottenBy, forgetHash)
	t.forgotten[hash] = f
	return nil
}
