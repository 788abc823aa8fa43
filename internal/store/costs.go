package store

import (
	"sync"

	"github.com/ccnode/ccnode/internal/types"
)

// CostTable covers AccountCosts (spec §3, §4.9).
type CostTable interface {
	// Upsert enforces the `(owner, item_hash, type, name)` uniqueness
	// spec §3 requires.
	Upsert(c types.AccountCosts) (int64, error)
	ForMessage(itemHash string) []types.AccountCosts
	ForOwner(owner string) []types.AccountCosts
	DeleteForMessage(itemHash string) error
}

type costKey struct {
	owner    string
	itemHash string
	typ      types.CostType
	name     string
}

type costTable struct {
	s *memStore

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]types.AccountCosts
	byKey  map[costKey]int64
}

func newCostTable(s *memStore) *costTable {
	return &costTable{
		s:     s,
		byID:  make(map[int64]types.AccountCosts),
		byKey: make(map[costKey]int64),
	}
}

func (t *costTable) Upsert(c types.AccountCosts) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := costKey{c.Owner, c.ItemHash, c.Type, c.Name}
	if id, ok := t.byKey[k]; ok {
		c.ID = id
		t.byID[id] = c
		return id, nil
	}
	t.nextID++
	c.ID = t.nextID
	t.byID[c.ID] = c
	t.byKey[k] = c.ID
	return c.ID, nil
}

func (t *costTable) ForMessage(itemHash string) []types.AccountCosts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.AccountCosts
	for _, c := range t.byID {
		if c.ItemHash == itemHash {
			out = append(out, c)
		}
	}
	return out
}

func (t *costTable) ForOwner(owner string) []types.AccountCosts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.AccountCosts
	for _, c := range t.byID {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out
}

func (t *costTable) DeleteForMessage(itemHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, c := range t.byID {
		if c.ItemHash == itemHash {
			delete(t.byID, id)
			delete(t.byKey, costKey{c.Owner, c.ItemHash, c.Type, c.Name})
		}
	}
	return nil
}
