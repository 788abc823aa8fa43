package store

import (
	"sort"
	"sync"

	"github.com/ccnode/ccnode/internal/types"
)

// AggregateTable covers AggregateElement and its merged Aggregate projection
// (spec §3, §4.7).
type AggregateTable interface {
	InsertElement(e types.AggregateElement) error
	DeleteElement(itemHash string) (*types.AggregateElement, error)
	ElementsFor(key, owner string) []types.AggregateElement

	GetAggregate(key, owner string) (*types.Aggregate, bool)
	PutAggregate(a types.Aggregate) error
	MarkDirty(key, owner string) error
	ListDirty() []types.Aggregate
}

type aggKey struct{ key, owner string }

type aggregateTable struct {
	s *memStore

	mu sync.RWMutex

	elements   map[string]types.AggregateElement // item_hash -> element
	byKeyOwner map[aggKey]map[string]bool        // (key,owner) -> set(item_hash)
	merged     map[aggKey]types.Aggregate
}

func newAggregateTable(s *memStore) *aggregateTable {
	return &aggregateTable{
		s:          s,
		elements:   make(map[string]types.AggregateElement),
		byKeyOwner: make(map[aggKey]map[string]bool),
		merged:     make(map[aggKey]types.Aggregate),
	}
}

func (t *aggregateTable) InsertElement(e types.AggregateElement) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elements[e.ItemHash] = e
	k := aggKey{e.Key, e.Owner}
	set, ok := t.byKeyOwner[k]
	if !ok {
		set = make(map[string]bool)
		t.byKeyOwner[k] = set
	}
	set[e.ItemHash] = true
	return nil
}

func (t *aggregateTable) DeleteElement(itemHash string) (*types.AggregateElement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.elements[itemHash]
	if !ok {
		return nil, nil
	}
	delete(t.elements, itemHash)
	k := aggKey{e.Key, e.Owner}
	if set, ok := t.byKeyOwner[k]; ok {
		delete(set, itemHash)
	}
	return &e, nil
}

func (t *aggregateTable) ElementsFor(key, owner string) []types.AggregateElement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.AggregateElement
	for hash := range t.byKeyOwner[aggKey{key, owner}] {
		out = append(out, t.elements[hash])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationDatetime.Equal(out[j].CreationDatetime) {
			return out[i].ItemHash < out[j].ItemHash
		}
		return out[i].CreationDatetime.Before(out[j].CreationDatetime)
	})
	return out
}

func (t *aggregateTable) GetAggregate(key, owner string) (*types.Aggregate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.merged[aggKey{key, owner}]
	if !ok {
		return nil, false
	}
	return &a, true
}

func (t *aggregateTable) PutAggregate(a types.Aggregate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.merged[aggKey{a.Key, a.Owner}] = a
	return nil
}

func (t *aggregateTable) MarkDirty(key, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := aggKey{key, owner}
	a := t.merged[k]
	a.Key, a.Owner = key, owner
	a.Dirty = true
	t.merged[k] = a
	return nil
}

func (t *aggregateTable) ListDirty() []types.Aggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.Aggregate
	for _, a := range t.merged {
		if a.Dirty {
			out = append(out, a)
		}
	}
	return out
}
