// Package store defines the transactional table store the core ingestion
// pipeline and derived-state engine run against. spec.md §1 treats the
// relational database product as an external, out-of-scope collaborator
// ("a transactional store with row-level locking, upserts, and a JSON column
// type"); this package is the Go interface that collaborator must satisfy,
// plus the in-memory reference implementation used by this repo and its
// tests, grounded on the teacher's KVStore/CurrentStore singleton pattern
// (core/cross_chain.go) generalized from a flat KV store to per-table state
// with row locks.
package store

import (
	"context"
	"sync"
)

// Store is the abstraction every pipeline stage and content handler talks
// to. A production implementation backs it with Postgres (row-level locking
// via SELECT ... FOR UPDATE, upserts via ON CONFLICT, JSON columns via
// jsonb) — out of scope per spec.md §1. Tx returns a Tx bound to a single
// transaction; callers must call Commit or Rollback exactly once.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Messages() MessageTable
	Files() FileTable
	Aggregates() AggregateTable
	Posts() PostTable
	VMs() VMTable
	Costs() CostTable
	Credits() CreditTable
	RowLocker
}

// Tx is a transaction handle. All *Table accessors reachable from the Store
// that produced a Tx observe and mutate the same uncommitted state until
// Commit or Rollback is called.
type Tx interface {
	Commit() error
	Rollback() error
}

// RowLocker lets a caller take an exclusive lock on a logical row for the
// duration of fn, mirroring `SELECT ... FOR UPDATE` (spec §4.7 AGGREGATE,
// §9 "Concurrency control for aggregates"). It is part of Store rather than
// a per-table method because the same lock key space (e.g. "aggregate:key:owner")
// is shared across tables that need to coordinate (Aggregate + AggregateElement).
type RowLocker interface {
	WithRowLock(ctx context.Context, key string, fn func() error) error
}

// memStore is the in-memory reference Store. Every table shares one striped
// lock set keyed by logical row id, following the teacher's single
// sync.RWMutex-guarded map idiom (core/cross_chain.go InMemoryStore) scaled
// out to per-key locks so unrelated rows don't serialize against each other.
type memStore struct {
	mu sync.Mutex // guards rowLocks map creation only

	rowLocks map[string]*sync.Mutex

	messages   *messageTable
	files      *fileTable
	aggregates *aggregateTable
	posts      *postTable
	vms        *vmTable
	costs      *costTable
	credits    *creditTable
}

// New constructs the in-memory reference Store.
func New() Store {
	s := &memStore{rowLocks: make(map[string]*sync.Mutex)}
	s.messages = newMessageTable(s)
	s.files = newFileTable(s)
	s.aggregates = newAggregateTable(s)
	s.posts = newPostTable(s)
	s.vms = newVMTable(s)
	s.costs = newCostTable(s)
	s.credits = newCreditTable(s)
	return s
}

func (s *memStore) Messages() MessageTable     { return s.messages }
func (s *memStore) Files() FileTable           { return s.files }
func (s *memStore) Aggregates() AggregateTable { return s.aggregates }
func (s *memStore) Posts() PostTable           { return s.posts }
func (s *memStore) VMs() VMTable               { return s.vms }
func (s *memStore) Costs() CostTable           { return s.costs }
func (s *memStore) Credits() CreditTable       { return s.credits }

// memTx is a no-op transaction boundary: the in-memory tables mutate
// immediately under their own locks, so Begin/Commit/Rollback exist to give
// callers the same control-flow shape a real Postgres-backed Store would
// require (spec §4.1 "in one transaction", §5 "transaction boundaries").
// A failed operation inside the callback still needs Rollback called by the
// caller so future Store implementations that do buffer writes behave the
// same way.
type memTx struct{ s *memStore }

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{s: s}, nil
}

func (t *memTx) Commit() error   { return nil }
func (t *memTx) Rollback() error { return nil }

func (s *memStore) WithRowLock(ctx context.Context, key string, fn func() error) error {
	s.mu.Lock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
