package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ccnode/ccnode/internal/types"
)

// CreditTable covers CreditHistory and the CreditBalance cache (spec §3,
// §4.9).
type CreditTable interface {
	Insert(h types.CreditHistory) error
	HistoryFor(address string) []types.CreditHistory
	// MaxLastUpdate returns the most recent LastUpdate among an address's
	// history rows, used by the fast-path cache check (spec §4.9 step 1).
	MaxLastUpdate(address string) (time.Time, bool)
	// ExpirationsInRange returns true if any credit for address has an
	// ExpirationDate in (after, through] — the cache-invalidation trigger
	// (spec §4.9 step 1, §8 scenario 6).
	ExpirationsInRange(address string, after, through time.Time) bool

	GetBalance(address string) (*types.CreditBalance, bool)
	PutBalance(b types.CreditBalance) error
}

type creditTable struct {
	s *memStore

	mu       sync.RWMutex
	history  map[string][]types.CreditHistory // address -> rows
	balances map[string]types.CreditBalance
}

func newCreditTable(s *memStore) *creditTable {
	return &creditTable{
		history:  make(map[string][]types.CreditHistory),
		balances: make(map[string]types.CreditBalance),
		s:        s,
	}
}

func (t *creditTable) Insert(h types.CreditHistory) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[h.Address] = append(t.history[h.Address], h)
	return nil
}

func (t *creditTable) HistoryFor(address string) []types.CreditHistory {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := append([]types.CreditHistory(nil), t.history[address]...)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].MessageTimestamp.Before(rows[j].MessageTimestamp)
	})
	return rows
}

func (t *creditTable) MaxLastUpdate(address string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var max time.Time
	found := false
	for _, h := range t.history[address] {
		if !found || h.LastUpdate.After(max) {
			max = h.LastUpdate
			found = true
		}
	}
	return max, found
}

func (t *creditTable) ExpirationsInRange(address string, after, through time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.history[address] {
		if h.ExpirationDate == nil {
			continue
		}
		exp := *h.ExpirationDate
		if exp.After(after) && !exp.After(through) {
			return true
		}
	}
	return false
}

func (t *creditTable) GetBalance(address string) (*types.CreditBalance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.balances[address]
	if !ok {
		return nil, false
	}
	return &b, true
}

func (t *creditTable) PutBalance(b types.CreditBalance) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[b.Address] = b
	return nil
}
