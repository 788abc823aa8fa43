package store

import (
	"sync"

	"github.com/ccnode/ccnode/internal/types"
)

// PostTable covers Post rows and their amend chains (spec §3, §4.7).
type PostTable interface {
	Insert(p types.Post) error
	Get(itemHash string) (*types.Post, bool)
	Delete(itemHash string) error
	SetLatestAmend(originalHash, latestAmend string) error
	AmendsOf(originalHash string) []types.Post
	ListAll() []types.Post
}

type postTable struct {
	s *memStore

	mu    sync.RWMutex
	posts map[string]types.Post
}

func newPostTable(s *memStore) *postTable {
	return &postTable{posts: make(map[string]types.Post), s: s}
}

func (t *postTable) Insert(p types.Post) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.posts[p.ItemHash] = p
	return nil
}

func (t *postTable) Get(itemHash string) (*types.Post, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.posts[itemHash]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (t *postTable) Delete(itemHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.posts, itemHash)
	return nil
}

func (t *postTable) SetLatestAmend(originalHash, latestAmend string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.posts[originalHash]
	if !ok {
		return nil
	}
	p.LatestAmend = latestAmend
	t.posts[originalHash] = p
	return nil
}

func (t *postTable) AmendsOf(originalHash string) []types.Post {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.Post
	for _, p := range t.posts {
		if p.Amends == originalHash {
			out = append(out, p)
		}
	}
	return out
}

func (t *postTable) ListAll() []types.Post {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Post, 0, len(t.posts))
	for _, p := range t.posts {
		out = append(out, p)
	}
	return out
}
