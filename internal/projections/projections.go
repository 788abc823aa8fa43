// Package projections exposes read APIs over the Aggregate/Post/VmVersion
// projections content handlers maintain (spec §4.10). Grounded on the
// teacher's read-side accessor functions in core/cross_chain.go
// (Bridge/Proof lookup-by-filter helpers sitting beside the write-side
// handlers), generalized to this domain's three projection kinds plus the
// tx-time sort mode spec §4.10 singles out as the one non-trivial operation.
package projections

import (
	"sort"
	"time"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// Reader serves the projection read APIs.
type Reader struct {
	store store.Store
}

// New constructs a Reader.
func New(st store.Store) *Reader {
	return &Reader{store: st}
}

// Aggregate returns the merged (key, owner) projection.
func (r *Reader) Aggregate(key, owner string) (*types.Aggregate, bool) {
	return r.store.Aggregates().GetAggregate(key, owner)
}

// PostFilter narrows ListPosts by owner, type, and/or channel; zero-value
// fields are unfiltered.
type PostFilter struct {
	Owner   string
	Type    string
	Channel string
	Limit   int
	Offset  int
}

// ListPosts returns Post rows matching filter, newest creation_datetime
// first, with pagination.
func (r *Reader) ListPosts(filter PostFilter) []types.Post {
	var out []types.Post
	for _, p := range r.store.Posts().ListAll() {
		if filter.Owner != "" && p.Owner != filter.Owner {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.Channel != "" && p.Channel != filter.Channel {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationDatetime.After(out[j].CreationDatetime)
	})
	return paginate(out, filter.Offset, filter.Limit)
}

// AmendChain returns every amend of originalHash plus the current
// latest_amend pointer.
func (r *Reader) AmendChain(originalHash string) (latest string, amends []types.Post) {
	original, ok := r.store.Posts().Get(originalHash)
	if !ok {
		return "", nil
	}
	return original.LatestAmend, r.store.Posts().AmendsOf(originalHash)
}

// VmVersion returns the current amend-chain head for a VM.
func (r *Reader) VmVersion(vmHash string) (*types.VmVersion, bool) {
	return r.store.VMs().GetVersion(vmHash)
}

// SortByTxTime orders item hashes by the earliest confirming transaction's
// datetime: a left-join to message_confirmations with `min(ChainTx.datetime)`,
// nulls first for descending, nulls last for ascending (spec §4.10).
func (r *Reader) SortByTxTime(hashes []string, descending bool) []string {
	type entry struct {
		hash    string
		txTime  time.Time
		hasTime bool
	}
	entries := make([]entry, 0, len(hashes))
	for _, h := range hashes {
		e := entry{hash: h}
		for _, txHash := range r.store.Messages().Confirmations(h) {
			tx, ok := r.store.Messages().GetChainTx(txHash)
			if !ok {
				continue
			}
			if !e.hasTime || tx.Datetime.Before(e.txTime) {
				e.txTime = tx.Datetime
				e.hasTime = true
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.hasTime != b.hasTime {
			if descending {
				return !a.hasTime // nulls first
			}
			return a.hasTime // nulls last
		}
		if !a.hasTime {
			return false
		}
		if descending {
			return a.txTime.After(b.txTime)
		}
		return a.txTime.Before(b.txTime)
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.hash
	}
	return out
}

func paginate(posts []types.Post, offset, limit int) []types.Post {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(posts) {
		return nil
	}
	posts = posts[offset:]
	if limit > 0 && limit < len(posts) {
		posts = posts[:limit]
	}
	return posts
}
