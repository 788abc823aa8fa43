package handlers

import (
	"context"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// aggregateHandler implements the AGGREGATE content type (spec §4.7):
// insert an AggregateElement, deep-merge it onto the (key, owner)
// projection.
type aggregateHandler struct {
	store store.Store
}

func (h *aggregateHandler) CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error {
	return nil
}

func (h *aggregateHandler) CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error {
	return nil
}

func (h *aggregateHandler) Process(ctx context.Context, tx store.Tx, msg *types.Message) error {
	key, _ := msg.Content["key"].(string)
	if key == "" {
		key = msg.ItemHash
	}

	elem := types.AggregateElement{
		ItemHash:         msg.ItemHash,
		Key:              key,
		Owner:            msg.Sender,
		Content:          contentMap(msg.Content["content"]),
		CreationDatetime: msg.Time,
	}

	return h.store.WithRowLock(ctx, aggregateLockKey(key, msg.Sender), func() error {
		if err := h.store.Aggregates().InsertElement(elem); err != nil {
			return err
		}
		return h.refresh(key, msg.Sender)
	})
}

// Forget removes the element and marks the projection dirty for a
// background rebuild (spec §4.7 AGGREGATE forget).
func (h *aggregateHandler) Forget(ctx context.Context, tx store.Tx, target *types.Message, forgetHash string) error {
	key, _ := target.Content["key"].(string)
	if key == "" {
		key = target.ItemHash
	}
	return h.store.WithRowLock(ctx, aggregateLockKey(key, target.Sender), func() error {
		if _, err := h.store.Aggregates().DeleteElement(target.ItemHash); err != nil {
			return err
		}
		return h.store.Aggregates().MarkDirty(key, target.Sender)
	})
}

// refresh rebuilds the merged Aggregate row by deep-merging every remaining
// element in creation_datetime order (spec §4.7, §8 aggregate-merge
// scenarios).
func (h *aggregateHandler) refresh(key, owner string) error {
	elements := h.store.Aggregates().ElementsFor(key, owner)
	if len(elements) == 0 {
		return h.store.Aggregates().PutAggregate(types.Aggregate{Key: key, Owner: owner, Dirty: false})
	}

	merged := map[string]any{}
	var last types.AggregateElement
	for _, e := range elements {
		deepMerge(merged, e.Content)
		last = e
	}

	return h.store.Aggregates().PutAggregate(types.Aggregate{
		Key:              key,
		Owner:            owner,
		Content:          merged,
		CreationDatetime: last.CreationDatetime,
		LastRevisionHash: last.ItemHash,
		Dirty:            false,
	})
}

// deepMerge overlays src onto dst leaf-by-leaf: nested maps recurse, any
// other value (including slices) overrides the destination outright (spec
// §4.7 "deep-merging (leaf-level override)").
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			dstMap, ok := dst[k].(map[string]any)
			if !ok {
				dstMap = map[string]any{}
				dst[k] = dstMap
			}
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func aggregateLockKey(key, owner string) string {
	return "aggregate:" + key + ":" + owner
}

func contentMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}
