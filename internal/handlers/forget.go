package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// forgetHandler implements the FORGET content type (spec §4.7): rewind the
// projection a targeted message owns, then tombstone it. It dispatches back
// into the owning Registry since the rewind logic lives with each content
// type's own Forgetter implementation.
type forgetHandler struct {
	store    store.Store
	registry *Registry
}

// CheckDependencies verifies every targeted hash currently names a
// PROCESSED message owned by the sender (spec §4.7 FORGET: "every hashes[i]
// must resolve to a currently PROCESSED message owned by the same sender").
func (h *forgetHandler) CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error {
	for _, hash := range h.targets(msg) {
		status, ok := h.store.Messages().GetStatus(hash)
		if !ok || status.Status != types.StatusProcessed {
			return types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("forget target %s is not a processed message", hash))
		}
		target, ok := h.store.Messages().GetMessage(hash)
		if !ok {
			return types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("forget target %s not found", hash))
		}
		if target.Sender != msg.Sender {
			return types.NewPermanent(types.KindPermissionDenied, fmt.Sprintf("forget target %s not owned by sender", hash))
		}
	}
	return nil
}

// CheckPermissions refuses to forget a FORGET message itself (spec §4.7
// FORGET: "a FORGET message may not target another FORGET message").
func (h *forgetHandler) CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error {
	for _, hash := range h.targets(msg) {
		target, ok := h.store.Messages().GetMessage(hash)
		if ok && target.Type == types.MessageTypeForget {
			return types.NewPermanent(types.KindPermissionDenied, "cannot forget a FORGET message")
		}
	}
	return nil
}

// Process rewinds each target's projection via its own Forgetter, then
// replaces the Message row with a ForgottenMessage tombstone (spec §4.7
// FORGET process).
func (h *forgetHandler) Process(ctx context.Context, tx store.Tx, msg *types.Message) error {
	for _, hash := range h.targets(msg) {
		target, ok := h.store.Messages().GetMessage(hash)
		if !ok {
			continue
		}

		if existing, ok := h.store.Messages().GetForgotten(hash); ok {
			_ = existing
			if err := h.store.Messages().AppendForgottenBy(hash, msg.ItemHash); err != nil {
				return err
			}
			continue
		}

		handler, ok := h.registry.Dispatch(target.Type)
		if ok {
			if forgetter, ok := handler.(Forgetter); ok {
				if err := forgetter.Forget(ctx, tx, target, msg.ItemHash); err != nil {
					return err
				}
			}
		}

		if err := h.store.Messages().InsertForgotten(types.ForgottenMessage{
			ItemHash:    target.ItemHash,
			Type:        target.Type,
			Chain:       target.Chain,
			Sender:      target.Sender,
			Channel:     target.Channel,
			Content:     target.Content,
			ForgottenBy: []string{msg.ItemHash},
			ForgottenAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := h.store.Messages().SetStatus(types.MessageStatus{
			ItemHash:      target.ItemHash,
			Status:        types.StatusForgotten,
			ReceptionTime: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := h.store.Messages().DeleteMessage(target.ItemHash); err != nil {
			return err
		}
	}
	return nil
}

func (h *forgetHandler) targets(msg *types.Message) []string {
	raw, _ := msg.Content["hashes"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
