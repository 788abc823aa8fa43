package handlers

import (
	"context"
	"fmt"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

const postTypeAmend = "amend"

const defaultBalancesPostType = "balances"

func balancesPostTypeOrDefault(configured string) string {
	if configured == "" {
		return defaultBalancesPostType
	}
	return configured
}

// postHandler implements the POST content type (spec §4.7).
type postHandler struct {
	store    store.Store
	balances BalanceReader
	// balancesPostType is the configured POST "type" value that, combined
	// with an authorized sender, is accepted without storing a regular post
	// row. No Balance rows are written from such posts.
	balancesPostType string
}

func (h *postHandler) CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error {
	amends, _ := msg.Content["amends"].(string)
	postType, _ := msg.Content["type"].(string)
	if postType != postTypeAmend || amends == "" {
		return nil
	}
	target, ok := h.store.Posts().Get(amends)
	if !ok {
		return types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("amend target %s not found", amends))
	}
	if target.Type == postTypeAmend {
		return types.NewPermanent(types.KindInvalidContent, "cannot amend an amend")
	}
	return nil
}

func (h *postHandler) CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error {
	amends, _ := msg.Content["amends"].(string)
	postType, _ := msg.Content["type"].(string)
	if postType != postTypeAmend || amends == "" {
		return nil
	}
	target, ok := h.store.Posts().Get(amends)
	if !ok {
		return nil
	}
	if target.Owner != msg.Sender {
		return types.NewPermanent(types.KindPermissionDenied, "amend target not owned by sender")
	}
	return nil
}

func (h *postHandler) Process(ctx context.Context, tx store.Tx, msg *types.Message) error {
	postType, _ := msg.Content["type"].(string)
	if postType == balancesPostTypeOrDefault(h.balancesPostType) && h.balances != nil && h.balances.IsAuthorizedBalanceSender(msg.Sender) {
		// Balance-snapshot posts from authorized senders keep no Post row;
		// their content is not written to the Balance table either.
		return nil
	}

	ref, _ := msg.Content["ref"].(string)
	amends, _ := msg.Content["amends"].(string)
	post := types.Post{
		ItemHash:         msg.ItemHash,
		Owner:            msg.Sender,
		Type:             postType,
		Ref:              ref,
		Amends:           amends,
		Channel:          msg.Channel,
		Content:          contentMap(msg.Content["content"]),
		CreationDatetime: msg.Time,
	}
	if err := h.store.Posts().Insert(post); err != nil {
		return err
	}
	if postType == postTypeAmend && amends != "" {
		return h.store.Posts().SetLatestAmend(amends, msg.ItemHash)
	}
	return nil
}

// Forget deletes the Post row; if it was an amend, the target's
// latest_amend is refreshed from the remaining amend chain (spec §4.7 POST
// forget).
func (h *postHandler) Forget(ctx context.Context, tx store.Tx, target *types.Message, forgetHash string) error {
	p, ok := h.store.Posts().Get(target.ItemHash)
	if !ok {
		return nil
	}
	if err := h.store.Posts().Delete(target.ItemHash); err != nil {
		return err
	}
	if p.Type != postTypeAmend || p.Amends == "" {
		return nil
	}
	remaining := h.store.Posts().AmendsOf(p.Amends)
	latest := ""
	var latestTime = p.CreationDatetime
	first := true
	for _, r := range remaining {
		if first || r.CreationDatetime.After(latestTime) {
			latest = r.ItemHash
			latestTime = r.CreationDatetime
			first = false
		}
	}
	return h.store.Posts().SetLatestAmend(p.Amends, latest)
}
