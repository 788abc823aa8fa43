package handlers

import (
	"context"
	"fmt"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// cumulativeSizeThreshold gates the fetch_related_content special case:
// small files referenced by an IPFS directory listing are downloaded
// eagerly rather than left to lazy resolution (spec §4.7 STORE).
const cumulativeSizeThreshold = 1 * 1024 * 1024

// cidV0Length is the fixed length of a base58 CIDv0 string, used to
// recognize directory-entry hashes worth eagerly fetching.
const cidV0Length = 46

// storeHandler implements the STORE content type (spec §4.7): pin a
// referenced file or directory, maintain the owner's FileTag, and respect
// the one-level-deep revision constraint on STORE-with-ref.
type storeHandler struct {
	store   store.Store
	content ContentResolver
	files   FileDependencies
}

func (h *storeHandler) fileHash(msg *types.Message) string {
	if ref, ok := msg.Content["ref"].(string); ok && ref != "" {
		return ref
	}
	return msg.ItemHash
}

// CheckDependencies ensures content.ref, when present, names an
// already-pinned STORE that is not itself a revision (spec §4.7 STORE:
// "revisions only one level deep").
func (h *storeHandler) CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error {
	ref, _ := msg.Content["ref"].(string)
	if ref == "" {
		return h.fetchRelatedContent(ctx, msg)
	}
	if _, ok := h.store.Files().GetStoredFile(ref); !ok {
		return types.NewPermanent(types.KindStoreRefNotFound, fmt.Sprintf("store ref %s not found", ref))
	}
	tag, ok := h.store.Files().GetTag(ref)
	if ok && tag.FileHash != ref {
		return types.NewPermanent(types.KindStoreCannotUpdateWithRef, "cannot amend a STORE message that itself carries a ref")
	}
	return h.fetchRelatedContent(ctx, msg)
}

// fetchRelatedContent makes sure the referenced content is locally
// available: small files behind an IPFS directory listing (CIDv0, under the
// cumulative size threshold) are downloaded eagerly. Everything else is
// neither downloaded nor pinned here (spec §4.7 STORE fetch_related_content).
func (h *storeHandler) fetchRelatedContent(ctx context.Context, msg *types.Message) error {
	fileType, _ := msg.Content["type"].(string)
	hash := h.fileHash(msg)
	if fileType != "file" {
		return nil
	}
	size := int64(0)
	if sz, ok := msg.Content["size"].(float64); ok {
		size = int64(sz)
	}
	if size >= cumulativeSizeThreshold || len(hash) != cidV0Length {
		return nil
	}
	ok, err := h.files.Resolve(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewPermanent(types.KindFileUnavailable, fmt.Sprintf("referenced file %s is currently unavailable", hash))
	}
	return nil
}

// CheckPermissions enforces that only the FileTag's existing owner may
// retag it (spec §4.7 STORE).
func (h *storeHandler) CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error {
	ref, _ := msg.Content["ref"].(string)
	tagKey := ref
	if tagKey == "" {
		tagKey = msg.ItemHash
	}
	tag, ok := h.store.Files().GetTag(tagKey)
	if ok && tag.Owner != msg.Sender {
		return types.NewPermanent(types.KindPermissionDenied, "file tag owned by a different sender")
	}
	return nil
}

// Process installs a MESSAGE pin for the referenced file and upserts the
// owner's FileTag, last-write-wins on LastUpdated (spec §4.7 STORE process).
func (h *storeHandler) Process(ctx context.Context, tx store.Tx, msg *types.Message) error {
	ref, _ := msg.Content["ref"].(string)
	hash := h.fileHash(msg)

	if err := h.files.Pin(ctx, types.FilePin{
		FileHash: hash,
		Type:     types.FilePinTypeMessage,
		Owner:    msg.Sender,
		ItemHash: msg.ItemHash,
		Ref:      ref,
	}); err != nil {
		return err
	}

	tagKey := ref
	if tagKey == "" {
		tagKey = msg.ItemHash
	}
	return h.files.UpsertTag(ctx, types.FileTag{
		Tag:         tagKey,
		Owner:       msg.Sender,
		FileHash:    hash,
		LastUpdated: msg.Time,
	})
}

// Forget releases the MESSAGE pin this STORE installed. The underlying
// FileDependencies implementation installs a GRACE_PERIOD pin if that was
// the last reference, rather than deleting the StoredFile immediately
// (spec §4.7 STORE forget, §4.8).
func (h *storeHandler) Forget(ctx context.Context, tx store.Tx, target *types.Message, forgetHash string) error {
	ref, _ := target.Content["ref"].(string)
	return h.files.UnpinMessage(ctx, target.ItemHash, ref)
}
