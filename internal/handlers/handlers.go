// Package handlers implements the per-message-type content handlers (spec
// §4.7): one file per message type, each satisfying the common Handler
// interface, dispatched from a table keyed by types.MessageType — the
// "polymorphic message/content types" design spec.md §9 calls out. Grounded
// on the teacher's per-subsystem file layout (one file per concern under
// core/), generalized to one file per message type here.
package handlers

import (
	"context"
	"time"

	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// Handler implements the three (four, with Forget) operations every
// content type needs during Process (spec §4.1 step 3, §4.7).
type Handler interface {
	// CheckDependencies verifies every reference the message content makes
	// (amend targets, volume refs, forget targets, ...) resolves.
	CheckDependencies(ctx context.Context, tx store.Tx, msg *types.Message) error
	// CheckPermissions verifies the sender is authorized for this specific
	// mutation (amend ownership, FileTag ownership, VM replace ownership).
	CheckPermissions(ctx context.Context, tx store.Tx, msg *types.Message) error
	// Process applies the message's effect to the relevant projection.
	Process(ctx context.Context, tx store.Tx, msg *types.Message) error
}

// Forgetter is implemented by handlers whose projection rows must be
// rewound when a FORGET message targets them (spec §4.7 FORGET, §4.1
// "A FORGET message is a first-class citizen that triggers projection
// rewinds").
type Forgetter interface {
	Forget(ctx context.Context, tx store.Tx, target *types.Message, forgetHash string) error
}

// Registry dispatches to the Handler registered for a types.MessageType.
type Registry struct {
	handlers map[types.MessageType]Handler
}

// NewRegistry builds the dispatch table covering every message type spec.md
// §3 names.
func NewRegistry(st store.Store, deps Dependencies) *Registry {
	vm := &vmHandler{store: st, costs: deps.CostEngine, files: deps.FileDeps}
	forget := &forgetHandler{store: st}
	r := &Registry{handlers: map[types.MessageType]Handler{
		types.MessageTypeAggregate: &aggregateHandler{store: st},
		types.MessageTypePost:      &postHandler{store: st, balances: deps.Balances, balancesPostType: balancesPostTypeOrDefault(deps.BalancesPostType)},
		types.MessageTypeStore:     &storeHandler{store: st, content: deps.Content, files: deps.FileDeps},
		types.MessageTypeForget:    forget,
		types.MessageTypeInstance:  vm,
		types.MessageTypeProgram:   vm,
	}}
	forget.registry = r
	return r
}

// Dependencies collects the cross-cutting collaborators handlers need, kept
// as narrow interfaces so internal/handlers doesn't import internal/cost or
// internal/files directly (it only needs the slices of behavior below);
// from internal/contentstore it uses only the Source type.
type Dependencies struct {
	CostEngine CostEngine
	FileDeps   FileDependencies
	Content    ContentResolver
	Balances   BalanceReader
	// BalancesPostType is the configured POST "type" value that, combined
	// with an authorized sender, is accepted without storing a regular post
	// row; the snapshot's balances are not written anywhere (spec §4.7
	// POST). Defaults to "balances" when left empty.
	BalancesPostType string
}

// CostEngine is internal/cost's public surface this package needs.
type CostEngine interface {
	MaterializeCosts(ctx context.Context, tx store.Tx, vm *types.VM, owner string) error
	// CheckHoldBalance enforces that balance(sender) covers
	// current_cost_for_sender + newCost before a hold-payment message is
	// admitted (spec §4.9 "Balance check").
	CheckHoldBalance(sender string, chain types.Chain, dapp string, newCost types.Decimal) error
	// EstimateHoldCost computes the held-cost newCost would be for vm,
	// ahead of CheckHoldBalance, without persisting AccountCosts rows.
	EstimateHoldCost(vm *types.VM, isProgram, persistent bool, rootfsSizeMiB uint64) types.Decimal
}

// FileDependencies is internal/files's public surface this package needs.
type FileDependencies interface {
	Resolve(ctx context.Context, itemHash string) (bool, error)
	Pin(ctx context.Context, pin types.FilePin) error
	UnpinMessage(ctx context.Context, itemHash, ref string) error
	UpsertTag(ctx context.Context, tag types.FileTag) error
}

// ContentResolver is internal/contentstore's public surface this package
// needs for STORE's fetch_related_content step.
type ContentResolver interface {
	GetHashContent(ctx context.Context, hash string, itemType types.ItemType, timeout time.Duration, useNetwork, useIPFS, storeValue bool) ([]byte, contentstore.Source, error)
}

// BalanceReader is used by POST's "balances" special-case snapshot update.
type BalanceReader interface {
	IsAuthorizedBalanceSender(sender string) bool
}

// Dispatch returns the Handler registered for msg.Type, or false if none.
func (r *Registry) Dispatch(t types.MessageType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
