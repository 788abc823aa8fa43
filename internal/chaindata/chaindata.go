// Package chaindata implements the chain-data codec (spec §4.4): decoding
// the three on-chain sync protocols a ChainTx's content column may carry,
// and encoding the node's own outbound sync publications (spec §4.4 last
// paragraph, §4.12). Grounded on the chain-family split internal/chains
// establishes, generalized from per-chain signature verification to
// per-protocol payload decoding.
package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/types"
)

// defaultFetchTimeout bounds the content-store round trip OFF_CHAIN_SYNC
// decoding makes while resolving a CID (spec §4.4).
const defaultFetchTimeout = 30 * time.Second

// Envelope is the shared `{protocol, version, content}` wrapper every
// on-chain sync payload uses (spec §4.4).
type Envelope struct {
	Protocol types.Protocol  `json:"protocol"`
	Version  int             `json:"version"`
	Content  json.RawMessage `json:"content"`
}

// onChainContent is ON_CHAIN_SYNC's inline payload shape.
type onChainContent struct {
	Messages []map[string]any `json:"messages"`
}

// smartContractEvent is SMART_CONTRACT's per-chain event payload (spec §4.4:
// "Tezos-style {address, timestamp, type, content}; EVM message event").
type smartContractEvent struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Content   any    `json:"content"`
}

const storeIPFSEventType = "STORE_IPFS"

// Decoder turns one ChainTx's content into the pending messages it carries
// (spec §4.4's decoder column).
type Decoder struct {
	content *contentstore.ContentStore
}

// New builds a Decoder. content is used to resolve OFF_CHAIN_SYNC's CID
// indirection (spec §4.4 "fetch via content store, pin on first sight").
func New(content *contentstore.ContentStore) *Decoder {
	return &Decoder{content: content}
}

// Decode dispatches by (tx.Protocol, tx.ProtocolVersion) and returns the
// message dicts embedded in (or pointed at by) the transaction's content
// (spec §4.4).
func (d *Decoder) Decode(ctx context.Context, tx *types.ChainTx) ([]map[string]any, error) {
	if tx.ProtocolVersion != 1 {
		return nil, types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("unsupported protocol version %d for %s", tx.ProtocolVersion, tx.Protocol))
	}

	switch tx.Protocol {
	case types.ProtocolOnChainSync:
		return d.decodeOnChain(tx)
	case types.ProtocolOffChainSync:
		return d.decodeOffChain(ctx, tx)
	case types.ProtocolSmartContract:
		msg, err := d.decodeSmartContract(tx)
		if err != nil {
			return nil, err
		}
		return []map[string]any{msg}, nil
	default:
		return nil, types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("unknown protocol %q", tx.Protocol))
	}
}

func (d *Decoder) decodeOnChain(tx *types.ChainTx) ([]map[string]any, error) {
	raw, err := contentJSON(tx.Content)
	if err != nil {
		return nil, types.NewPermanent(types.KindInvalidContent, err.Error())
	}
	var payload onChainContent
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("on-chain sync: %v", err))
	}
	return payload.Messages, nil
}

func (d *Decoder) decodeOffChain(ctx context.Context, tx *types.ChainTx) ([]map[string]any, error) {
	cidStr, ok := tx.Content.(string)
	if !ok {
		return nil, types.NewPermanent(types.KindInvalidContent, "off-chain sync: content is not a CID string")
	}

	b, _, err := d.content.GetHashContent(ctx, cidStr, types.ItemTypeIPFS, defaultFetchTimeout, true, true, true)
	if err != nil {
		return nil, err
	}
	// Pin on first sight (spec §4.4).
	_ = d.content.PinHash(ctx, cidStr, defaultFetchTimeout)

	var payload onChainContent
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("off-chain sync: %v", err))
	}
	return payload.Messages, nil
}

func (d *Decoder) decodeSmartContract(tx *types.ChainTx) (map[string]any, error) {
	raw, err := contentJSON(tx.Content)
	if err != nil {
		return nil, types.NewPermanent(types.KindInvalidContent, err.Error())
	}
	var ev smartContractEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, types.NewPermanent(types.KindInvalidContent, fmt.Sprintf("smart contract event: %v", err))
	}

	msg := map[string]any{
		"sender":  ev.Address,
		"chain":   string(tx.Chain),
		"channel": "ON_CHAIN",
	}
	if ev.Type == storeIPFSEventType {
		msg["type"] = string(types.MessageTypeStore)
		msg["item_type"] = string(types.ItemTypeIPFS)
		msg["item_hash"] = fmt.Sprint(ev.Content)
		return msg, nil
	}
	msg["type"] = ev.Type
	msg["content"] = ev.Content
	return msg, nil
}

// EncodeOutboundSync serializes unconfirmed messages into an ON_CHAIN_SYNC
// envelope, pushes the resulting JSON to IPFS, and returns the
// OFF_CHAIN_SYNC envelope pointing at the CID (spec §4.4, §4.12).
func (d *Decoder) EncodeOutboundSync(ctx context.Context, messages []map[string]any) (*Envelope, error) {
	onChain := Envelope{
		Protocol: types.ProtocolOnChainSync,
		Version:  1,
	}
	content, err := json.Marshal(onChainContent{Messages: messages})
	if err != nil {
		return nil, err
	}
	onChain.Content = content

	blob, err := json.Marshal(onChain)
	if err != nil {
		return nil, err
	}
	cidStr, err := d.content.AddFile(ctx, blob, contentstore.EngineIPFS)
	if err != nil {
		return nil, fmt.Errorf("chaindata: publish to ipfs: %w", err)
	}

	cidJSON, err := json.Marshal(cidStr)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Protocol: types.ProtocolOffChainSync,
		Version:  1,
		Content:  cidJSON,
	}, nil
}

func contentJSON(content any) (json.RawMessage, error) {
	switch v := content.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case string:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
