// Package types holds the wire and persisted data model shared by every
// pipeline stage: messages, pending work items, chain transactions, and the
// projections derived from them (spec §3).
package types

import "time"

// MessageType enumerates the six message kinds the network recognizes.
type MessageType string

const (
	MessageTypeAggregate MessageType = "AGGREGATE"
	MessageTypePost      MessageType = "POST"
	MessageTypeForget    MessageType = "FORGET"
	MessageTypeStore     MessageType = "STORE"
	MessageTypeInstance  MessageType = "INSTANCE"
	MessageTypeProgram   MessageType = "PROGRAM"
)

// Chain identifies a supported chain family / network.
type Chain string

const (
	ChainETH       Chain = "ETH"
	ChainBSC       Chain = "BSC"
	ChainAVAX      Chain = "AVAX"
	ChainTezos     Chain = "TEZOS"
	ChainSolana    Chain = "SOL"
	ChainSubstrate Chain = "DOT"
	ChainCosmos    Chain = "CSDK"
	ChainNuls      Chain = "NULS"
	ChainNuls2     Chain = "NULS2"
)

// ItemType distinguishes where a message body is sourced from.
type ItemType string

const (
	ItemTypeInline  ItemType = "inline"
	ItemTypeStorage ItemType = "storage"
	ItemTypeIPFS    ItemType = "ipfs"
)

// MaxInlineContentSize is the hard cap on `item_content` for inline messages
// (spec §3, §8 boundary behavior).
const MaxInlineContentSize = 200 * 1000

// MessageStatusValue enumerates the MessageStatus lifecycle (spec §3).
type MessageStatusValue string

const (
	StatusPending   MessageStatusValue = "PENDING"
	StatusProcessed MessageStatusValue = "PROCESSED"
	StatusRejected  MessageStatusValue = "REJECTED"
	StatusForgotten MessageStatusValue = "FORGOTTEN"
)

// Message is the canonical, immutable identity of a network message (spec §3).
type Message struct {
	ItemHash    string
	Type        MessageType
	Chain       Chain
	Sender      string
	Signature   string
	ItemType    ItemType
	ItemContent string // only populated for ItemTypeInline
	Content     map[string]any
	Time        time.Time
	Channel     string
	Size        int
}

// MessageStatus tracks the lifecycle of a message hash (spec §3).
type MessageStatus struct {
	ItemHash      string
	Status        MessageStatusValue
	ReceptionTime time.Time
	ErrorCode     int
	Details       map[string]any
}

// PendingMessage is the mutable retry record a message rides through the
// fetch/process stages of the pipeline (spec §3).
type PendingMessage struct {
	ID   int64
	Message

	Retries       int
	NextAttempt   time.Time
	CheckMessage  bool
	Fetched       bool
	TxHash        *string
	ReceptionTime time.Time
}

// RejectedMessage is the tombstone row for a permanently rejected message
// (spec §4.1, §7).
type RejectedMessage struct {
	ItemHash      *string
	Reason        string
	ErrorCode     int
	Details       map[string]any
	Traceback     string
	ReceptionTime time.Time
}

// ForgottenMessage is the tombstone row a FORGET leaves behind in place of the
// original Message row (spec §4.7).
type ForgottenMessage struct {
	ItemHash     string
	Type         MessageType
	Chain        Chain
	Sender       string
	Channel      string
	Content      map[string]any
	ForgottenBy  []string
	ForgottenAt  time.Time
}

// Protocol enumerates the three on-chain sync payload variants (spec §4.4).
type Protocol string

const (
	ProtocolOnChainSync     Protocol = "ON_CHAIN_SYNC"
	ProtocolOffChainSync    Protocol = "OFF_CHAIN_SYNC"
	ProtocolSmartContract   Protocol = "SMART_CONTRACT"
)

// ChainTx is an observed on-chain transaction carrying a sync payload (spec §3).
type ChainTx struct {
	Hash             string
	Chain            Chain
	Height           uint64
	Datetime         time.Time
	Publisher        string
	Protocol         Protocol
	ProtocolVersion  int
	Content          any // JSON blob, CID string, or smart-contract event payload
}

// PendingTx marks a ChainTx whose messages have not yet been materialized
// (spec §3).
type PendingTx struct {
	TxHash string
}

// ChainSyncStatus is the resumable cursor for one (chain, sync_type) pair
// (spec §3, §4.5).
type ChainSyncStatus struct {
	Chain     Chain
	SyncType  string
	Height    uint64
	LastUpdate time.Time
}

// MessageConfirmation links a message to a confirming transaction (spec §3).
type MessageConfirmation struct {
	ItemHash string
	TxHash   string
}
