// Package pipeline implements the three-stage ingestion pipeline (spec
// §4.1): Admit parses and schema-checks an incoming message dict and queues
// it; Fetch resolves and verifies its content; Process runs it through the
// content handlers and commits the projection. Grounded on the teacher's
// HTTP-boundary-to-worker-pool shape (cmd/cli wiring into core/ handlers),
// generalized into the three named stages spec.md requires.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/broker"
	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// maxPastSkew and maxFutureSkew bound the accepted message `time` field
// (spec §3 invariant: a message more than 24h in the past or 5min in the
// future is rejected as invalid format).
const (
	maxPastSkew   = 24 * time.Hour
	maxFutureSkew = 5 * time.Minute
)

// Admitter implements the Admit stage (spec §4.1 step 1).
type Admitter struct {
	store   store.Store
	mq      broker.Broker
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewAdmitter constructs an Admitter and declares the exchanges it needs. m
// may be nil, in which case admission counters are not recorded.
func NewAdmitter(st store.Store, mq broker.Broker, log *zap.Logger, m *metrics.Metrics) *Admitter {
	mq.DeclareExchange(broker.ExchangeMessageProcessing, broker.Transient)
	return &Admitter{store: st, mq: mq, log: log, metrics: m}
}

// Admit parses and validates an incoming message dict, admits it into the
// PendingMessage table, and publishes a fetch announcement (spec §4.1 step
// 1). Returns the parsed item_hash on success.
func (a *Admitter) Admit(ctx context.Context, dict map[string]any) (string, error) {
	itemHash, _ := dict["item_hash"].(string)
	msg, err := parseMessage(dict)
	if err != nil {
		a.reject(itemHash, err)
		return "", err
	}

	if err := validateMessageTime(msg.Time); err != nil {
		a.reject(msg.ItemHash, err)
		return "", err
	}

	if msg.ItemType == types.ItemTypeInline {
		if err := validateInlineContent(msg.ItemContent); err != nil {
			a.reject(msg.ItemHash, err)
			return "", err
		}
		if err := validateInlineHash(msg.ItemHash, msg.ItemContent); err != nil {
			a.reject(msg.ItemHash, err)
			return "", err
		}
		var content map[string]any
		if jsonErr := json.Unmarshal([]byte(msg.ItemContent), &content); jsonErr != nil {
			pe := types.NewPermanent(types.KindInvalidMessageFormat, "item_content is not valid JSON")
			a.reject(msg.ItemHash, pe)
			return "", pe
		}
		msg.Content = content
	}

	fetched := msg.ItemType == types.ItemTypeInline

	if err := a.store.Messages().SetStatus(types.MessageStatus{
		ItemHash:      msg.ItemHash,
		Status:        types.StatusPending,
		ReceptionTime: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	pm := types.PendingMessage{
		Message:       *msg,
		Fetched:       fetched,
		ReceptionTime: time.Now().UTC(),
	}
	if _, err := a.store.Messages().InsertPending(pm); err != nil {
		return "", err
	}

	a.mq.Publish(broker.ExchangeMessageProcessing, broker.Envelope{
		RoutingKey: broker.FetchRoutingKey(msg.ItemHash),
		Payload:    []byte(msg.ItemHash),
	})
	if a.metrics != nil {
		a.metrics.MessagesAdmitted.Inc()
	}
	return msg.ItemHash, nil
}

// reject tombstones a message that failed schema validation (spec §4.1:
// "Messages failing schema validation are written to RejectedMessage ...
// no MessageStatus is created when item_hash is missing").
func (a *Admitter) reject(itemHash string, err error) {
	var hashPtr *string
	if itemHash != "" {
		hashPtr = &itemHash
	}
	code := 0
	if pe, ok := types.AsProcessingError(err); ok {
		code = int(pe.Code)
	}
	_ = a.store.Messages().InsertRejected(types.RejectedMessage{
		ItemHash:      hashPtr,
		Reason:        err.Error(),
		ErrorCode:     code,
		ReceptionTime: time.Now().UTC(),
	})
	if a.metrics != nil {
		kind := "unknown"
		if pe, ok := types.AsProcessingError(err); ok {
			kind = string(pe.Kind)
		}
		a.metrics.MessagesRejected.WithLabelValues(kind).Inc()
	}
	a.log.Warn("pipeline: message rejected at admit", zap.String("item_hash", itemHash), zap.Error(err))
}

// parseMessage builds a types.Message from a raw dict, determining
// item_type from the item_hash prefix when absent (spec §4.1 step 1b).
func parseMessage(dict map[string]any) (*types.Message, error) {
	itemHash, _ := dict["item_hash"].(string)
	if itemHash == "" {
		return nil, types.NewPermanent(types.KindInvalidMessageFormat, "missing item_hash")
	}
	msgType, _ := dict["type"].(string)
	sender, _ := dict["sender"].(string)
	chain, _ := dict["chain"].(string)
	if msgType == "" || sender == "" || chain == "" {
		return nil, types.NewPermanent(types.KindInvalidMessageFormat, "missing type, sender, or chain")
	}

	itemType, _ := dict["item_type"].(string)
	if itemType == "" {
		itemType = string(itemTypeFromHash(itemHash))
	}

	itemContent, _ := dict["item_content"].(string)
	signature, _ := dict["signature"].(string)
	channel, _ := dict["channel"].(string)

	msg := &types.Message{
		ItemHash:    itemHash,
		Type:        types.MessageType(strings.ToUpper(msgType)),
		Chain:       types.Chain(strings.ToUpper(chain)),
		Sender:      sender,
		Signature:   signature,
		ItemType:    types.ItemType(itemType),
		ItemContent: itemContent,
		Channel:     channel,
		Time:        time.Now().UTC(),
	}
	if ts, ok := dict["time"].(float64); ok {
		msg.Time = time.Unix(int64(ts), 0).UTC()
	}
	return msg, nil
}

// itemTypeFromHash infers item_type from item_hash's shape when the field
// is absent (spec §4.1 step 1b): a 64-hex-char hash is a storage/sha256
// reference, anything else is treated as an IPFS CID.
func itemTypeFromHash(hash string) types.ItemType {
	if len(hash) == 64 && isHex(hash) {
		return types.ItemTypeStorage
	}
	return types.ItemTypeIPFS
}

func isHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// validateInlineContent rejects the NUL byte and enforces the 200 000-byte size cap
// (spec §4.1 step 1c, spec §3 MaxInlineContentSize).
func validateInlineContent(itemContent string) error {
	if len(itemContent) > types.MaxInlineContentSize {
		return types.NewPermanent(types.KindInvalidMessageFormat, fmt.Sprintf("item_content exceeds %d bytes", types.MaxInlineContentSize))
	}
	if bytes.ContainsRune([]byte(itemContent), 0) {
		return types.NewPermanent(types.KindInvalidMessageFormat, "item_content contains a NUL byte")
	}
	return nil
}

// validateInlineHash enforces sha256(item_content) == item_hash, a universal
// per-message invariant (spec §3, spec §4.1 step 1c) that holds regardless
// of item_type whenever content is carried inline.
func validateInlineHash(itemHash, itemContent string) error {
	sum := sha256.Sum256([]byte(itemContent))
	if hex.EncodeToString(sum[:]) != strings.ToLower(itemHash) {
		return types.NewPermanent(types.KindInvalidMessageFormat, "item_hash does not match sha256(item_content)")
	}
	return nil
}

// validateMessageTime enforces the admission window on the message `time`
// field (spec §3): more than 24h in the past or 5min in the future is
// rejected outright.
func validateMessageTime(t time.Time) error {
	now := time.Now().UTC()
	if t.Before(now.Add(-maxPastSkew)) {
		return types.NewPermanent(types.KindInvalidMessageFormat, "time is more than 24h in the past")
	}
	if t.After(now.Add(maxFutureSkew)) {
		return types.NewPermanent(types.KindInvalidMessageFormat, "time is more than 5min in the future")
	}
	return nil
}
