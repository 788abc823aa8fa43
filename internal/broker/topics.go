package broker

import "fmt"

// Exchange names from spec.md §6 MQ topology.
const (
	ExchangePendingTx        = "pending_tx"         // topic, durable
	ExchangeMessageProcessing = "message_processing" // topic, transient
	ExchangeMessageResult    = "message_result"      // topic, durable
)

// QueuePendingMessages is the single queue every worker-pool node binds on
// the message_processing exchange, with pattern "fetch.#" (spec §6).
const QueuePendingMessages = "ccnode.pending_messages"

// PendingTxRoutingKey builds the `<chain>.<publisher>.<tx_hash>` routing key
// (spec §6).
func PendingTxRoutingKey(chain, publisher, txHash string) string {
	return fmt.Sprintf("%s.%s.%s", chain, publisher, txHash)
}

// FetchRoutingKey builds the `fetch.<item_hash>` routing key messages are
// published under after admission (spec §4.1 step 1).
func FetchRoutingKey(itemHash string) string {
	return "fetch." + itemHash
}

// ResultRoutingKey builds the `<status>.<item_hash>.<sender>` routing key
// (spec §4.1 step 3, §6).
func ResultRoutingKey(status, itemHash, sender string) string {
	return fmt.Sprintf("%s.%s.%s", status, itemHash, sender)
}
