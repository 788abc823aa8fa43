// Package chains implements per-chain signature verification (spec §4.2):
// one Verifier per supported Chain, checking that a Message's Signature was
// produced by Sender over the message's canonical signing payload. Grounded
// on the teacher's HDWallet/address-derivation code (core/wallet.go,
// core/offchain_wallet.go) generalized from the teacher's single ed25519
// scheme to the nine chains (six signature families) spec.md §4.2 enumerates, each verified
// with the ecosystem library that chain's own clients use.
package chains

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ccnode/ccnode/internal/types"
)

// globalLogger is shared by every Verifier, following the teacher's
// wallet-logger pattern (core/wallet.go's globalLogger/SetWalletLogger).
var globalLogger = log.New()

// SetVerifierLogger overrides the logger every Verifier in this package logs
// rejected signatures through.
func SetVerifierLogger(l *log.Logger) { globalLogger = l }

// Verifier checks a Message's Signature against its Sender address.
type Verifier interface {
	Verify(msg *types.Message) error
}

// Registry dispatches to the Verifier registered for a Message's Chain.
type Registry struct {
	verifiers map[types.Chain]Verifier
}

// NewRegistry builds the standard registry covering every Chain spec.md
// §4.2 names.
func NewRegistry() *Registry {
	evmVerifier := &EVMVerifier{}
	r := &Registry{verifiers: map[types.Chain]Verifier{
		types.ChainETH:       evmVerifier,
		types.ChainBSC:       evmVerifier,
		types.ChainAVAX:      evmVerifier,
		types.ChainTezos:     &TezosVerifier{},
		types.ChainSolana:    &SolanaVerifier{},
		types.ChainSubstrate: &SubstrateVerifier{},
		types.ChainCosmos:    &CosmosVerifier{},
		types.ChainNuls:      &NulsVerifier{version: 1},
		types.ChainNuls2:     &NulsVerifier{version: 2},
	}}
	return r
}

// Register overrides or adds a Verifier for a chain, for tests and for
// chains added after the initial registry build.
func (r *Registry) Register(chain types.Chain, v Verifier) {
	r.verifiers[chain] = v
}

// Verify dispatches msg to the Verifier registered for msg.Chain.
func (r *Registry) Verify(msg *types.Message) error {
	v, ok := r.verifiers[msg.Chain]
	if !ok {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("unsupported chain %q", msg.Chain))
	}
	if err := v.Verify(msg); err != nil {
		globalLogger.WithFields(log.Fields{
			"chain":     msg.Chain,
			"sender":    msg.Sender,
			"item_hash": msg.ItemHash,
		}).Warn("signature verification failed: ", err)
		if _, ok := types.AsProcessingError(err); ok {
			return err
		}
		return types.NewPermanent(types.KindInvalidSignature, err.Error())
	}
	return nil
}

// signingPayload is the canonical verification buffer every chain signs
// over (spec §4.2: "<chain>\n<sender>\n<item_type>\n<item_hash>").
func signingPayload(msg *types.Message) []byte {
	return []byte(strings.Join([]string{
		string(msg.Chain), msg.Sender, string(msg.ItemType), msg.ItemHash,
	}, "\n"))
}
