package chains

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/ccnode/ccnode/internal/types"
)

// SolanaVerifier checks ed25519 signatures where the sender address is
// itself the base58-encoded public key, Solana's account-address scheme
// (spec §4.2 "Solana: ed25519 + base58").
type SolanaVerifier struct{}

func (v *SolanaVerifier) Verify(msg *types.Message) error {
	pub := base58.Decode(msg.Sender)
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("solana: sender is not a valid ed25519 public key (%d bytes)", len(pub))
	}
	sig := base58.Decode(msg.Signature)
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("solana: signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), signingPayload(msg), sig) {
		return types.NewPermanent(types.KindInvalidSignature, "solana: ed25519 signature mismatch")
	}
	return nil
}
