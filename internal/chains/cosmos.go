package chains

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"

	"github.com/ccnode/ccnode/internal/types"
)

// CosmosVerifier checks secp256k1 signatures over a Cosmos SDK-style sign
// doc, a deterministic JSON rendering of the item hash, hashed with sha256
// (spec §4.2 "Cosmos CSDK: secp256k1 + sign-doc JSON + sha256"). The
// signer's raw compressed public key must be carried in
// Content["pubkey"] (hex); the derived bech32 address (with the chain's
// "cosmos" HRP) must match Sender.
type CosmosVerifier struct{}

type cosmosSignDoc struct {
	ItemHash string `json:"item_hash"`
}

func (v *CosmosVerifier) Verify(msg *types.Message) error {
	pubHex, _ := msg.Content["pubkey"].(string)
	pubBytes, err := decodeHexString(pubHex)
	if err != nil {
		return fmt.Errorf("cosmos: decode pubkey: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("cosmos: invalid public key: %w", err)
	}

	hrp, raw, err := bech32Decode(msg.Sender)
	if err != nil {
		return fmt.Errorf("cosmos: decode sender address: %w", err)
	}
	if hrp != "cosmos" {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("unexpected address hrp %q", hrp))
	}
	if addr := addressFromPubkey(pubBytes); !bytesEqual(addr, raw) {
		return types.NewPermanent(types.KindInvalidSignature, "cosmos: pubkey does not match sender address")
	}

	signDoc, err := json.Marshal(cosmosSignDoc{ItemHash: msg.ItemHash})
	if err != nil {
		return err
	}
	digest := sha256.Sum256(signDoc)

	sigBytes, err := decodeHexString(msg.Signature)
	if err != nil {
		return fmt.Errorf("cosmos: decode signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		// Cosmos SDK signatures are typically the 64-byte raw r||s form
		// rather than DER; fall back to that.
		sig, err = parseCompactSignature(sigBytes)
		if err != nil {
			return fmt.Errorf("cosmos: decode signature: %w", err)
		}
	}
	if !sig.Verify(digest[:], pub) {
		return types.NewPermanent(types.KindInvalidSignature, "cosmos: secp256k1 signature mismatch")
	}
	return nil
}

func parseCompactSignature(b []byte) (*ecdsa.Signature, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("expected 64-byte r||s signature, got %d", len(b))
	}
	var r, s secp256k1.ModNScalar
	r.SetByteSlice(b[:32])
	s.SetByteSlice(b[32:])
	return ecdsa.NewSignature(&r, &s), nil
}

// addressFromPubkey is the Cosmos SDK's address derivation: ripemd160(sha256(pubkey)).
func addressFromPubkey(pub []byte) []byte {
	shaSum := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(shaSum[:])
	return r.Sum(nil)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
