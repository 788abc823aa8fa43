package chains

import (
	"fmt"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/ccnode/ccnode/internal/types"
)

// ss58Prefix is the "substrate generic" network prefix (spec targets the
// default Substrate chain, not a parachain-specific one).
const ss58Prefix = 42

// substrateSigningContext is the fixed signing context subkey/Substrate use
// for sr25519 message signatures.
var substrateSigningContext = []byte("substrate")

// SubstrateVerifier checks sr25519 signatures against an SS58 sender address
// (spec §4.2 "Substrate: sr25519 via go-schnorrkel, SS58 address"). The
// signer's raw public key must be carried in Content["pubkey"] (hex), since
// SS58 addresses do not encode enough to recover a schnorrkel public key
// object directly.
type SubstrateVerifier struct{}

func (v *SubstrateVerifier) Verify(msg *types.Message) error {
	pubHex, _ := msg.Content["pubkey"].(string)
	pubBytes, err := decodeHex32(pubHex)
	if err != nil {
		return fmt.Errorf("substrate: decode pubkey: %w", err)
	}

	if addr := deriveSS58(pubBytes, ss58Prefix); addr != msg.Sender {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("pubkey does not match sender: got %s, expected %s", addr, msg.Sender))
	}

	pub, err := schnorrkel.NewPublicKey(pubBytes)
	if err != nil {
		return fmt.Errorf("substrate: invalid public key: %w", err)
	}
	sigBytes, err := decodeHex64(msg.Signature)
	if err != nil {
		return fmt.Errorf("substrate: decode signature: %w", err)
	}
	sig := &schnorrkel.Signature{}
	if err := sig.Decode(sigBytes); err != nil {
		return fmt.Errorf("substrate: decode signature: %w", err)
	}

	transcript := schnorrkel.NewSigningContext(substrateSigningContext, signingPayload(msg))
	ok, err := pub.Verify(sig, transcript)
	if err != nil {
		return fmt.Errorf("substrate: verify: %w", err)
	}
	if !ok {
		return types.NewPermanent(types.KindInvalidSignature, "substrate: sr25519 signature mismatch")
	}
	return nil
}

// deriveSS58 encodes a public key under prefix using the SS58 scheme: one
// network-prefix byte, the 32-byte public key, and a 2-byte blake2b-512
// checksum over "SS58PRE" + prefix + pubkey.
func deriveSS58(pub [32]byte, prefix byte) string {
	body := append([]byte{prefix}, pub[:]...)
	h := blake2b.Sum512(append([]byte("SS58PRE"), body...))
	payload := append(body, h[:2]...)
	return base58.Encode(payload)
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := decodeHexString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeHex64(s string) ([64]byte, error) {
	var out [64]byte
	b, err := decodeHexString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 64 {
		return out, fmt.Errorf("expected 64 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
