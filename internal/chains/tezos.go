package chains

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/ccnode/ccnode/internal/types"
)

// tezosPrefixes are the base58 version-byte prefixes this verifier
// recognizes (tz1 addresses / edpk public keys / edsig signatures), matching
// the Tezos binary-prefix scheme used throughout its client tooling.
var (
	tz1Prefix   = []byte{6, 161, 159}
	edpkPrefix  = []byte{13, 15, 37, 217}
	edsigPrefix = []byte{9, 245, 205, 134, 18}
)

// TezosVerifier checks ed25519 (tz1) Tezos signatures, the scheme pyaleph-
// style sync messages use (spec §4.2 "Tezos: ed25519/secp256k1 + blake2b
// pubkey hash"). The message's Content map must carry the signer's raw
// public key under "pubkey" (base58check edpk...), since a tz1 address
// alone does not recover a public key.
type TezosVerifier struct{}

func (v *TezosVerifier) Verify(msg *types.Message) error {
	pubKeyB58, _ := msg.Content["pubkey"].(string)
	if pubKeyB58 == "" {
		return types.NewPermanent(types.KindInvalidSignature, "tezos: missing pubkey in content")
	}
	pub, err := decodeCheck(pubKeyB58, edpkPrefix)
	if err != nil {
		return fmt.Errorf("tezos: decode pubkey: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("tezos: unsupported public key size %d (only tz1/ed25519 supported)", len(pub))
	}

	if addr := deriveTz1(pub); !strings.EqualFold(addr, msg.Sender) {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("pubkey does not match sender: got %s, expected %s", addr, msg.Sender))
	}

	sig, err := decodeCheck(msg.Signature, edsigPrefix)
	if err != nil {
		return fmt.Errorf("tezos: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, signingPayload(msg), sig) {
		return types.NewPermanent(types.KindInvalidSignature, "tezos: ed25519 signature mismatch")
	}
	return nil
}

// deriveTz1 derives a tz1 address from a raw ed25519 public key: blake2b-20
// digest, base58check-encoded with the tz1 version prefix.
func deriveTz1(pub ed25519.PublicKey) string {
	h, _ := blake2b.New(20, nil)
	h.Write(pub)
	digest := h.Sum(nil)
	return encodeCheck(digest, tz1Prefix)
}

// checksum is the double-sha256 4-byte checksum Tezos's base58check variant
// uses, same as Bitcoin's.
func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// encodeCheck base58check-encodes body under a multi-byte version prefix
// (Tezos's prefixes are longer than the single byte mr-tron/base58's Encode
// alone handles, so the prefix and checksum are applied manually).
func encodeCheck(body []byte, prefix []byte) string {
	payload := append(append([]byte{}, prefix...), body...)
	payload = append(payload, checksum(payload)...)
	return base58.Encode(payload)
}

// decodeCheck base58check-decodes s, verifies the checksum, and strips the
// expected multi-byte version prefix.
func decodeCheck(s string, prefix []byte) ([]byte, error) {
	raw := base58.Decode(s)
	if len(raw) < len(prefix)+4 {
		return nil, fmt.Errorf("payload too short")
	}
	payload, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if string(checksum(payload)) != string(sum) {
		return nil, fmt.Errorf("bad checksum")
	}
	if !strings.HasPrefix(string(payload), string(prefix)) {
		return nil, fmt.Errorf("unexpected version prefix")
	}
	return payload[len(prefix):], nil
}
