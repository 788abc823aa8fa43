package chains

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"

	"github.com/ccnode/ccnode/internal/types"
)

// NulsVerifier checks NULS/NULS2 compact-recovery secp256k1 signatures (spec
// §4.2 "NULS/NULS2: compact secp256k1 recovery"). version distinguishes the
// two address-derivation generations the two chains use.
type NulsVerifier struct {
	version int
}

func (v *NulsVerifier) Verify(msg *types.Message) error {
	sigBytes, err := decodeHexString(msg.Signature)
	if err != nil {
		return fmt.Errorf("nuls: decode signature: %w", err)
	}
	digest := sha256d(signingPayload(msg))

	pub, wasCompressed, err := ecdsa.RecoverCompact(sigBytes, digest)
	if err != nil {
		return fmt.Errorf("nuls: recover pubkey: %w", err)
	}
	_ = wasCompressed

	addr := nulsAddress(pub.SerializeCompressed(), v.version)
	if addr != msg.Sender {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("recovered address %s does not match sender %s", addr, msg.Sender))
	}
	return nil
}

func sha256d(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// nulsAddress derives a NULS address: ripemd160(sha256(pubkey)) prefixed
// with a chain/version byte, base58-encoded with a trailing XOR checksum
// byte (NULS's address scheme, simplified to the single-chain-id case).
func nulsAddress(pub []byte, version int) string {
	shaSum := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(shaSum[:])
	body := r.Sum(nil)

	chainID := byte(1) // mainnet
	addrType := byte(1)
	if version == 2 {
		addrType = 2
	}
	payload := append([]byte{chainID, addrType}, body...)

	var xor byte
	for _, b := range payload {
		xor ^= b
	}
	payload = append(payload, xor)
	return base58.Encode(payload)
}
