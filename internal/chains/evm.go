package chains

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ccnode/ccnode/internal/types"
)

// EVMVerifier checks EIP-191 personal_sign signatures for ETH/BSC/AVAX
// senders: personal_sign (EIP-191) over the signingPayload verification
// buffer, recovered with go-ethereum's crypto/accounts (spec §4.2).
type EVMVerifier struct{}

func (v *EVMVerifier) Verify(msg *types.Message) error {
	sigHex := strings.TrimPrefix(msg.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("evm: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("evm: signature must be 65 bytes, got %d", len(sig))
	}
	// go-ethereum's recovery id convention expects 27/28 shifted to 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := accounts.TextHash(signingPayload(msg))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("evm: recover pubkey: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)

	if !strings.EqualFold(recovered.Hex(), msg.Sender) {
		return types.NewPermanent(types.KindInvalidSignature, fmt.Sprintf("recovered %s, expected %s", recovered.Hex(), msg.Sender))
	}
	return nil
}
