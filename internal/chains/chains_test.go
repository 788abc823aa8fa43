package chains

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnode/ccnode/internal/types"
)

// bech32Encode is the encode-direction counterpart to bech32Decode (which
// production code only ever needs to decode a given sender address), added
// here so tests can construct a valid Cosmos bech32 sender from raw bytes.
func bech32Encode(hrp string, data []byte) (string, error) {
	values, err := convertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	combined := append(values, bech32Checksum(hrp, values)...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		sb.WriteByte(bech32Charset[v])
	}
	return sb.String(), nil
}

func bech32Checksum(hrp string, data []byte) []byte {
	values := append(bech32HRPExpand(hrp), data...)
	values = append(values, []byte{0, 0, 0, 0, 0, 0}...)
	polymod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((polymod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

func testMessage(chain types.Chain, sender string) *types.Message {
	return &types.Message{
		Chain:    chain,
		Sender:   sender,
		ItemType: types.ItemTypeInline,
		ItemHash: "h1",
	}
}

func TestEVMVerifierAcceptsValidPersonalSignSignature(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := gethcrypto.PubkeyToAddress(priv.PublicKey)

	msg := testMessage(types.ChainETH, addr.Hex())
	hash := accounts.TextHash(signingPayload(msg))
	sig, err := gethcrypto.Sign(hash, priv)
	require.NoError(t, err)
	msg.Signature = "0x" + hex.EncodeToString(sig)

	v := &EVMVerifier{}
	assert.NoError(t, v.Verify(msg))
}

func TestEVMVerifierRejectsWrongSender(t *testing.T) {
	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	msg := testMessage(types.ChainETH, "0x0000000000000000000000000000000000000000")
	hash := accounts.TextHash(signingPayload(msg))
	sig, err := gethcrypto.Sign(hash, priv)
	require.NoError(t, err)
	msg.Signature = hex.EncodeToString(sig)

	v := &EVMVerifier{}
	err = v.Verify(msg)
	require.Error(t, err)
	pe, ok := types.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidSignature, pe.Kind)
}

func TestSolanaVerifierAcceptsValidEd25519Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := testMessage(types.ChainSolana, base58.Encode(pub))
	msg.Signature = base58.Encode(ed25519.Sign(priv, signingPayload(msg)))

	v := &SolanaVerifier{}
	assert.NoError(t, v.Verify(msg))
}

func TestSolanaVerifierRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := testMessage(types.ChainSolana, base58.Encode(pub))
	sig := ed25519.Sign(priv, signingPayload(msg))
	sig[0] ^= 0xFF
	msg.Signature = base58.Encode(sig)

	v := &SolanaVerifier{}
	err = v.Verify(msg)
	require.Error(t, err)
}

func TestTezosVerifierAcceptsValidSignatureAndDerivedAddress(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	addr := deriveTz1(pub)
	msg := testMessage(types.ChainTezos, addr)
	msg.Content = map[string]any{"pubkey": encodeCheck(pub, edpkPrefix)}
	sig := ed25519.Sign(priv, signingPayload(msg))
	msg.Signature = encodeCheck(sig, edsigPrefix)

	v := &TezosVerifier{}
	assert.NoError(t, v.Verify(msg))
}

func TestTezosVerifierRejectsSenderPubkeyMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := testMessage(types.ChainTezos, deriveTz1(other))
	msg.Content = map[string]any{"pubkey": encodeCheck(pub, edpkPrefix)}
	msg.Signature = encodeCheck(ed25519.Sign(priv, signingPayload(msg)), edsigPrefix)

	v := &TezosVerifier{}
	err = v.Verify(msg)
	require.Error(t, err)
}

func TestCosmosVerifierAcceptsValidSignDocSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey()

	addr := addressFromPubkey(pub.SerializeCompressed())
	sender, err := bech32Encode("cosmos", addr)
	require.NoError(t, err)

	msg := testMessage(types.ChainCosmos, sender)
	msg.Content = map[string]any{"pubkey": hex.EncodeToString(pub.SerializeCompressed())}

	signDoc := fmt.Sprintf(`{"item_hash":"%s"}`, msg.ItemHash)
	digest := sha256Sum(signDoc)
	sig := ecdsa.Sign(priv, digest)
	msg.Signature = hex.EncodeToString(sig.Serialize())

	v := &CosmosVerifier{}
	assert.NoError(t, v.Verify(msg))
}

func TestNulsVerifierAcceptsValidCompactRecoverySignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	addr := nulsAddress(priv.PubKey().SerializeCompressed(), 1)
	msg := testMessage(types.ChainNuls, addr)
	digest := sha256d(signingPayload(msg))
	sig := ecdsa.SignCompact(priv, digest, true)
	msg.Signature = hex.EncodeToString(sig)

	v := &NulsVerifier{version: 1}
	assert.NoError(t, v.Verify(msg))
}

func TestNulsVerifierRejectsAddressMismatchAcrossVersions(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	addrV1 := nulsAddress(priv.PubKey().SerializeCompressed(), 1)
	msg := testMessage(types.ChainNuls, addrV1)
	digest := sha256d(signingPayload(msg))
	sig := ecdsa.SignCompact(priv, digest, true)
	msg.Signature = hex.EncodeToString(sig)

	v2 := &NulsVerifier{version: 2}
	err = v2.Verify(msg)
	require.Error(t, err, "a v1-derived address must not verify under the v2 address scheme")
}

func TestDeriveSS58ProducesStableAddressForKey(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}
	addr1 := deriveSS58(pub, ss58Prefix)
	addr2 := deriveSS58(pub, ss58Prefix)
	assert.Equal(t, addr1, addr2)
	assert.NotEmpty(t, addr1)
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
