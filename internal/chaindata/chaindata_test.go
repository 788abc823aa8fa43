package chaindata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/contentstore"
	"github.com/ccnode/ccnode/internal/types"
)

// fakeIPFS is an in-memory stand-in for the daemon's HTTP API, keyed by the
// real CIDv0 of each blob, since the content store checks fetched IPFS bytes
// against the CID they were requested under.
type fakeIPFS struct {
	blobs map[string][]byte
	pins  map[string]bool
}

func newFakeIPFS() *fakeIPFS {
	return &fakeIPFS{blobs: make(map[string][]byte), pins: make(map[string]bool)}
}

func (f *fakeIPFS) Add(ctx context.Context, data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	cidStr := cid.NewCidV0(sum).String()
	f.blobs[cidStr] = data
	return cidStr, nil
}

func (f *fakeIPFS) Get(ctx context.Context, cidStr string) ([]byte, error) {
	b, ok := f.blobs[cidStr]
	if !ok {
		return nil, assert.AnError
	}
	return b, nil
}

func (f *fakeIPFS) Pin(ctx context.Context, cidStr string) error {
	f.pins[cidStr] = true
	return nil
}

func newTestDecoder(t *testing.T) (*Decoder, *fakeIPFS) {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	ipfs := newFakeIPFS()
	content := contentstore.New(blobs, ipfs, nil, nil, nil)
	return New(content), ipfs
}

func TestDecodeRejectsUnsupportedProtocolVersion(t *testing.T) {
	d, _ := newTestDecoder(t)
	tx := &types.ChainTx{Protocol: types.ProtocolOnChainSync, ProtocolVersion: 2}
	_, err := d.Decode(context.Background(), tx)
	require.Error(t, err)
	pe, ok := types.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidContent, pe.Kind)
}

func TestDecodeRejectsUnknownProtocol(t *testing.T) {
	d, _ := newTestDecoder(t)
	tx := &types.ChainTx{Protocol: types.Protocol("BOGUS"), ProtocolVersion: 1}
	_, err := d.Decode(context.Background(), tx)
	require.Error(t, err)
	pe, ok := types.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidContent, pe.Kind)
}

func TestDecodeOnChainSyncReturnsInlineMessages(t *testing.T) {
	d, _ := newTestDecoder(t)
	content := onChainContent{Messages: []map[string]any{
		{"item_hash": "m1"},
		{"item_hash": "m2"},
	}}
	raw, err := json.Marshal(content)
	require.NoError(t, err)

	tx := &types.ChainTx{
		Protocol:        types.ProtocolOnChainSync,
		ProtocolVersion: 1,
		Content:         json.RawMessage(raw),
	}
	msgs, err := d.Decode(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0]["item_hash"])
	assert.Equal(t, "m2", msgs[1]["item_hash"])
}

func TestDecodeOffChainSyncFetchesAndPinsCID(t *testing.T) {
	d, ipfs := newTestDecoder(t)

	payload, err := json.Marshal(onChainContent{Messages: []map[string]any{{"item_hash": "m1"}}})
	require.NoError(t, err)
	cidStr, err := ipfs.Add(context.Background(), payload)
	require.NoError(t, err)

	tx := &types.ChainTx{
		Protocol:        types.ProtocolOffChainSync,
		ProtocolVersion: 1,
		Content:         cidStr,
	}
	msgs, err := d.Decode(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0]["item_hash"])
	assert.True(t, ipfs.pins[cidStr], "off-chain sync must pin the CID on first sight")
}

func TestDecodeOffChainSyncRejectsNonStringContent(t *testing.T) {
	d, _ := newTestDecoder(t)
	tx := &types.ChainTx{
		Protocol:        types.ProtocolOffChainSync,
		ProtocolVersion: 1,
		Content:         map[string]any{"not": "a cid"},
	}
	_, err := d.Decode(context.Background(), tx)
	require.Error(t, err)
	pe, ok := types.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidContent, pe.Kind)
}

func TestDecodeSmartContractStoreIPFSEvent(t *testing.T) {
	d, _ := newTestDecoder(t)
	ev := smartContractEvent{
		Address: "0xabc",
		Type:    storeIPFSEventType,
		Content: "Qmsomecid",
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	tx := &types.ChainTx{
		Protocol:        types.ProtocolSmartContract,
		ProtocolVersion: 1,
		Chain:           types.ChainETH,
		Content:         json.RawMessage(raw),
	}
	msgs, err := d.Decode(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(types.MessageTypeStore), msgs[0]["type"])
	assert.Equal(t, string(types.ItemTypeIPFS), msgs[0]["item_type"])
	assert.Equal(t, "Qmsomecid", msgs[0]["item_hash"])
	assert.Equal(t, "0xabc", msgs[0]["sender"])
}

func TestDecodeSmartContractGenericEvent(t *testing.T) {
	d, _ := newTestDecoder(t)
	ev := smartContractEvent{
		Address: "0xdef",
		Type:    "MESSAGE",
		Content: map[string]any{"foo": "bar"},
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	tx := &types.ChainTx{
		Protocol:        types.ProtocolSmartContract,
		ProtocolVersion: 1,
		Chain:           types.ChainETH,
		Content:         json.RawMessage(raw),
	}
	msgs, err := d.Decode(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "MESSAGE", msgs[0]["type"])
	assert.Equal(t, "0xdef", msgs[0]["sender"])
}

func TestEncodeOutboundSyncRoundTrip(t *testing.T) {
	d, ipfs := newTestDecoder(t)

	env, err := d.EncodeOutboundSync(context.Background(), []map[string]any{{"item_hash": "m1"}})
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolOffChainSync, env.Protocol)
	assert.Equal(t, 1, env.Version)

	var cidStr string
	require.NoError(t, json.Unmarshal(env.Content, &cidStr))
	require.Len(t, ipfs.blobs, 1)

	blob, ok := ipfs.blobs[cidStr]
	require.True(t, ok)

	var onChain Envelope
	require.NoError(t, json.Unmarshal(blob, &onChain))
	assert.Equal(t, types.ProtocolOnChainSync, onChain.Protocol)

	var inner onChainContent
	require.NoError(t, json.Unmarshal(onChain.Content, &inner))
	require.Len(t, inner.Messages, 1)
	assert.Equal(t, "m1", inner.Messages[0]["item_hash"])
}
