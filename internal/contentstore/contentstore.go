// Package contentstore implements the "Content store service" (spec §2, §4.3):
// fetch-by-hash across local store, peer HTTP, and IPFS, with hash
// verification and caching. Grounded on the teacher's Storage type
// (core/storage.go: Pin/Retrieve against a single IPFS gateway with an
// on-disk LRU cache) generalized to the three-source fan-out spec.md
// requires, and on core/ipfs.go's thin IPFSService wrapper for the pin/unpin
// surface.
package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/ccnode/ccnode/internal/blobstore"
	"github.com/ccnode/ccnode/internal/types"
)

// Engine selects the hashing/addressing scheme for AddFile (spec §4.3).
type Engine string

const (
	EngineStorage Engine = "storage" // sha256 hex
	EngineIPFS    Engine = "ipfs"    // CID
)

// Source reports where content was ultimately resolved from.
type Source string

const (
	SourceInline Source = "inline"
	SourceLocal  Source = "local"
	SourcePeer   Source = "peer"
	SourceIPFS   Source = "ipfs"
)

// IPFSClient is the minimal surface this package needs from an IPFS daemon
// (spec §1 treats the IPFS daemon itself as an opaque backend).
type IPFSClient interface {
	Add(ctx context.Context, data []byte) (cidStr string, err error)
	Get(ctx context.Context, cidStr string) ([]byte, error)
	Pin(ctx context.Context, cidStr string) error
}

// PeerClient fetches a hash's bytes from one API server peer.
type PeerClient interface {
	Fetch(ctx context.Context, peerAddr, hash string) ([]byte, error)
}

// ContentStore implements the operations of spec §4.3.
type ContentStore struct {
	blobs *blobstore.Store
	ipfs  IPFSClient
	peers PeerClient
	log   *zap.Logger

	peerList func() []string
}

// New constructs a ContentStore. peerList is called on each fan-out attempt
// so the known API-server list can be refreshed independently (spec §4.3
// "node's known API-server list").
func New(blobs *blobstore.Store, ipfs IPFSClient, peers PeerClient, peerList func() []string, log *zap.Logger) *ContentStore {
	if peerList == nil {
		peerList = func() []string { return nil }
	}
	return &ContentStore{blobs: blobs, ipfs: ipfs, peers: peers, peerList: peerList, log: log}
}

// GetMessageContent returns a message's content bytes: inline if present,
// otherwise dispatched to GetHashContent (spec §4.3).
func (c *ContentStore) GetMessageContent(ctx context.Context, msg *types.Message, timeout time.Duration) ([]byte, Source, error) {
	if msg.ItemType == types.ItemTypeInline {
		return []byte(msg.ItemContent), SourceInline, nil
	}
	b, src, err := c.GetHashContent(ctx, msg.ItemHash, msg.ItemType, timeout, true, true, true)
	return b, src, err
}

// GetHashContent tries local blob store, then peer fan-out, then IPFS, in
// that order (spec §4.3). On a network hit it verifies the returned bytes
// hash to `hash` (sha256 for storage items, CID for ipfs items); on mismatch
// it returns InvalidContent. If storeValue, a successful network fetch is
// written back to the local store.
func (c *ContentStore) GetHashContent(
	ctx context.Context,
	hash string,
	itemType types.ItemType,
	timeout time.Duration,
	useNetwork bool,
	useIPFS bool,
	storeValue bool,
) ([]byte, Source, error) {
	if c.blobs.Has(hash) {
		b, err := c.blobs.Read(hash)
		if err == nil {
			return b, SourceLocal, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if useNetwork && c.peers != nil {
		if b, ok := c.fetchFromPeers(ctx, hash); ok {
			if err := verifyHash(itemType, hash, b); err != nil {
				return nil, "", err
			}
			if storeValue {
				_ = c.blobs.Write(hash, b)
			}
			return b, SourcePeer, nil
		}
	}

	if useIPFS && itemType == types.ItemTypeIPFS && c.ipfs != nil {
		b, err := c.ipfs.Get(ctx, hash)
		if err == nil {
			if verr := verifyHash(itemType, hash, b); verr != nil {
				return nil, "", verr
			}
			if storeValue {
				_ = c.blobs.Write(hash, b)
			}
			return b, SourceIPFS, nil
		}
	}

	return nil, "", types.NewTransient(types.KindContentCurrentlyUnavailable, fmt.Sprintf("content unavailable for %s", hash))
}

// fetchFromPeers randomizes probe order across the known peer list and
// returns the first successful response; failures do not propagate (spec
// §4.3 "the next source is tried").
func (c *ContentStore) fetchFromPeers(ctx context.Context, hash string) ([]byte, bool) {
	peers := append([]string(nil), c.peerList()...)
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	for _, p := range peers {
		b, err := c.peers.Fetch(ctx, p, hash)
		if err != nil {
			continue
		}
		return b, true
	}
	return nil, false
}

func verifyHash(itemType types.ItemType, hash string, data []byte) error {
	switch itemType {
	case types.ItemTypeIPFS:
		c, err := cidFromHash(data)
		if err != nil || c != hash {
			return types.NewPermanent(types.KindInvalidContent, "cid mismatch")
		}
	default:
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != hash {
			return types.NewPermanent(types.KindInvalidContent, "sha256 mismatch")
		}
	}
	return nil
}

func cidFromHash(data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV0(sum).String(), nil
}

// AddFile writes bytes to the local store, registers a StoredFile (left to
// the caller via the returned hash), and returns the hash — CID when
// engine==ipfs, sha256 hex otherwise (spec §4.3).
func (c *ContentStore) AddFile(ctx context.Context, data []byte, engine Engine) (string, error) {
	switch engine {
	case EngineIPFS:
		if c.ipfs == nil {
			return "", errors.New("contentstore: ipfs not configured")
		}
		cidStr, err := c.ipfs.Add(ctx, data)
		if err != nil {
			return "", err
		}
		if err := c.blobs.Write(cidStr, data); err != nil {
			return "", err
		}
		return cidStr, nil
	default:
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if err := c.blobs.Write(hash, data); err != nil {
			return "", err
		}
		return hash, nil
	}
}

// PinHash instructs IPFS to pin an already-known CID (spec §4.3).
func (c *ContentStore) PinHash(ctx context.Context, hash string, timeout time.Duration) error {
	if c.ipfs == nil {
		return errors.New("contentstore: ipfs not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.ipfs.Pin(ctx, hash)
}

// StreamChunks returns a reader over a locally stored blob for large
// downloads, to be read in blobstore.ChunkSize pieces (spec §4.3 "Streaming
// variant"); the reader itself does not enforce the chunk size.
func (c *ContentStore) StreamChunks(hash string) (io.ReadCloser, error) {
	return c.blobs.OpenChunks(hash)
}

// httpPeerClient is the default PeerClient: a plain HTTP GET against a
// peer's storage.raw endpoint.
type httpPeerClient struct {
	client *http.Client
}

// NewHTTPPeerClient builds a PeerClient that fetches from peers' raw storage
// endpoints over HTTP (spec §6 `GET /storage/raw/{hash}`).
func NewHTTPPeerClient(client *http.Client) PeerClient {
	if client == nil {
		client = &http.Client{}
	}
	return &httpPeerClient{client: client}
}

func (p *httpPeerClient) Fetch(ctx context.Context, peerAddr, hash string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v0/storage/raw/%s", peerAddr, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer fetch %s: status %d", peerAddr, resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
