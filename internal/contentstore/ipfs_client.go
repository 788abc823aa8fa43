package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpIPFSClient talks to an IPFS daemon's HTTP API (spec §1 treats the
// daemon as an external collaborator this is the Go client for). Grounded on
// the teacher's gateway-backed Storage.Pin/Retrieve (core/storage.go) and
// IPFSService.UnpinFile (core/ipfs.go), generalized from a single
// pin/retrieve/unpin trio to the Add/Get/Pin surface IPFSClient needs.
type httpIPFSClient struct {
	client  *http.Client
	gateway string
}

// NewHTTPIPFSClient builds an IPFSClient backed by the daemon's HTTP API at
// gateway (e.g. "http://127.0.0.1:5001").
func NewHTTPIPFSClient(client *http.Client, gateway string) IPFSClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpIPFSClient{client: client, gateway: gateway}
}

func (c *httpIPFSClient) Add(ctx context.Context, data []byte) (string, error) {
	url := c.gateway + "/api/v0/add"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("ipfs: add %d: %s", resp.StatusCode, string(b))
	}

	var meta struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("ipfs: decode add response: %w", err)
	}
	return meta.Hash, nil
}

func (c *httpIPFSClient) Get(ctx context.Context, cidStr string) ([]byte, error) {
	url := c.gateway + "/api/v0/cat?arg=" + cidStr
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("ipfs: cat %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func (c *httpIPFSClient) Pin(ctx context.Context, cidStr string) error {
	url := c.gateway + "/api/v0/pin/add?arg=" + cidStr
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("ipfs: pin %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
