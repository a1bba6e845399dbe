// Package mempoolclient fetches a mempool transaction-count snapshot over
// HTTP from the producer's GET /mempool, bounded by the 900ms per-call
// deadline spec.md §5 documents. It backs the verifier's own GET /mempool
// proxy, the HTTP leg of the producer -> verifier mempool signal spec.md
// §1 describes ("verifier fetches mempool snapshot over HTTP from the
// producer").
package mempoolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// Deadline is the per-call timeout spec.md §5 documents for the mempool
// snapshot client.
const Deadline = 900 * time.Millisecond

// Client fetches protocol.MempoolSnapshot documents from a single URL.
type Client struct {
	url  string
	http *http.Client
}

// New builds a client against url, with a request timeout of Deadline.
func New(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: Deadline}}
}

// Fetch performs a single GET and decodes the response as a
// protocol.MempoolSnapshot, accepting any of the documented tx_count
// aliases.
func (c *Client) Fetch(ctx context.Context) (protocol.MempoolSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return protocol.MempoolSnapshot{}, fmt.Errorf("build mempool request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.MempoolSnapshot{}, fmt.Errorf("fetch mempool snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.MempoolSnapshot{}, fmt.Errorf("mempool snapshot endpoint returned status %d", resp.StatusCode)
	}

	var snap protocol.MempoolSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return protocol.MempoolSnapshot{}, fmt.Errorf("decode mempool snapshot: %w", err)
	}
	return snap, nil
}
