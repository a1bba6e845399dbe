// Package chainrpc is a minimal JSON-RPC client for a flokicoind/bitcoind
// compatible chain node, adapted from the teacher's async Future/Receive
// idiom (rpcclient/extensions.go) onto the narrow surface the polling
// template source needs: getblocktemplate and getmempoolinfo. Building a
// full RPC server is explicitly out of scope (spec.md); this package only
// ever consumes one.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veldra-pool/reservegrid/internal/logging"
)

var log = logging.NewSubsystem("chainrpc")

// Response is the raw result or error delivered through a Future, mirroring
// rpcclient.Response.
type Response struct {
	result json.RawMessage
	err    error
}

// rpcRequest and rpcReply are the standard JSON-RPC 1.0 envelope flokicoind
// and bitcoind both speak.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Client issues JSON-RPC calls over HTTP against a single chain node
// endpoint, with basic auth credentials matching flokicoind/bitcoind's
// default RPC security model.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
	nextID   uint64
}

// NewClient builds a client. endpoint is a full URL (e.g.
// http://127.0.0.1:15213).
func NewClient(endpoint, user, pass string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		user:     user,
		pass:     pass,
		http:     &http.Client{Timeout: timeout},
		nextID:   1,
	}
}

// FutureRawResult is a future promise to deliver the raw JSON result of an
// arbitrary RPC call, in the teacher's FutureXxxResult idiom.
type FutureRawResult chan *Response

// Receive waits for the promised Response and unmarshals it into v.
func (r FutureRawResult) Receive(v interface{}) error {
	res := <-r
	if res.err != nil {
		return res.err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(res.result, v)
}

// CallAsync dispatches method with params on its own goroutine and returns
// a future, matching the teacher's pattern of never blocking the caller's
// event loop on network I/O directly.
func (c *Client) CallAsync(ctx context.Context, method string, params ...interface{}) FutureRawResult {
	future := make(FutureRawResult, 1)
	go func() {
		future <- c.dispatch(ctx, method, params)
	}()
	return future
}

func (c *Client) dispatch(ctx context.Context, method string, params []interface{}) *Response {
	id := c.nextID
	c.nextID++

	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return &Response{err: fmt.Errorf("marshal rpc request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Response{err: fmt.Errorf("build rpc request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Response{err: fmt.Errorf("rpc request %s: %w", method, err)}
	}
	defer resp.Body.Close()

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return &Response{err: fmt.Errorf("decode rpc reply %s: %w", method, err)}
	}
	if reply.Error != nil {
		return &Response{err: reply.Error}
	}
	return &Response{result: reply.Result}
}

// Call is the blocking convenience wrapper around CallAsync, matching the
// teacher's Xxx() = XxxAsync().Receive() pairing.
func (c *Client) Call(ctx context.Context, v interface{}, method string, params ...interface{}) error {
	return c.CallAsync(ctx, method, params...).Receive(v)
}

// withRetry retries fn up to attempts times with a fixed backoff between
// attempts, logging a recovery-edge line once a prior failure clears
// (spec.md §4.1, §5: "3 attempts / 200ms backoff").
func withRetry(ctx context.Context, attempts int, backoff time.Duration, label string, fn func() error) error {
	var lastErr error
	wasFailing := false
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			if wasFailing {
				log.Infof("%s recovered after %d attempt(s)", label, i+1)
			}
			return nil
		}
		lastErr = err
		wasFailing = true
		log.Warnf("%s attempt %d/%d failed: %v", label, i+1, attempts, err)
		if i < attempts-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", label, attempts, lastErr)
}
