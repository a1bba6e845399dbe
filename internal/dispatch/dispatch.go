// Package dispatch implements the producer side of the wire protocol: one
// fresh TCP connection per template, a bounded connect/write/read timeout
// budget, and strict request/verdict pairing (spec.md §4.1, §5, §6).
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/protocol"
)

var log = logging.NewSubsystem("dispatch")

// Timeout budget per spec.md §4.1, §5: independent connect/write timeouts,
// a read timeout for the reply, and a combined ceiling across the whole
// exchange.
const (
	ConnectTimeout = 2 * time.Second
	WriteTimeout   = 2 * time.Second
	ReadTimeout    = 3 * time.Second
	OverallTimeout = 4 * time.Second
)

// Client dials verifierAddr fresh for every call to Send.
type Client struct {
	addr string
}

// New builds a dispatch client targeting the verifier's TCP listener.
func New(addr string) *Client {
	return &Client{addr: addr}
}

// Send opens a new connection, writes tpl as one newline-delimited JSON
// line, and reads back exactly one verdict line, honoring the documented
// timeout budget. Every failure is returned to the caller already wrapped
// with context; callers are expected to log and continue (spec.md §4.1's
// failure isolation: a send failure never aborts the manager loop).
func (c *Client) Send(ctx context.Context, tpl protocol.TemplatePropose) (protocol.TemplateVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, OverallTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("connect to verifier %s: %w", c.addr, err)
	}
	defer conn.Close()

	body, err := json.Marshal(tpl)
	if err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("marshal template: %w", err)
	}
	body = append(body, '\n')

	if err := conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("write template to verifier: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("set read deadline: %w", err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return protocol.TemplateVerdict{}, fmt.Errorf("read verdict from verifier: %w", err)
	}

	var verdict protocol.TemplateVerdict
	if err := json.Unmarshal(line, &verdict); err != nil {
		return protocol.TemplateVerdict{}, fmt.Errorf("parse verdict from verifier: %w", err)
	}
	return verdict, nil
}
