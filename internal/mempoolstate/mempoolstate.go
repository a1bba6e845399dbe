// Package mempoolstate holds a single-cell, mutex-protected latest mempool
// snapshot (spec.md §5: "mutex for mempool snapshot single cell"). The
// producer's cell is read by its HTTP /mempool handler; the verifier's cell
// is read by the verdict engine's tier selection.
package mempoolstate

import (
	"sync"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// Cell holds the most recently sampled mempool snapshot, or none if
// nothing has been sampled yet.
type Cell struct {
	mu  sync.Mutex
	cur *protocol.MempoolSnapshot
}

// New returns an empty cell.
func New() *Cell {
	return &Cell{}
}

// Set stores snap as the latest snapshot.
func (c *Cell) Set(snap protocol.MempoolSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := snap
	c.cur = &s
}

// Get returns a copy of the latest snapshot, or ok=false if none has been
// set yet.
func (c *Cell) Get() (protocol.MempoolSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return protocol.MempoolSnapshot{}, false
	}
	return *c.cur, true
}

// TxCount returns a pointer suitable for policy.Evaluate's mempoolTx
// parameter: nil if no snapshot has ever been observed, matching spec.md's
// "unknown mempool" case.
func (c *Cell) TxCount() *uint64 {
	snap, ok := c.Get()
	if !ok {
		return nil
	}
	n := snap.TxCount
	return &n
}
