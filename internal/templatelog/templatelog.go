// Package templatelog holds the producer's bounded in-memory ring of
// recently dispatched templates, exposed over GET /templates (spec.md §6).
package templatelog

import (
	"sync"
	"time"

	"github.com/veldra-pool/reservegrid/pkg/satoshi"
)

// RingCapacity is the maximum number of entries retained (spec.md §6:
// "recent LoggedTemplate ring cap 500").
const RingCapacity = 500

// Entry is one dispatched template's summary. Timestamp is Unix seconds,
// matching the convention spec.md §3 documents for LoggedVerdict.
type Entry struct {
	ID            uint64 `json:"id"`
	Height        uint32 `json:"height"`
	CoinbaseValue uint64 `json:"coinbase_value"`
	CoinbaseCoin  string `json:"coinbase_coin"`
	TotalFees     uint64 `json:"total_fees"`
	Backend       string `json:"backend"`
	Timestamp     int64  `json:"timestamp"`
}

// NewEntry builds an Entry stamped with the current time and a
// satoshi.Amount-formatted coinbase value, for GET /templates display.
func NewEntry(id uint64, height uint32, coinbaseValue, totalFees uint64, backend string) Entry {
	return Entry{
		ID:            id,
		Height:        height,
		CoinbaseValue: coinbaseValue,
		CoinbaseCoin:  satoshi.Amount(coinbaseValue).String(),
		TotalFees:     totalFees,
		Backend:       backend,
		Timestamp:     time.Now().Unix(),
	}
}

// Log is a mutex-protected bounded ring.
type Log struct {
	mu   sync.Mutex
	ring []Entry
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append records e, dropping the oldest entry once RingCapacity is
// exceeded.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append(l.ring, e)
	if len(l.ring) > RingCapacity {
		l.ring = l.ring[len(l.ring)-RingCapacity:]
	}
}

// Recent returns a copy of the current ring, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.ring))
	copy(out, l.ring)
	return out
}
