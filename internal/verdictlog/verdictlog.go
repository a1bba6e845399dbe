// Package verdictlog implements the verifier's observability trail: a
// bounded in-memory ring of recent verdicts, a monotonically increasing
// log_id, and an append-only on-disk NDJSON log seeded by replay at
// startup (spec.md §3, §4.2, §6).
package verdictlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/veldra-pool/reservegrid/internal/logging"
)

var log = logging.NewSubsystem("verdictlog")

// RingCapacity is the maximum number of verdicts held in memory
// (spec.md §3 invariant: "ring bounded <= 1000").
const RingCapacity = 1000

// Entry is one logged verdict (spec.md §3's LoggedVerdict). Timestamp is
// Unix seconds, matching spec.md §3's documented field exactly.
type Entry struct {
	LogID           uint64 `json:"log_id"`
	TemplateID      uint64 `json:"template_id"`
	Height          uint32 `json:"height"`
	TotalFees       uint64 `json:"total_fees"`
	TxCount         uint32 `json:"tx_count"`
	Accepted        bool   `json:"accepted"`
	Tier            string `json:"tier"`
	FloorUsed       uint64 `json:"floor_used"`
	AvgFeeSatsPerTx uint64 `json:"avg_fee_sats_per_tx"`
	ReasonCode      string `json:"reason_code,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// Log is the mutex-protected in-memory ring plus the append-only file
// behind it. A single Log is shared by the verifier's connection
// handlers; all state transitions are linearized through mu.
type Log struct {
	mu       sync.Mutex
	ring     []Entry
	nextID   uint64
	total    uint64
	accepted uint64
	byReason map[string]uint64
	byTier   map[string]uint64

	path string
	file *os.File
}

// Open seeds a Log by replaying path (if it exists): scanning every NDJSON
// line, skipping corrupt ones silently, keeping only the trailing
// RingCapacity entries for the in-memory ring, and setting the next log_id
// to one past the highest persisted id (spec.md §6, §9).
func Open(path string) (*Log, error) {
	l := &Log{
		path:     path,
		byReason: make(map[string]uint64),
		byTier:   make(map[string]uint64),
		nextID:   1,
	}

	if path != "" {
		if err := l.replay(path); err != nil {
			return nil, fmt.Errorf("replay verdict log: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create verdict log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open verdict log for append: %w", err)
		}
		l.file = f
	}
	return l, nil
}

func (l *Log) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var maxID uint64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warnf("skipping corrupt verdict log line: %v", err)
			continue
		}
		l.applyToStats(e)
		l.pushRing(e)
		if e.LogID > maxID {
			maxID = e.LogID
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	l.nextID = maxID + 1
	log.Infof("replayed %d verdict log entries from %s, next log_id=%d", len(l.ring), path, l.nextID)
	return nil
}

// pushRing appends e to the bounded ring, dropping the oldest entry once
// full. Caller must hold mu (or be single-threaded during replay).
func (l *Log) pushRing(e Entry) {
	l.ring = append(l.ring, e)
	if len(l.ring) > RingCapacity {
		l.ring = l.ring[len(l.ring)-RingCapacity:]
	}
}

func (l *Log) applyToStats(e Entry) {
	l.total++
	if e.Accepted {
		l.accepted++
	} else if e.ReasonCode != "" {
		l.byReason[e.ReasonCode]++
	}
	if e.Tier != "" {
		l.byTier[e.Tier]++
	}
}

// Append allocates the next log_id, records e in the ring and persists it
// to the append-only file. A write failure is logged and dropped; the
// verdict still takes effect for the wire reply and the in-memory ring
// (spec.md §7: external I/O failures never tear down the loop).
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.LogID = l.nextID
	l.nextID++
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	l.applyToStats(e)
	l.pushRing(e)

	if l.file != nil {
		b, err := json.Marshal(e)
		if err != nil {
			log.Errorf("marshal verdict log entry %d: %v", e.LogID, err)
			return e
		}
		b = append(b, '\n')
		if _, err := l.file.Write(b); err != nil {
			log.Errorf("append verdict log entry %d: %v", e.LogID, err)
		}
	}
	return e
}

// Recent returns a copy of the current ring, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.ring))
	copy(out, l.ring)
	return out
}

// Stats is the /stats aggregation (spec.md §6).
type Stats struct {
	Total    uint64            `json:"total"`
	Accepted uint64            `json:"accepted"`
	Rejected uint64            `json:"rejected"`
	ByReason map[string]uint64 `json:"by_reason"`
	ByTier   map[string]uint64 `json:"by_tier"`
	Last     *Entry            `json:"last,omitempty"`
}

// Stats reports the running counters. Per spec.md §8's quiescent identity
// (total = accepted + rejected = |ring| once the system is idle), Total
// here counts every verdict ever logged, which may exceed len(ring) once
// the ring has wrapped.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Total:    l.total,
		Accepted: l.accepted,
		Rejected: l.total - l.accepted,
		ByReason: cloneCounts(l.byReason),
		ByTier:   cloneCounts(l.byTier),
	}
	if n := len(l.ring); n > 0 {
		last := l.ring[n-1]
		s.Last = &last
	}
	return s
}

func cloneCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WriteNDJSON streams the current ring as newline-delimited JSON
// (GET /verdicts/log, spec.md §6).
func (l *Log) WriteNDJSON(w io.Writer) error {
	for _, e := range l.Recent() {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

const csvHeader = "log_id,template_id,height,total_fees,tx_count,accepted,fee_tier,min_avg_fee_used,avg_fee_sats_per_tx,reason,timestamp\n"

// quoteCSVField double-quotes a field and escapes inner quotes by doubling
// them, matching spec.md §6's documented CSV schema exactly (the reason
// column is always quoted, unlike Go's encoding/csv which only quotes
// when a field needs it).
func quoteCSVField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteCSV streams the current ring as CSV, matching spec.md §6's exact
// schema and quoting rules (reason always double-quoted, inner quotes
// doubled).
func (l *Log) WriteCSV(w io.Writer) error {
	if _, err := io.WriteString(w, csvHeader); err != nil {
		return err
	}
	for _, e := range l.Recent() {
		line := strings.Join([]string{
			strconv.FormatUint(e.LogID, 10),
			strconv.FormatUint(e.TemplateID, 10),
			strconv.FormatUint(uint64(e.Height), 10),
			strconv.FormatUint(e.TotalFees, 10),
			strconv.FormatUint(uint64(e.TxCount), 10),
			strconv.FormatBool(e.Accepted),
			e.Tier,
			strconv.FormatUint(e.FloorUsed, 10),
			strconv.FormatUint(e.AvgFeeSatsPerTx, 10),
			quoteCSVField(e.ReasonCode),
			strconv.FormatInt(e.Timestamp, 10),
		}, ",")
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying append-only file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
