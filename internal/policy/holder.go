package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"

	"github.com/veldra-pool/reservegrid/internal/logging"
)

var log = logging.NewSubsystem("policy")

// Holder guards the active policy, {config, original_toml_text}, with a
// single sync.RWMutex (spec.md §4.3, §5). The lock is not reader-preferring:
// once a writer is waiting, new readers block until it has finished.
// Readers clone the fields they need under the lock and never hold it
// across I/O; writers replace the whole snapshot atomically.
type Holder struct {
	mu  sync.RWMutex
	cur snapshot
	// degraded is true once Load has fallen back to Default because the
	// on-disk policy file was missing or invalid. The HTTP /policy surface
	// reports this so an operator notices.
	degraded bool
	path     string
}

type snapshot struct {
	config      Config
	tomlText    string
	contentHash [32]byte
}

// NewHolder constructs a Holder already seeded with cfg (used for the safe
// degraded default, and in tests).
func NewHolder(cfg Config, tomlText string) *Holder {
	return &Holder{cur: snapshot{config: cfg, tomlText: tomlText, contentHash: blake2b.Sum256([]byte(tomlText))}}
}

// Load reads path as a single [policy] TOML table, validates it against
// protocolVersion, and installs it. On ANY failure (missing file,
// unparsable TOML, failed validation) it installs the permissive Default
// policy instead, logs loudly, and returns no error: per spec.md §4.3 the
// verifier must stay up in a safe degraded mode rather than abort.
func Load(path string, protocolVersion uint16) *Holder {
	h := &Holder{path: path}
	cfg, text, err := loadFile(path, protocolVersion)
	if err != nil {
		log.Errorf("failed to load policy from %s, entering safe degraded mode: %v", path, err)
		def := Default(protocolVersion)
		h.cur = snapshot{config: def, tomlText: "", contentHash: blake2b.Sum256(nil)}
		h.degraded = true
		return h
	}
	h.cur = snapshot{config: cfg, tomlText: text, contentHash: blake2b.Sum256([]byte(text))}
	log.Infof("loaded policy from %s (protocol_version=%d)", path, cfg.ProtocolVersion)
	return h
}

func loadFile(path string, protocolVersion uint16) (Config, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, "", fmt.Errorf("read policy file: %w", err)
	}
	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return Config{}, "", fmt.Errorf("parse policy toml: %w", err)
	}
	if err := doc.Policy.Validate(protocolVersion); err != nil {
		return Config{}, "", fmt.Errorf("validate policy: %w", err)
	}
	return doc.Policy, string(raw), nil
}

// Snapshot returns the currently active config, tier floors included. The
// caller receives a value copy; it never holds Holder's lock beyond this
// call (spec.md §5: "evaluator never holds the policy lock across I/O").
func (h *Holder) Snapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.config
}

// Degraded reports whether the active policy is the permissive fallback
// installed after a load failure.
func (h *Holder) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded
}

// TOMLText returns the exact on-disk text the active policy was parsed
// from (empty in safe degraded mode, since there was nothing parsable).
func (h *Holder) TOMLText() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.tomlText
}

// ContentHash returns the blake2b-256 digest of the active policy's TOML
// text, for audit/debugging via the /policy surface.
func (h *Holder) ContentHash() [32]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur.contentHash
}

// patch is the subset of Config fields the partial JSON hot-swap endpoint
// accepts (spec.md §6's POST /policy/apply body).
type patch struct {
	LowMempoolTx  *uint64 `json:"low_mempool_tx"`
	HighMempoolTx *uint64 `json:"high_mempool_tx"`
	MinAvgFeeLo   *uint64 `json:"min_avg_fee_lo"`
	MinAvgFeeMid  *uint64 `json:"min_avg_fee_mid"`
	MinAvgFeeHi   *uint64 `json:"min_avg_fee_hi"`
	MinTotalFees  *uint64 `json:"min_total_fees"`
	MaxTxCount    *uint32 `json:"max_tx_count"`
}

// ApplyPatch composes patchJSON onto the current config, validates the
// result, and — only on success — swaps it in. On failure the previously
// active policy is left untouched (spec.md §4.3: "old preserved on
// failure").
func (h *Holder) ApplyPatch(patchJSON []byte, protocolVersion uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var p patch
	if err := json.Unmarshal(patchJSON, &p); err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}
	next := h.cur.config
	if p.LowMempoolTx != nil {
		next.LowMempoolTx = *p.LowMempoolTx
	}
	if p.HighMempoolTx != nil {
		next.HighMempoolTx = *p.HighMempoolTx
	}
	if p.MinAvgFeeLo != nil {
		next.MinAvgFeeLo = *p.MinAvgFeeLo
	}
	if p.MinAvgFeeMid != nil {
		next.MinAvgFeeMid = *p.MinAvgFeeMid
	}
	if p.MinAvgFeeHi != nil {
		next.MinAvgFeeHi = *p.MinAvgFeeHi
	}
	if p.MinTotalFees != nil {
		next.MinTotalFees = *p.MinTotalFees
	}
	if p.MaxTxCount != nil {
		next.MaxTxCount = *p.MaxTxCount
	}
	if err := next.Validate(protocolVersion); err != nil {
		return fmt.Errorf("validate patched policy: %w", err)
	}

	text, err := renderTOML(next)
	if err != nil {
		return fmt.Errorf("render patched policy: %w", err)
	}
	h.install(next, text)
	h.persist(text)
	log.Infof("applied partial policy patch, new content hash %x", h.cur.contentHash[:8])
	return nil
}

// ApplyTOML parses rawTOML as a whole {policy:...} document, validates it,
// and swaps it in on success, exactly like ApplyPatch.
func (h *Holder) ApplyTOML(rawTOML []byte, protocolVersion uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var doc document
	if err := toml.Unmarshal(rawTOML, &doc); err != nil {
		return fmt.Errorf("parse policy toml: %w", err)
	}
	if err := doc.Policy.Validate(protocolVersion); err != nil {
		return fmt.Errorf("validate policy: %w", err)
	}
	h.install(doc.Policy, string(rawTOML))
	h.persist(string(rawTOML))
	log.Infof("applied whole-file policy TOML, new content hash %x", h.cur.contentHash[:8])
	return nil
}

// install replaces the active snapshot. Caller must hold h.mu.
func (h *Holder) install(cfg Config, text string) {
	h.cur = snapshot{config: cfg, tomlText: text, contentHash: blake2b.Sum256([]byte(text))}
	h.degraded = false
}

// persist atomically rewrites the policy file at h.path with text, using
// the teacher's tmp-file-then-rename pattern (mempool/fee_persist.go) so a
// crash mid-write never corrupts the file readers race against. Write
// failures are logged and dropped; the in-memory policy stays authoritative
// either way.
func (h *Holder) persist(text string) {
	if h.path == "" {
		return
	}
	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".policy-*.toml.tmp")
	if err != nil {
		log.Errorf("persist policy: create temp file: %v", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.Errorf("persist policy: write temp file: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		log.Errorf("persist policy: close temp file: %v", err)
		return
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		log.Errorf("persist policy: rename into place: %v", err)
	}
}

func renderTOML(cfg Config) (string, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(document{Policy: cfg}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WatchFile starts an fsnotify watch on h.path and routes every write
// event through ApplyTOML, so editing the policy file on disk takes
// effect the same way the HTTP apply_toml endpoint does (SPEC_FULL.md
// §4.3). It runs until stop is closed; watch errors are logged, never
// fatal.
func (h *Holder) WatchFile(protocolVersion uint16, stop <-chan struct{}) {
	if h.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("policy file watch: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		log.Errorf("policy file watch: add %s: %v", h.path, err)
		return
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(h.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			raw, err := os.ReadFile(h.path)
			if err != nil {
				log.Warnf("policy file watch: reread %s: %v", h.path, err)
				continue
			}
			if err := h.ApplyTOML(raw, protocolVersion); err != nil {
				log.Warnf("policy file watch: reload %s rejected: %v", h.path, err)
			} else {
				log.Infof("policy file watch: reloaded %s", h.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("policy file watch error: %v", err)
		}
	}
}
