// Package policy implements the verdict engine's rule set: the tiered
// economic/structural policy described in spec.md §3, §4.2, and the
// lifecycle (load, validate, hot-swap) described in spec.md §4.3.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// Tier is the discrete mempool-driven regime that selects the active fee
// floor (spec.md glossary).
type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"
)

// Config is the rule set a verdict is evaluated against (spec.md §3's
// PolicyConfig). Field names and semantics match the spec exactly; TOML
// tags give the on-disk table its keys.
type Config struct {
	ProtocolVersion     uint16 `toml:"protocol_version" json:"protocol_version"`
	RequiredPrevHashLen int    `toml:"required_prevhash_len" json:"required_prevhash_len"`

	MinTotalFees uint64 `toml:"min_total_fees" json:"min_total_fees"`
	MaxTxCount   uint32 `toml:"max_tx_count" json:"max_tx_count"`

	LowMempoolTx  uint64 `toml:"low_mempool_tx" json:"low_mempool_tx"`
	HighMempoolTx uint64 `toml:"high_mempool_tx" json:"high_mempool_tx"`

	MinAvgFeeLo  uint64 `toml:"min_avg_fee_lo" json:"min_avg_fee_lo"`
	MinAvgFeeMid uint64 `toml:"min_avg_fee_mid" json:"min_avg_fee_mid"`
	MinAvgFeeHi  uint64 `toml:"min_avg_fee_hi" json:"min_avg_fee_hi"`

	RejectEmptyTemplates bool `toml:"reject_empty_templates" json:"reject_empty_templates"`
	RejectCoinbaseZero   bool `toml:"reject_coinbase_zero" json:"reject_coinbase_zero"`
	UnknownMempoolAsHigh bool `toml:"unknown_mempool_as_high" json:"unknown_mempool_as_high"`

	// MaxWeightRatio is validated (must be in (0,1]) but, per spec.md §4.2,
	// is not consumed by any of the nine ordered rules. It is reported by
	// GET /policy; it is not included in a verdict's policy_context (see
	// SPEC_FULL.md §4.2, §6).
	MaxWeightRatio float64 `toml:"max_weight_ratio" json:"max_weight_ratio"`
}

// document is the on-disk/wire shape: a single top-level [policy] table
// (spec.md §6).
type document struct {
	Policy Config `toml:"policy" json:"policy"`
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]*$`)

// Default returns the permissive safe-degraded-mode policy installed when
// loading the real policy file fails (spec.md §4.3): zeroed thresholds,
// relaxed rejections, but still internally valid.
func Default(protocolVersion uint16) Config {
	return Config{
		ProtocolVersion:      protocolVersion,
		RequiredPrevHashLen:  64,
		MinTotalFees:         0,
		MaxTxCount:           1 << 31,
		LowMempoolTx:         0,
		HighMempoolTx:        0,
		MinAvgFeeLo:          0,
		MinAvgFeeMid:         0,
		MinAvgFeeHi:          0,
		RejectEmptyTemplates: false,
		RejectCoinbaseZero:   false,
		UnknownMempoolAsHigh: false,
		MaxWeightRatio:       1.0,
	}
}

// Validate checks the invariants spec.md §3 requires of any PolicyConfig,
// loaded or hot-swapped.
func (c Config) Validate(expectedProtocolVersion uint16) error {
	if c.ProtocolVersion != expectedProtocolVersion {
		return fmt.Errorf("policy protocol_version %d does not match compiled constant %d", c.ProtocolVersion, expectedProtocolVersion)
	}
	if c.RequiredPrevHashLen < 1 {
		return fmt.Errorf("required_prevhash_len must be >= 1, got %d", c.RequiredPrevHashLen)
	}
	if c.MaxTxCount < 1 {
		return fmt.Errorf("max_tx_count must be >= 1, got %d", c.MaxTxCount)
	}
	if c.LowMempoolTx > c.HighMempoolTx {
		return fmt.Errorf("low_mempool_tx (%d) must be <= high_mempool_tx (%d)", c.LowMempoolTx, c.HighMempoolTx)
	}
	if c.MaxWeightRatio <= 0 || c.MaxWeightRatio > 1 {
		return fmt.Errorf("max_weight_ratio must be in (0,1], got %f", c.MaxWeightRatio)
	}
	return nil
}

// SelectTier picks the fee tier and its effective floor given an optional
// mempool transaction count (spec.md §4.2's tier-selection table).
func (c Config) SelectTier(mempoolTx *uint64) (Tier, uint64) {
	if mempoolTx == nil {
		if c.UnknownMempoolAsHigh {
			return TierHigh, c.MinAvgFeeHi
		}
		return TierMid, c.MinAvgFeeMid
	}
	m := *mempoolTx
	switch {
	case m < c.LowMempoolTx:
		return TierLow, c.MinAvgFeeLo
	case m < c.HighMempoolTx:
		return TierMid, c.MinAvgFeeMid
	default:
		return TierHigh, c.MinAvgFeeHi
	}
}

// Verdict is the pure result of Evaluate, before it is wrapped onto the
// wire TemplateVerdict and logged.
type Verdict struct {
	Accepted     bool
	ReasonCode   protocol.ReasonCode
	ReasonDetail string
	ReasonFields map[string]any
	Tier         Tier
	FloorUsed    uint64
	AvgFeeSats   uint64
}

// Evaluate runs the nine-rule ordered policy against a proposed template
// (spec.md §4.2). It is a pure function of (p, c, mempoolTx) — no I/O, no
// shared mutable state — satisfying the purity invariant in spec.md §8.
func Evaluate(p protocol.TemplatePropose, c Config, mempoolTx *uint64) Verdict {
	tier, floor := c.SelectTier(mempoolTx)

	avg := uint64(0)
	if p.TxCount > 0 {
		avg = p.TotalFees / uint64(p.TxCount)
	}

	reject := func(code protocol.ReasonCode, detail string, fields map[string]any) Verdict {
		return Verdict{
			Accepted:     false,
			ReasonCode:   code,
			ReasonDetail: detail,
			ReasonFields: fields,
			Tier:         tier,
			FloorUsed:    floor,
			AvgFeeSats:   avg,
		}
	}

	// Rule 1: protocol version.
	if p.Version != c.ProtocolVersion {
		return reject(protocol.ReasonProtocolVersionMismatch,
			fmt.Sprintf("unsupported protocol version %d, expected %d", p.Version, c.ProtocolVersion),
			map[string]any{"got": p.Version, "expected": c.ProtocolVersion})
	}

	// Rule 2: prev_hash length.
	if len(p.PrevHash) != c.RequiredPrevHashLen {
		return reject(protocol.ReasonPrevHashLenMismatch,
			fmt.Sprintf("prev_hash has length %d, expected %d", len(p.PrevHash), c.RequiredPrevHashLen),
			map[string]any{"len": len(p.PrevHash), "expected": c.RequiredPrevHashLen})
	}

	// Rule 3: prev_hash must be all hex digits.
	if !hexPattern.MatchString(p.PrevHash) {
		return reject(protocol.ReasonInvalidPrevHash,
			"prev_hash is not composed entirely of hex digits",
			nil)
	}

	// Rule 4: empty templates (must precede rule 5 — spec.md §9's
	// resolved open question).
	if c.RejectEmptyTemplates && p.TxCount == 0 {
		return reject(protocol.ReasonEmptyTemplateRejected,
			"template has zero transactions",
			nil)
	}

	// Rule 5: zero coinbase value.
	if c.RejectCoinbaseZero && p.CoinbaseValue == 0 && p.TxCount > 0 {
		return reject(protocol.ReasonCoinbaseValueZeroRejected,
			"coinbase_value is zero",
			nil)
	}

	// Rule 6: tx count ceiling.
	if p.TxCount > c.MaxTxCount {
		return reject(protocol.ReasonTxCountExceeded,
			fmt.Sprintf("tx_count %d exceeds max allowed %d", p.TxCount, c.MaxTxCount),
			map[string]any{"count": p.TxCount, "max_allowed": c.MaxTxCount})
	}

	// Rule 7: total fees floor.
	if p.TotalFees < c.MinTotalFees {
		return reject(protocol.ReasonTotalFeesBelowMinimum,
			fmt.Sprintf("total_fees %d below minimum required %d", p.TotalFees, c.MinTotalFees),
			map[string]any{"total": p.TotalFees, "min_required": c.MinTotalFees})
	}

	// Rule 8: tiered average-fee floor.
	if floor > 0 && p.TxCount > 0 && avg < floor {
		return reject(protocol.ReasonAvgFeeBelowMinimum,
			fmt.Sprintf("average fee %d sats/tx below minimum required %d", avg, floor),
			map[string]any{"avg": avg, "min_required": floor})
	}

	// Rule 9: accept.
	return Verdict{
		Accepted:   true,
		Tier:       tier,
		FloorUsed:  floor,
		AvgFeeSats: avg,
	}
}

// ToWire converts an evaluator Verdict plus the originating request into a
// wire TemplateVerdict.
func ToWire(p protocol.TemplatePropose, v Verdict, protoVersion uint16) protocol.TemplateVerdict {
	tv := protocol.TemplateVerdict{
		Version:  protoVersion,
		ID:       p.ID,
		Accepted: v.Accepted,
		PolicyContext: &protocol.PolicyContext{
			Tier:            string(v.Tier),
			FloorUsed:       v.FloorUsed,
			ProtocolVersion: protoVersion,
		},
	}
	if !v.Accepted {
		tv.ReasonCode = v.ReasonCode
		tv.ReasonDetail = v.ReasonDetail
		if len(v.ReasonFields) > 0 {
			tv.ReasonFields = marshalFields(v.ReasonFields)
		}
	}
	return tv
}

// marshalFields renders a reason's structured detail fields to raw JSON.
// Fields are built from known-marshalable integer scalars,
// so this can never fail in practice; a failure degrades to an absent
// reason_fields object rather than losing the verdict.
func marshalFields(fields map[string]any) json.RawMessage {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return b
}
