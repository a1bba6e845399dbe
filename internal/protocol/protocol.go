// Package protocol defines the wire schema exchanged between the template
// manager and the pool verifier: rg-protocol's Go equivalent.
package protocol

import "encoding/json"

// ProtocolVersion is the process-wide constant that every PolicyConfig's
// protocol_version field must equal (spec.md §3 invariant). Bumping it is a
// breaking wire change.
const ProtocolVersion uint16 = 2

// TemplatePropose is a candidate block summary forwarded from the template
// manager to the verifier, one per newline-delimited JSON line.
type TemplatePropose struct {
	Version       uint16 `json:"version"`
	ID            uint64 `json:"id"`
	BlockHeight   uint32 `json:"block_height"`
	PrevHash      string `json:"prev_hash"`
	CoinbaseValue uint64 `json:"coinbase_value"`
	TxCount       uint32 `json:"tx_count"`
	TotalFees     uint64 `json:"total_fees"`

	// Optional forward-compat fields (spec.md §3). Left at zero value when
	// the producer doesn't populate them; never required by any policy rule.
	ObservedWeight  uint64 `json:"observed_weight,omitempty"`
	CreatedAtUnixMs uint64 `json:"created_at_unix_ms,omitempty"`
}

// ReasonCode is the closed set of tagged-variant discriminators a verdict
// can carry. Serialized on the wire as reason_code plus a payload object
// (spec.md §9: "tagged variants over string codes").
type ReasonCode string

const (
	ReasonNone                      ReasonCode = ""
	ReasonProtocolVersionMismatch   ReasonCode = "protocol_version_mismatch"
	ReasonPrevHashLenMismatch       ReasonCode = "prev_hash_len_mismatch"
	ReasonInvalidPrevHash           ReasonCode = "invalid_prev_hash"
	ReasonEmptyTemplateRejected     ReasonCode = "empty_template_rejected"
	ReasonCoinbaseValueZeroRejected ReasonCode = "coinbase_value_zero_rejected"
	ReasonTxCountExceeded           ReasonCode = "tx_count_exceeded"
	ReasonTotalFeesBelowMinimum     ReasonCode = "total_fees_below_minimum"
	ReasonAvgFeeBelowMinimum        ReasonCode = "avg_fee_below_minimum"
)

// PolicyContext accompanies a verdict with the tier and floor the evaluator
// used to reach its decision, independent of whether it accepted or
// rejected the template.
type PolicyContext struct {
	Tier            string `json:"tier"`
	FloorUsed       uint64 `json:"floor_used"`
	ProtocolVersion uint16 `json:"protocol_version"`
}

// TemplateVerdict is the verifier's reply, one per newline-delimited JSON
// line, in strict 1:1 order with the request stream on a given connection.
type TemplateVerdict struct {
	Version uint16 `json:"version"`
	ID      uint64 `json:"id"`
	// Accepted is the accept/reject bit gating whether the template reaches
	// downstream miners.
	Accepted bool `json:"accepted"`

	ReasonCode   ReasonCode      `json:"reason_code,omitempty"`
	ReasonDetail string          `json:"reason_detail,omitempty"`
	ReasonFields json.RawMessage `json:"reason_fields,omitempty"`

	// PolicyContext is always populated by policy.ToWire, for accepted and
	// rejected verdicts alike, since policy.Evaluate selects a tier before
	// applying any rule.
	PolicyContext *PolicyContext `json:"policy_context,omitempty"`
}

// MempoolSnapshot is the producer-internal and HTTP-exposed summary of the
// backend chain node's mempool (spec.md §3). The verifier only ever reads
// TxCount, accepting the aliases count/size when decoding a foreign shape.
type MempoolSnapshot struct {
	TxCount     uint64 `json:"tx_count"`
	Bytes       uint64 `json:"bytes"`
	Usage       uint64 `json:"usage"`
	Max         uint64 `json:"max"`
	MinRelayFee uint64 `json:"min_relay_fee"`
	Timestamp   uint64 `json:"timestamp"`
	LoadedFrom  string `json:"loaded_from,omitempty"`
}

// mempoolSnapshotAliases decodes the tx_count field under any of the
// documented aliases (spec.md §3: "tx_count | count | size").
type mempoolSnapshotAliases struct {
	TxCount     *uint64 `json:"tx_count"`
	Count       *uint64 `json:"count"`
	Size        *uint64 `json:"size"`
	Bytes       uint64  `json:"bytes"`
	Usage       uint64  `json:"usage"`
	Max         uint64  `json:"max"`
	MinRelayFee uint64  `json:"min_relay_fee"`
	Timestamp   uint64  `json:"timestamp"`
	LoadedFrom  string  `json:"loaded_from"`
}

// UnmarshalJSON accepts tx_count, count, or size (in that preference order)
// as the transaction-count field.
func (m *MempoolSnapshot) UnmarshalJSON(data []byte) error {
	var a mempoolSnapshotAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch {
	case a.TxCount != nil:
		m.TxCount = *a.TxCount
	case a.Count != nil:
		m.TxCount = *a.Count
	case a.Size != nil:
		m.TxCount = *a.Size
	}
	m.Bytes = a.Bytes
	m.Usage = a.Usage
	m.Max = a.Max
	m.MinRelayFee = a.MinRelayFee
	m.Timestamp = a.Timestamp
	m.LoadedFrom = a.LoadedFrom
	return nil
}
