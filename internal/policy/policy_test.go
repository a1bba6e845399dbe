package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// referencePolicy is the worked-scenario configuration from spec.md §8:
// protocol_version=2, required_prevhash_len=64, min_total_fees=0,
// max_tx_count=10000, low/high_mempool_tx=1000/5000,
// floors lo/mid/hi=0/1000/5000, reject_empty_templates=true,
// reject_coinbase_zero=false, unknown_mempool_as_high=true.
func referencePolicy() Config {
	return Config{
		ProtocolVersion:      2,
		RequiredPrevHashLen:  64,
		MinTotalFees:         0,
		MaxTxCount:           10000,
		LowMempoolTx:         1000,
		HighMempoolTx:        5000,
		MinAvgFeeLo:          0,
		MinAvgFeeMid:         1000,
		MinAvgFeeHi:          5000,
		RejectEmptyTemplates: true,
		RejectCoinbaseZero:   false,
		UnknownMempoolAsHigh: true,
		MaxWeightRatio:       1.0,
	}
}

var zeroPrevHash = strings.Repeat("0", 64)

func tmpl(mutate func(*protocol.TemplatePropose)) protocol.TemplatePropose {
	t := protocol.TemplatePropose{
		Version:       2,
		ID:            1,
		BlockHeight:   800000,
		PrevHash:      zeroPrevHash,
		CoinbaseValue: 312500000,
		TxCount:       10,
		TotalFees:     50000,
	}
	if mutate != nil {
		mutate(&t)
	}
	return t
}

func mempool(n uint64) *uint64 { return &n }

func TestValidate(t *testing.T) {
	require.NoError(t, referencePolicy().Validate(2))

	bad := referencePolicy()
	bad.LowMempoolTx = 6000
	assert.Error(t, bad.Validate(2))

	bad = referencePolicy()
	bad.RequiredPrevHashLen = 0
	assert.Error(t, bad.Validate(2))

	bad = referencePolicy()
	bad.MaxTxCount = 0
	assert.Error(t, bad.Validate(2))

	bad = referencePolicy()
	bad.MaxWeightRatio = 0
	assert.Error(t, bad.Validate(2))

	bad = referencePolicy()
	bad.MaxWeightRatio = 1.5
	assert.Error(t, bad.Validate(2))

	bad = referencePolicy()
	bad.ProtocolVersion = 1
	assert.Error(t, bad.Validate(2))
}

// Scenario 1: a clean template in a low mempool should be accepted.
func TestScenarioAcceptLowMempool(t *testing.T) {
	p := referencePolicy()
	req := tmpl(nil)
	v := Evaluate(req, p, mempool(500))
	require.True(t, v.Accepted)
	assert.Equal(t, TierLow, v.Tier)
	assert.Equal(t, uint64(0), v.FloorUsed)
	assert.Equal(t, uint64(5000), v.AvgFeeSats)
}

// Scenario 2: protocol version mismatch is rule 1 and wins over everything else.
func TestScenarioProtocolVersionMismatch(t *testing.T) {
	p := referencePolicy()
	req := tmpl(func(tp *protocol.TemplatePropose) { tp.Version = 1 })
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonProtocolVersionMismatch, v.ReasonCode)
}

// Scenario 3: wrong-length prev_hash is rejected before the hex check can run.
func TestScenarioPrevHashLenMismatch(t *testing.T) {
	p := referencePolicy()
	req := tmpl(func(tp *protocol.TemplatePropose) { tp.PrevHash = "abcd" })
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonPrevHashLenMismatch, v.ReasonCode)
}

// Scenario 4: a same-length but non-hex prev_hash is caught by rule 3.
func TestScenarioInvalidPrevHash(t *testing.T) {
	p := referencePolicy()
	nonHex := strings.Repeat("z", 64)
	req := tmpl(func(tp *protocol.TemplatePropose) { tp.PrevHash = nonHex })
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonInvalidPrevHash, v.ReasonCode)
}

// Scenario 5: an empty template with zero coinbase must report
// EmptyTemplateRejected, not CoinbaseValueZeroRejected — rule 4 precedes
// rule 5 (spec.md §9's resolved open question).
func TestScenarioEmptyPrecedesCoinbaseZero(t *testing.T) {
	p := referencePolicy()
	p.RejectCoinbaseZero = true
	req := tmpl(func(tp *protocol.TemplatePropose) {
		tp.TxCount = 0
		tp.CoinbaseValue = 0
		tp.TotalFees = 0
	})
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonEmptyTemplateRejected, v.ReasonCode)
}

// Scenario 6: a mid-tier mempool with average fee below the mid floor is
// rejected by rule 8, with the integer-truncated average reported.
func TestScenarioAvgFeeBelowMinimumMidTier(t *testing.T) {
	p := referencePolicy()
	req := tmpl(func(tp *protocol.TemplatePropose) {
		tp.TxCount = 10
		tp.TotalFees = 9999 // floor(9999/10) = 999 < 1000
	})
	v := Evaluate(req, p, mempool(2000))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonAvgFeeBelowMinimum, v.ReasonCode)
	assert.Equal(t, TierMid, v.Tier)
	assert.Equal(t, uint64(999), v.AvgFeeSats)
}

func TestTxCountExceeded(t *testing.T) {
	p := referencePolicy()
	req := tmpl(func(tp *protocol.TemplatePropose) {
		tp.TxCount = 20000
		tp.TotalFees = 200000000
	})
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonTxCountExceeded, v.ReasonCode)
}

func TestTotalFeesBelowMinimum(t *testing.T) {
	p := referencePolicy()
	p.MinTotalFees = 100000
	req := tmpl(func(tp *protocol.TemplatePropose) { tp.TotalFees = 50000 })
	v := Evaluate(req, p, mempool(500))
	require.False(t, v.Accepted)
	assert.Equal(t, protocol.ReasonTotalFeesBelowMinimum, v.ReasonCode)
}

func TestUnknownMempoolAsHigh(t *testing.T) {
	p := referencePolicy()
	req := tmpl(func(tp *protocol.TemplatePropose) {
		tp.TxCount = 10
		tp.TotalFees = 60000 // floor(60000/10) = 6000 >= 5000
	})
	v := Evaluate(req, p, nil)
	assert.Equal(t, TierHigh, v.Tier)
	assert.Equal(t, uint64(5000), v.FloorUsed)
	require.True(t, v.Accepted)
	assert.Equal(t, protocol.ReasonNone, v.ReasonCode)
}

func TestUnknownMempoolAsMidWhenConfigured(t *testing.T) {
	p := referencePolicy()
	p.UnknownMempoolAsHigh = false
	req := tmpl(func(tp *protocol.TemplatePropose) {
		tp.TxCount = 10
		tp.TotalFees = 60000
	})
	v := Evaluate(req, p, nil)
	assert.Equal(t, TierMid, v.Tier)
	assert.Equal(t, uint64(1000), v.FloorUsed)
	assert.True(t, v.Accepted)
}

// Tier selection must be monotone non-decreasing in the mempool count
// (spec.md §8 testable property).
func TestTierMonotonicity(t *testing.T) {
	p := referencePolicy()
	rank := map[Tier]int{TierLow: 0, TierMid: 1, TierHigh: 2}
	counts := []uint64{0, 500, 999, 1000, 2500, 4999, 5000, 100000}
	prev := -1
	for _, c := range counts {
		tier, _ := p.SelectTier(mempool(c))
		require.GreaterOrEqual(t, rank[tier], prev)
		prev = rank[tier]
	}
}

// accept implies all nine rules passed (spec.md §8's logical-formula
// invariant): an accepted verdict's avg fee must meet the floor used, fees
// must meet the minimum, and tx_count must be within bounds.
func TestAcceptImpliesAllConditions(t *testing.T) {
	p := referencePolicy()
	req := tmpl(nil)
	v := Evaluate(req, p, mempool(200))
	require.True(t, v.Accepted)
	assert.LessOrEqual(t, req.TxCount, p.MaxTxCount)
	assert.GreaterOrEqual(t, req.TotalFees, p.MinTotalFees)
	if v.FloorUsed > 0 {
		assert.GreaterOrEqual(t, v.AvgFeeSats, v.FloorUsed)
	}
}

func TestHolderApplyPatchRejectsInvalidAndPreservesOld(t *testing.T) {
	h := NewHolder(referencePolicy(), "")
	before := h.Snapshot()

	err := h.ApplyPatch([]byte(`{"low_mempool_tx": 9000, "high_mempool_tx": 100}`), 2)
	require.Error(t, err)
	assert.Equal(t, before, h.Snapshot())
}

func TestHolderApplyPatchSwapsOnSuccess(t *testing.T) {
	h := NewHolder(referencePolicy(), "")
	err := h.ApplyPatch([]byte(`{"min_total_fees": 42}`), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.Snapshot().MinTotalFees)
}

func TestHolderApplyTOML(t *testing.T) {
	h := NewHolder(referencePolicy(), "")
	toml := `
[policy]
protocol_version = 2
required_prevhash_len = 64
min_total_fees = 0
max_tx_count = 10000
low_mempool_tx = 1000
high_mempool_tx = 5000
min_avg_fee_lo = 0
min_avg_fee_mid = 1000
min_avg_fee_hi = 5000
reject_empty_templates = true
reject_coinbase_zero = true
unknown_mempool_as_high = true
max_weight_ratio = 1.0
`
	require.NoError(t, h.ApplyTOML([]byte(toml), 2))
	assert.True(t, h.Snapshot().RejectCoinbaseZero)
}

func TestDefaultIsValidAndPermissive(t *testing.T) {
	d := Default(2)
	require.NoError(t, d.Validate(2))
	v := Evaluate(tmpl(func(tp *protocol.TemplatePropose) { tp.TxCount = 0; tp.TotalFees = 0; tp.CoinbaseValue = 0 }), d, nil)
	assert.True(t, v.Accepted)
}
