// Package fingerprint computes the content fingerprint used to detect
// genuinely new work (spec.md §3, §4.1) and the deterministic wire id
// derived from it.
package fingerprint

import (
	"encoding/binary"
	"sort"

	"github.com/aead/siphash"
)

// fingerprintKey is a fixed 128-bit key so the derived wire id is stable
// across process restarts (spec.md's stable-id-determinism invariant).
// It is not a secret: siphash is used here purely as a fast, well
// distributed, non-cryptographic content hash, not for authentication.
var fingerprintKey = [16]byte{
	0x72, 0x67, 0x2d, 0x70, 0x72, 0x6f, 0x74, 0x6f,
	0x63, 0x6f, 0x6c, 0x2d, 0x76, 0x31, 0x00, 0x01,
}

// Fingerprint identifies a unit of candidate-block work. Two templates
// represent the same work iff their Fingerprints compare equal.
type Fingerprint struct {
	Height    uint32
	PrevHash  string
	TxCount   uint32
	TotalFees uint64
	TxSetHash uint64 // order-independent hash of the tx-id set
}

// Equal reports whether two fingerprints describe the same work.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Height == o.Height &&
		f.PrevHash == o.PrevHash &&
		f.TxCount == o.TxCount &&
		f.TotalFees == o.TotalFees &&
		f.TxSetHash == o.TxSetHash
}

// HashTxSet computes an order-independent hash over a set of transaction
// ids by sorting them and hashing the concatenation (spec.md §4.1:
// "Gather the set of tx-ids and hash order-independently (sort-then-hash)").
func HashTxSet(txids []string) uint64 {
	sorted := make([]string, len(txids))
	copy(sorted, txids)
	sort.Strings(sorted)

	buf := make([]byte, 0, 1024)
	for _, id := range sorted {
		buf = append(buf, id...)
		buf = append(buf, 0x00)
	}
	return siphash.Sum64(buf, &fingerprintKey)
}

// New builds a Fingerprint from a candidate block's summary fields.
func New(height uint32, prevHash string, txCount uint32, totalFees uint64, txids []string) Fingerprint {
	return Fingerprint{
		Height:    height,
		PrevHash:  prevHash,
		TxCount:   txCount,
		TotalFees: totalFees,
		TxSetHash: HashTxSet(txids),
	}
}

// StableID derives the wire-level id exposed on TemplatePropose: a
// deterministic 64-bit hash of the fingerprint, identical across restarts
// for identical work (spec.md §3).
func StableID(f Fingerprint) uint64 {
	buf := make([]byte, 0, 4+8+4+8+len(f.PrevHash))
	buf = binary.BigEndian.AppendUint32(buf, f.Height)
	buf = append(buf, f.PrevHash...)
	buf = binary.BigEndian.AppendUint32(buf, f.TxCount)
	buf = binary.BigEndian.AppendUint64(buf, f.TotalFees)
	buf = binary.BigEndian.AppendUint64(buf, f.TxSetHash)
	return siphash.Sum64(buf, &fingerprintKey)
}
