package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTxSetOrderIndependent(t *testing.T) {
	a := HashTxSet([]string{"tx1", "tx2", "tx3"})
	b := HashTxSet([]string{"tx3", "tx1", "tx2"})
	assert.Equal(t, a, b, "tx-set hash must be invariant under reordering")

	c := HashTxSet([]string{"tx1", "tx2", "tx4"})
	assert.NotEqual(t, a, c)
}

func TestStableIDDeterministic(t *testing.T) {
	f1 := New(100, "abc", 3, 5000, []string{"tx1", "tx2", "tx3"})
	f2 := New(100, "abc", 3, 5000, []string{"tx3", "tx2", "tx1"})
	require.True(t, f1.Equal(f2))
	assert.Equal(t, StableID(f1), StableID(f2), "equal fingerprints must yield equal ids across process restarts")
}

func TestStableIDDiffersOnChange(t *testing.T) {
	f1 := New(100, "abc", 3, 5000, []string{"tx1", "tx2", "tx3"})
	f2 := New(101, "abc", 3, 5000, []string{"tx1", "tx2", "tx3"})
	assert.NotEqual(t, StableID(f1), StableID(f2))
}

func TestFingerprintEqual(t *testing.T) {
	f1 := New(1, "h", 1, 1, []string{"a"})
	f2 := New(1, "h", 1, 1, []string{"a"})
	assert.True(t, f1.Equal(f2))
	f3 := New(1, "h", 2, 1, []string{"a", "b"})
	assert.False(t, f1.Equal(f3))
}
