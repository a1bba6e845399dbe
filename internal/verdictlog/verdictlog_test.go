package verdictlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	e1 := l.Append(Entry{TemplateID: 1, Accepted: true})
	e2 := l.Append(Entry{TemplateID: 2, Accepted: false, ReasonCode: "tx_count_exceeded"})
	assert.Equal(t, uint64(1), e1.LogID)
	assert.Equal(t, uint64(2), e2.LogID)
}

func TestRingBounded(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	for i := 0; i < RingCapacity+10; i++ {
		l.Append(Entry{TemplateID: uint64(i), Accepted: true})
	}
	recent := l.Recent()
	assert.Len(t, recent, RingCapacity)
	assert.Equal(t, uint64(RingCapacity+9), recent[len(recent)-1].TemplateID)
}

func TestReplaySeedsRingAndNextID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verdicts.log")

	seed, err := Open(path)
	require.NoError(t, err)
	seed.Append(Entry{TemplateID: 1, Accepted: true})
	seed.Append(Entry{TemplateID: 2, Accepted: false, ReasonCode: "total_fees_below_minimum"})
	require.NoError(t, seed.Close())

	// Corrupt trailing line should be skipped silently, not break replay.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Len(t, reopened.Recent(), 2)
	next := reopened.Append(Entry{TemplateID: 3, Accepted: true})
	assert.Equal(t, uint64(3), next.LogID)
}

func TestStatsQuiescentIdentity(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	l.Append(Entry{Accepted: true, Tier: "low"})
	l.Append(Entry{Accepted: false, ReasonCode: "tx_count_exceeded", Tier: "mid"})
	l.Append(Entry{Accepted: false, ReasonCode: "tx_count_exceeded", Tier: "high"})

	s := l.Stats()
	assert.Equal(t, uint64(3), s.Total)
	assert.Equal(t, uint64(1), s.Accepted)
	assert.Equal(t, uint64(2), s.Rejected)
	assert.Equal(t, s.Total, s.Accepted+s.Rejected)
	assert.EqualValues(t, len(l.Recent()), s.Total)
	assert.Equal(t, uint64(2), s.ByReason["tx_count_exceeded"])
}

func TestWriteCSVQuotesReason(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	l.Append(Entry{TemplateID: 7, Accepted: false, ReasonCode: `weird "quoted" reason`})

	var buf bytes.Buffer
	require.NoError(t, l.WriteCSV(&buf))
	out := buf.String()
	assert.Contains(t, out, csvHeader)
	assert.Contains(t, out, `"weird ""quoted"" reason"`)
}

func TestWriteNDJSONOneEntryPerLine(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	l.Append(Entry{TemplateID: 1, Accepted: true})
	l.Append(Entry{TemplateID: 2, Accepted: true})

	var buf bytes.Buffer
	require.NoError(t, l.WriteNDJSON(&buf))
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 2, lines)
}
