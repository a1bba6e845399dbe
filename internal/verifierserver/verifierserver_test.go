package verifierserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldra-pool/reservegrid/internal/mempoolstate"
	"github.com/veldra-pool/reservegrid/internal/policy"
	"github.com/veldra-pool/reservegrid/internal/protocol"
	"github.com/veldra-pool/reservegrid/internal/verdictlog"
)

func startTestServer(t *testing.T) (net.Addr, func()) {
	t.Helper()
	cfg := policy.Config{
		ProtocolVersion:      protocol.ProtocolVersion,
		RequiredPrevHashLen:  64,
		MaxTxCount:           10000,
		LowMempoolTx:         1000,
		HighMempoolTx:        5000,
		RejectEmptyTemplates: true,
		MaxWeightRatio:       1.0,
	}
	holder := policy.NewHolder(cfg, "")
	vlog, err := verdictlog.Open("")
	require.NoError(t, err)
	s := New(holder, mempoolstate.New(), vlog)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, ln)

	return ln.Addr(), func() { cancel(); ln.Close() }
}

func TestServerStrictOrdering(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	prevHash := strings.Repeat("0", 64)

	for i := uint64(1); i <= 5; i++ {
		req := protocol.TemplatePropose{
			Version:     protocol.ProtocolVersion,
			ID:          i,
			BlockHeight: 1,
			PrevHash:    prevHash,
			TxCount:     1,
			TotalFees:   10,
		}
		b, _ := json.Marshal(req)
		b = append(b, '\n')
		_, err := conn.Write(b)
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)

		var v protocol.TemplateVerdict
		require.NoError(t, json.Unmarshal(line, &v))
		assert.Equal(t, i, v.ID, "verdicts must arrive in strict 1:1 order with requests")
	}
}

func TestServerSkipsMalformedLineWithoutReply(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	valid := protocol.TemplatePropose{
		Version:     protocol.ProtocolVersion,
		ID:          99,
		PrevHash:    strings.Repeat("0", 64),
		TxCount:     1,
		TotalFees:   10,
		BlockHeight: 1,
	}
	b, _ := json.Marshal(valid)
	b = append(b, '\n')
	_, err = conn.Write(b)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var v protocol.TemplateVerdict
	require.NoError(t, json.Unmarshal(line, &v))
	assert.Equal(t, uint64(99), v.ID, "the only verdict received must be for the valid request, not the malformed one")
}
