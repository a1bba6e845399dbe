package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

func TestSendReceivesVerdictInOrder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req protocol.TemplatePropose
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}
		verdict := protocol.TemplateVerdict{Version: req.Version, ID: req.ID, Accepted: true}
		b, _ := json.Marshal(verdict)
		b = append(b, '\n')
		conn.Write(b)
	}()

	c := New(ln.Addr().String())
	req := protocol.TemplatePropose{Version: protocol.ProtocolVersion, ID: 7, BlockHeight: 1}
	verdict, err := c.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), verdict.ID)
	assert.True(t, verdict.Accepted)
}

func TestSendConnectFailureReturnsError(t *testing.T) {
	c := New("127.0.0.1:1")
	_, err := c.Send(context.Background(), protocol.TemplatePropose{})
	assert.Error(t, err)
}
