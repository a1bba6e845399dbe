// Package verifierserver implements the verifier's TCP listener: one
// goroutine per accepted connection, strict 1:1 request/verdict ordering,
// parse errors skip the offending line without emitting a verdict, and EOF
// closes the connection (spec.md §4.2, §6).
package verifierserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/mempoolstate"
	"github.com/veldra-pool/reservegrid/internal/policy"
	"github.com/veldra-pool/reservegrid/internal/protocol"
	"github.com/veldra-pool/reservegrid/internal/verdictlog"
)

var log = logging.NewSubsystem("verifierserver")

// Server owns the listener and the shared policy/log state every
// connection evaluates against.
type Server struct {
	policyHolder *policy.Holder
	mempool      *mempoolstate.Cell
	vlog         *verdictlog.Log
	// OnVerdict, if set, is called with each verdict's marshaled JSON
	// after it is logged, feeding the dashboard's /ws/verdicts push.
	OnVerdict func(json []byte)
}

// New builds a Server. holder, mempool, and vlog are shared with the HTTP
// admin surface.
func New(holder *policy.Holder, mempool *mempoolstate.Cell, vlog *verdictlog.Log) *Server {
	return &Server{policyHolder: holder, mempool: mempool, vlog: vlog}
}

// Serve accepts connections on ln until ctx is canceled or ln is closed.
// Each accepted connection is handled on its own goroutine; Serve itself
// never blocks on a slow peer.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(conn, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warnf("connection read error: %v", err)
			}
			return
		}
	}
}

func (s *Server) handleLine(conn net.Conn, line []byte) {
	var req protocol.TemplatePropose
	if err := json.Unmarshal(line, &req); err != nil {
		// Malformed input: skip the line, emit no verdict, keep the
		// connection open (spec.md §7).
		log.Warnf("skipping malformed template line: %v", err)
		return
	}

	cfg := s.policyHolder.Snapshot()
	mempoolTx := s.mempool.TxCount()
	result := policy.Evaluate(req, cfg, mempoolTx)

	entry := s.vlog.Append(verdictlog.Entry{
		TemplateID:      req.ID,
		Height:          req.BlockHeight,
		TotalFees:       req.TotalFees,
		TxCount:         req.TxCount,
		Accepted:        result.Accepted,
		Tier:            string(result.Tier),
		FloorUsed:       result.FloorUsed,
		AvgFeeSatsPerTx: result.AvgFeeSats,
		ReasonCode:      string(result.ReasonCode),
	})

	if s.OnVerdict != nil {
		if b, err := json.Marshal(entry); err == nil {
			s.OnVerdict(b)
		}
	}

	verdict := policy.ToWire(req, result, protocol.ProtocolVersion)
	b, err := json.Marshal(verdict)
	if err != nil {
		log.Errorf("marshal verdict for template id=%d: %v", req.ID, err)
		return
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		log.Warnf("write verdict for template id=%d: %v", req.ID, err)
	}
}
