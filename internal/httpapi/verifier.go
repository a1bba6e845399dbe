// Package httpapi implements the verifier's and producer's HTTP admin
// surfaces with go.sia.tech/jape (spec.md §6), grounded on minerd's
// api-server.go pattern of a handlers map fed to jape.Mux.
package httpapi

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.sia.tech/jape"

	"github.com/veldra-pool/reservegrid/internal/dashboard"
	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/mempoolclient"
	"github.com/veldra-pool/reservegrid/internal/policy"
	"github.com/veldra-pool/reservegrid/internal/verdictlog"
)

var log = logging.NewSubsystem("httpapi")

// VerifierServer holds the shared state the verifier's HTTP handlers read
// and mutate: the policy holder, the verdict log, a mempool proxy client,
// and a live-push hub for /ws/verdicts.
type VerifierServer struct {
	holder        *policy.Holder
	vlog          *verdictlog.Log
	mempoolClient *mempoolclient.Client
	hub           *verdictHub
	mode          string
}

// NewVerifierServer builds the verifier's HTTP handler set. mempoolURL may
// be empty, in which case GET /mempool reports a 503.
func NewVerifierServer(holder *policy.Holder, vlog *verdictlog.Log, mempoolURL, mode string) *VerifierServer {
	var mc *mempoolclient.Client
	if mempoolURL != "" {
		mc = mempoolclient.New(mempoolURL)
	}
	return &VerifierServer{
		holder:        holder,
		vlog:          vlog,
		mempoolClient: mc,
		hub:           newVerdictHub(),
		mode:          mode,
	}
}

// Hub exposes the live-push broadcaster so the TCP verdict path (outside
// this package) can feed /ws/verdicts subscribers as verdicts are logged.
func (s *VerifierServer) Hub() *verdictHub { return s.hub }

// Handler builds the jape-routed http.Handler for all documented verifier
// endpoints (spec.md §6).
func (s *VerifierServer) Handler() http.Handler {
	handlers := map[string]jape.Handler{
		"GET /":              s.handleDashboard,
		"GET /ui":            s.handleDashboard,
		"GET /health":        s.handleHealth,
		"GET /verdicts":      s.handleVerdicts,
		"GET /verdicts/log":  s.handleVerdictsLog,
		"GET /verdicts.csv":  s.handleVerdictsCSV,
		"GET /stats":         s.handleStats,
		"GET /policy":        s.handlePolicy,
		"POST /policy/apply": s.handlePolicyApply,
		"POST /policy/apply_toml": s.handlePolicyApplyTOML,
		"GET /mempool":       s.handleMempool,
		"GET /meta":          s.handleMeta,
		"GET /ws/verdicts":   s.handleWS,
	}
	return jape.Mux(handlers)
}

func (s *VerifierServer) handleHealth(jc jape.Context) {
	jc.ResponseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(jc.ResponseWriter, "ok")
}

func (s *VerifierServer) handleVerdicts(jc jape.Context) {
	jc.Encode(s.vlog.Recent())
}

func (s *VerifierServer) handleVerdictsLog(jc jape.Context) {
	jc.ResponseWriter.Header().Set("Content-Type", "application/x-ndjson")
	if err := s.vlog.WriteNDJSON(jc.ResponseWriter); err != nil {
		log.Warnf("write ndjson verdict log: %v", err)
	}
}

func (s *VerifierServer) handleVerdictsCSV(jc jape.Context) {
	jc.ResponseWriter.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := s.vlog.WriteCSV(jc.ResponseWriter); err != nil {
		log.Warnf("write csv verdict log: %v", err)
	}
}

func (s *VerifierServer) handleStats(jc jape.Context) {
	jc.Encode(s.vlog.Stats())
}

func (s *VerifierServer) handlePolicy(jc jape.Context) {
	cfg := s.holder.Snapshot()
	hash := s.holder.ContentHash()
	jc.Encode(struct {
		policy.Config
		Degraded    bool   `json:"degraded"`
		ContentHash string `json:"content_hash"`
	}{
		Config:      cfg,
		Degraded:    s.holder.Degraded(),
		ContentHash: hashHex(hash),
	})
}

func (s *VerifierServer) handlePolicyApply(jc jape.Context) {
	body, err := io.ReadAll(jc.Request.Body)
	if jc.Check("failed to read request body", err) != nil {
		return
	}
	if err := s.holder.ApplyPatch(body, protocolVersionOf(s.holder)); err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}
	jc.ResponseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(jc.ResponseWriter, "ok")
}

func (s *VerifierServer) handlePolicyApplyTOML(jc jape.Context) {
	body, err := io.ReadAll(jc.Request.Body)
	if jc.Check("failed to read request body", err) != nil {
		return
	}
	if err := s.holder.ApplyTOML(body, protocolVersionOf(s.holder)); err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}
	jc.ResponseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(jc.ResponseWriter, "ok")
}

func (s *VerifierServer) handleMempool(jc jape.Context) {
	if s.mempoolClient == nil {
		jc.Error(errors.New("no mempool snapshot source configured"), http.StatusServiceUnavailable)
		return
	}
	snap, err := s.mempoolClient.Fetch(jc.Request.Context())
	if jc.Check("failed to proxy mempool snapshot", err) != nil {
		return
	}
	jc.Encode(snap)
}

func (s *VerifierServer) handleMeta(jc jape.Context) {
	jc.Encode(struct {
		Mode string `json:"mode"`
	}{Mode: s.mode})
}

func (s *VerifierServer) handleDashboard(jc jape.Context) {
	jc.ResponseWriter.Header().Set("Content-Type", "text/html; charset=utf-8")
	jc.ResponseWriter.Write(dashboard.Page())
}

func hashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// protocolVersionOf reads the currently active protocol_version so a
// hot-swap is validated against the same compiled constant the process
// started with, matching holder.Load's original validation target.
func protocolVersionOf(h *policy.Holder) uint16 {
	return h.Snapshot().ProtocolVersion
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *VerifierServer) handleWS(jc jape.Context) {
	conn, err := upgrader.Upgrade(jc.ResponseWriter, jc.Request, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	s.hub.serve(conn)
}

// verdictHub fans out logged verdicts to every connected /ws/verdicts
// client, grounded on the teacher's gorilla/websocket dependency (declared
// but never reached in the upstream tree's retrieved files; here it backs
// the dashboard's live feed).
type verdictHub struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
}

func newVerdictHub() *verdictHub {
	h := &verdictHub{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
	}
	go h.run()
	return h
}

func (h *verdictHub) run() {
	clients := make(map[*websocket.Conn]struct{})
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				c.Close()
			}
		case msg := <-h.broadcast:
			for c := range clients {
				c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(clients, c)
					c.Close()
				}
			}
		}
	}
}

// Broadcast pushes a freshly logged verdict to every connected client.
func (h *verdictHub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		log.Warnf("dashboard broadcast channel full, dropping one verdict update")
	}
}

func (h *verdictHub) serve(conn *websocket.Conn) {
	h.register <- conn
	defer func() { h.unregister <- conn }()

	// The dashboard never sends anything meaningful on this connection;
	// just drain reads until the peer disconnects so Close propagates.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
