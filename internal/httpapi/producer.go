package httpapi

import (
	"errors"
	"io"
	"net/http"

	"go.sia.tech/jape"

	"github.com/veldra-pool/reservegrid/internal/mempoolstate"
	"github.com/veldra-pool/reservegrid/internal/templatelog"
)

// ProducerServer serves the template manager's small HTTP surface
// (spec.md §6): health, recent templates, and the latest mempool
// snapshot.
type ProducerServer struct {
	tlog    *templatelog.Log
	mempool *mempoolstate.Cell
}

// NewProducerServer builds the producer's HTTP handler set.
func NewProducerServer(tlog *templatelog.Log, mempool *mempoolstate.Cell) *ProducerServer {
	return &ProducerServer{tlog: tlog, mempool: mempool}
}

// Handler builds the jape-routed http.Handler for the producer's endpoints.
func (s *ProducerServer) Handler() http.Handler {
	handlers := map[string]jape.Handler{
		"GET /health":   s.handleHealth,
		"GET /templates": s.handleTemplates,
		"GET /mempool":  s.handleMempool,
	}
	return jape.Mux(handlers)
}

func (s *ProducerServer) handleHealth(jc jape.Context) {
	jc.ResponseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(jc.ResponseWriter, "ok")
}

func (s *ProducerServer) handleTemplates(jc jape.Context) {
	jc.Encode(s.tlog.Recent())
}

func (s *ProducerServer) handleMempool(jc jape.Context) {
	snap, ok := s.mempool.Get()
	if !ok {
		jc.Error(errors.New("no mempool snapshot sampled yet"), http.StatusServiceUnavailable)
		return
	}
	jc.Encode(snap)
}
