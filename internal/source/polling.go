package source

import (
	"context"

	"github.com/veldra-pool/reservegrid/internal/chainrpc"
	"github.com/veldra-pool/reservegrid/internal/fingerprint"
	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/protocol"
)

var log = logging.NewSubsystem("source")

// PollingSource fetches a candidate template from a chain node's RPC
// surface on every call, deduplicating by fingerprint against the last
// template it returned (spec.md §4.1's BitcoindTemplateSource-equivalent
// behavior).
type PollingSource struct {
	client *chainrpc.Client
	rules  []string

	lastFP   *fingerprint.Fingerprint
	hadError bool
}

// NewPollingSource builds a source backed by client.
func NewPollingSource(client *chainrpc.Client, rules []string) *PollingSource {
	return &PollingSource{client: client, rules: rules}
}

// NextTemplate fetches the current block template, normalizes it, and
// returns it only if its fingerprint differs from the last one returned.
// A failed fetch (already retried inside GetBlockTemplate) is logged and
// reported as "no new template this tick", never a hard error, so the
// manager loop continues to the next tick (spec.md §4.1's failure
// isolation rule).
func (s *PollingSource) NextTemplate(ctx context.Context) (*protocol.TemplatePropose, error) {
	bt, err := s.client.GetBlockTemplate(ctx, s.rules)
	if err != nil {
		s.hadError = true
		log.Warnf("polling source: giving up for this tick: %v", err)
		return nil, nil
	}
	if s.hadError {
		log.Infof("polling source recovered")
		s.hadError = false
	}

	fp := fingerprint.New(bt.Height, bt.PrevHash, bt.TxCount, bt.TotalFees, bt.TxIDs)
	if s.lastFP != nil && s.lastFP.Equal(fp) {
		return nil, nil
	}
	s.lastFP = &fp
	log.Infof("polling source: new template height=%d coinbase=%s total_fees=%d", bt.Height, bt.CoinbaseCoin, bt.TotalFees)

	return &protocol.TemplatePropose{
		Version:       protocol.ProtocolVersion,
		ID:            fingerprint.StableID(fp),
		BlockHeight:   bt.Height,
		PrevHash:      bt.PrevHash,
		CoinbaseValue: bt.CoinbaseValue,
		TxCount:       bt.TxCount,
		TotalFees:     bt.TotalFees,
	}, nil
}
