package chainrpc

import (
	"context"
	"time"

	"github.com/veldra-pool/reservegrid/pkg/satoshi"
)

// RetryAttempts and RetryBackoff match spec.md §4.1/§5's documented RPC
// retry policy for both getblocktemplate and getmempoolinfo calls.
const (
	RetryAttempts = 3
	RetryBackoff  = 200 * time.Millisecond
)

// blockTemplateReply is the subset of getblocktemplate's reply this system
// consumes (height, previousblockhash, per-tx fee/txid, and an optional
// node-reported coinbase value).
type blockTemplateReply struct {
	Height            uint32 `json:"height"`
	PreviousBlockHash string `json:"previousblockhash"`
	CoinbaseValue     uint64 `json:"coinbasevalue"`
	Transactions      []struct {
		TxID string `json:"txid"`
		Fee  uint64 `json:"fee"`
	} `json:"transactions"`
}

// BlockTemplate is the normalized shape this system works with internally,
// derived from blockTemplateReply by GetBlockTemplate.
type BlockTemplate struct {
	Height        uint32
	PrevHash      string
	CoinbaseValue uint64
	CoinbaseCoin  string // satoshi.Amount-formatted CoinbaseValue, for logs and display
	TxIDs         []string
	TotalFees     uint64
	TxCount       uint32
}

// GetBlockTemplate fetches and normalizes a candidate block template,
// retrying per RetryAttempts/RetryBackoff (spec.md §4.1's failure-isolation
// rule: every external call is retried and logged, never fatal to the
// caller's loop).
func (c *Client) GetBlockTemplate(ctx context.Context, rules []string) (BlockTemplate, error) {
	var reply blockTemplateReply
	err := withRetry(ctx, RetryAttempts, RetryBackoff, "getblocktemplate", func() error {
		params := map[string]interface{}{"rules": rules}
		return c.Call(ctx, &reply, "getblocktemplate", params)
	})
	if err != nil {
		return BlockTemplate{}, err
	}

	bt := BlockTemplate{
		Height:   reply.Height,
		PrevHash: reply.PreviousBlockHash,
		TxCount:  uint32(len(reply.Transactions)),
	}
	bt.TxIDs = make([]string, 0, len(reply.Transactions))
	for _, tx := range reply.Transactions {
		bt.TotalFees += tx.Fee
		bt.TxIDs = append(bt.TxIDs, tx.TxID)
	}

	if reply.CoinbaseValue > 0 {
		bt.CoinbaseValue = reply.CoinbaseValue
	} else {
		bt.CoinbaseValue = BlockSubsidy(bt.Height) + bt.TotalFees
	}
	bt.CoinbaseCoin = satoshi.Amount(bt.CoinbaseValue).String()
	return bt, nil
}

// maxHalvings is the point at which the block subsidy saturates to zero
// (spec.md §4.1: "saturating to 0 after 63 halvings").
const maxHalvings = 63

// initialSubsidy is 50 coin, the genesis-era block subsidy.
const initialSubsidy = 50 * satoshi.SatoshiPerCoin

// subsidyHalvingInterval matches the well-known 210,000 block interval
// spec.md's block_subsidy formula is defined over.
const subsidyHalvingInterval = 210000

// BlockSubsidy computes the coinbase subsidy at height h:
// (50 * 10^8) >> (h / 210000), saturating to 0 once the shift would exceed
// 63 halvings (spec.md §4.1).
func BlockSubsidy(height uint32) uint64 {
	halvings := height / subsidyHalvingInterval
	if halvings >= maxHalvings {
		return 0
	}
	return satoshi.Amount(initialSubsidy).ToSatoshi() >> halvings
}

// mempoolInfoReply is the subset of getmempoolinfo's reply this system
// consumes.
type mempoolInfoReply struct {
	Size          uint64  `json:"size"`
	Bytes         uint64  `json:"bytes"`
	Usage         uint64  `json:"usage"`
	MaxMempool    uint64  `json:"maxmempool"`
	MinRelayTxFee float64 `json:"mempoolminfee"`
}

// MempoolInfo is the normalized mempool snapshot this system stores
// (spec.md §3's MempoolSnapshot).
type MempoolInfo struct {
	TxCount     uint64
	Bytes       uint64
	Usage       uint64
	Max         uint64
	MinRelayFee uint64
}

// GetMempoolInfo fetches and normalizes a mempool snapshot, retrying per
// the same policy as GetBlockTemplate. MinRelayTxFee is reported by the
// node in coin/kB; it is converted to an integer sats figure via
// satoshi.NewAmount the same way any other coin-denominated RPC reply
// field is normalized on this system's data path.
func (c *Client) GetMempoolInfo(ctx context.Context) (MempoolInfo, error) {
	var reply mempoolInfoReply
	err := withRetry(ctx, RetryAttempts, RetryBackoff, "getmempoolinfo", func() error {
		return c.Call(ctx, &reply, "getmempoolinfo")
	})
	if err != nil {
		return MempoolInfo{}, err
	}
	minRelay, err := satoshi.NewAmount(reply.MinRelayTxFee)
	if err != nil {
		log.Warnf("getmempoolinfo: invalid mempoolminfee %v: %v", reply.MinRelayTxFee, err)
		minRelay = 0
	}
	return MempoolInfo{
		TxCount:     reply.Size,
		Bytes:       reply.Bytes,
		Usage:       reply.Usage,
		Max:         reply.MaxMempool,
		MinRelayFee: minRelay.ToSatoshi(),
	}, nil
}
