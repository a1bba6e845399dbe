// Command demo-bridge is a standalone template source standing in for a
// Stratum V2-style job bridge: it synthesizes an incrementing stream of
// candidate block templates over TCP for the template manager's streaming
// backend to consume (spec.md §4.1 "streaming backend", original
// services/sv2-bridge). It is a development fixture, not a chain node
// adapter: the total_fees default is intentionally low (an average of 20
// sats/tx at the default tx_count), so a policy whose active fee floor is
// above that rejects every template it emits. The permissive fallback
// policy (policy.Default) has zero floors and accepts them.
package main

import (
	"encoding/json"
	"net"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/protocol"
)

var log = logging.NewSubsystem("demo-bridge")

// bridgeConfig mirrors the producer's VELDRA_BRIDGE_* env surface.
type bridgeConfig struct {
	ListenAddr   string `long:"listen-addr" env:"VELDRA_BRIDGE_ADDR" default:"127.0.0.1:3333" description:"address the bridge listens on"`
	IntervalSecs uint64 `long:"interval-secs" env:"VELDRA_BRIDGE_INTERVAL_SECS" default:"5" description:"seconds between synthesized templates per connection"`
	StartHeight  uint32 `long:"start-height" env:"VELDRA_BRIDGE_START_HEIGHT" default:"500" description:"block height of the first synthesized template"`
	TxCount      uint32 `long:"tx-count" env:"VELDRA_BRIDGE_TX_COUNT" default:"5" description:"tx_count reported on every synthesized template"`
	TotalFees    uint64 `long:"total-fees" env:"VELDRA_BRIDGE_TOTAL_FEES" default:"100" description:"total_fees reported on every synthesized template; low on purpose so a policy with a fee floor rejects"`
}

const (
	prevHashZero      = "0000000000000000000000000000000000000000000000000000000000000000"
	coinbaseValueSats = 625_000_000 // 6.25 coins in satoshi-equivalent units
)

func main() {
	var cfg bridgeConfig
	parser := flags.NewParser(&cfg, flags.IgnoreUnknown|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		log.Errorf("failed to parse configuration: %v", err)
		return
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Errorf("listen on %s: %v", cfg.ListenAddr, err)
		return
	}
	defer ln.Close()

	log.Infof("demo-bridge listening on %s (interval=%ds start_height=%d tx_count=%d total_fees=%d)",
		cfg.ListenAddr, cfg.IntervalSecs, cfg.StartHeight, cfg.TxCount, cfg.TotalFees)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("accept: %v", err)
			return
		}
		log.Infof("new template-manager connection from %s", conn.RemoteAddr())
		go handleClient(conn, cfg)
	}
}

// handleClient emits one synthesized TemplatePropose per interval until the
// peer disconnects. Each connection gets its own independent id/height
// counters, matching the original bridge's per-connection state.
func handleClient(conn net.Conn, cfg bridgeConfig) {
	defer conn.Close()

	var id uint64 = 1
	height := cfg.StartHeight
	interval := time.Duration(cfg.IntervalSecs) * time.Second

	for {
		tpl := protocol.TemplatePropose{
			Version:       protocol.ProtocolVersion,
			ID:            id,
			BlockHeight:   height,
			PrevHash:      prevHashZero,
			CoinbaseValue: coinbaseValueSats,
			TxCount:       cfg.TxCount,
			TotalFees:     cfg.TotalFees,
		}

		b, err := json.Marshal(tpl)
		if err != nil {
			log.Errorf("marshal template id=%d: %v", id, err)
			return
		}
		b = append(b, '\n')
		if _, err := conn.Write(b); err != nil {
			log.Warnf("write template id=%d: %v", id, err)
			return
		}
		log.Infof("sent template id=%d height=%d total_fees=%d tx_count=%d", id, height, cfg.TotalFees, cfg.TxCount)

		id++
		height++
		time.Sleep(interval)
	}
}
