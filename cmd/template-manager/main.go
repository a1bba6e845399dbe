// Command template-manager acquires candidate block templates from a
// chain node (by polling its RPC surface or by receiving a stream from a
// bridge process), normalizes and deduplicates them, and dispatches each
// genuinely new one to the verifier over TCP (spec.md §4.1, §6).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldra-pool/reservegrid/internal/chainrpc"
	"github.com/veldra-pool/reservegrid/internal/config"
	"github.com/veldra-pool/reservegrid/internal/dispatch"
	"github.com/veldra-pool/reservegrid/internal/httpapi"
	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/mempoolstate"
	"github.com/veldra-pool/reservegrid/internal/protocol"
	"github.com/veldra-pool/reservegrid/internal/source"
	"github.com/veldra-pool/reservegrid/internal/templatelog"
)

var log = logging.NewSubsystem("template-manager")

func main() {
	cfg, err := config.LoadProducerConfig(os.Args[1:])
	if err != nil {
		// Unlike the verifier, the producer has no safe degraded mode to
		// fall back to: a broken config means it cannot know where to
		// fetch work from or where to send it, so startup aborts
		// (spec.md §7: "configuration failure ... producer aborts
		// startup").
		os.Exit(2)
	}

	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.Warnf("invalid log level %q, keeping default: %v", cfg.LogLevel, err)
	}
	if cfg.LogFile != "" {
		rotator, err := logging.NewRotator(cfg.LogFile)
		if err != nil {
			log.Errorf("failed to open log file %s: %v", cfg.LogFile, err)
		} else {
			logging.Configure(rotator)
			defer rotator.Close()
		}
	}

	httpLn, err := net.Listen("tcp", cfg.HTTPBindAddr)
	if err != nil {
		log.Errorf("HTTP listener %s already in use or unavailable: %v", cfg.HTTPBindAddr, err)
		os.Exit(1)
	}

	tlog := templatelog.New()
	mempool := mempoolstate.New()
	api := httpapi.NewProducerServer(tlog, mempool)
	httpServer := &http.Server{Handler: api.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tsrc source.TemplateSource
	switch cfg.Backend {
	case "streaming":
		tsrc = source.NewStreamingSource(ctx, cfg.BridgeAddr)
		log.Infof("using streaming backend against bridge %s", cfg.BridgeAddr)
	default:
		client := chainrpc.NewClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword, 4*time.Second)
		tsrc = source.NewPollingSource(client, []string{"segwit"})
		log.Infof("using polling backend against %s", cfg.RPCURL)
		go sampleMempoolRPC(ctx, client, mempool)
	}

	disp := dispatch.New(cfg.VerifierAddr)

	exit := make(chan error, 2)
	go func() { exit <- httpServer.Serve(httpLn) }()

	pollInterval := time.Duration(cfg.PollIntervalSecs) * time.Second
	streaming := cfg.Backend == "streaming"
	go func() { exit <- runManagerLoop(ctx, tsrc, disp, tlog, pollInterval, streaming) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Infof("template-manager started: http=%s verifier=%s backend=%s", cfg.HTTPBindAddr, cfg.VerifierAddr, cfg.Backend)

	select {
	case <-sig:
		log.Info("received shutdown signal")
		cancel()
		httpServer.Close()
	case err := <-exit:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("a top-level task exited: %v", err)
			os.Exit(1)
		}
	}
}

// runManagerLoop is the polling-cadence (or event-driven, for streaming)
// dispatch loop: pull the next template, send it, log it, repeat
// (spec.md §4.1, §5). A failed dispatch is logged and the loop continues to
// the next tick. An error from the template source itself (the source
// reporting that it is broken) ends the loop and is returned.
func runManagerLoop(ctx context.Context, tsrc source.TemplateSource, disp *dispatch.Client, tlog *templatelog.Log, pollInterval time.Duration, streaming bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tpl, err := tsrc.NextTemplate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("template source failed: %v", err)
			return err
		}
		if tpl != nil {
			sendCtx, cancel := context.WithTimeout(ctx, dispatch.OverallTimeout)
			verdict, err := disp.Send(sendCtx, *tpl)
			cancel()
			if err != nil {
				log.Warnf("failed to dispatch template id=%d: %v", tpl.ID, err)
			} else {
				log.Infof("template id=%d height=%d accepted=%v reason=%s", tpl.ID, tpl.BlockHeight, verdict.Accepted, verdict.ReasonCode)
			}
			tlog.Append(templatelog.NewEntry(tpl.ID, tpl.BlockHeight, tpl.CoinbaseValue, tpl.TotalFees, backendLabel(streaming)))
		}

		if streaming {
			// NextTemplate already blocked until the bridge pushed
			// something or ctx ended (spec.md §4.1: "event-driven, no
			// artificial sleep") — loop straight back for the next one.
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

func backendLabel(streaming bool) string {
	if streaming {
		return "streaming"
	}
	return "polling"
}

// sampleMempoolRPC periodically samples the chain node's mempool over RPC
// and stores the result for GET /mempool (spec.md §4.1: "mempool sampling
// each tick, polling backend only, same 3x/200ms retry").
func sampleMempoolRPC(ctx context.Context, client *chainrpc.Client, cell *mempoolstate.Cell) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		info, err := client.GetMempoolInfo(ctx)
		if err != nil {
			log.Warnf("mempool sample failed: %v", err)
			continue
		}
		cell.Set(protocol.MempoolSnapshot{
			TxCount:     info.TxCount,
			Bytes:       info.Bytes,
			Usage:       info.Usage,
			Max:         info.Max,
			MinRelayFee: info.MinRelayFee,
			Timestamp:   uint64(time.Now().Unix()),
			LoadedFrom:  "rpc",
		})
	}
}
