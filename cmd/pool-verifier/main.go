// Command pool-verifier runs the admission-control verifier: a TCP
// listener evaluating proposed block templates against a hot-swappable
// policy, and an HTTP surface for observability and policy control
// (spec.md §4.2, §4.3, §6).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldra-pool/reservegrid/internal/config"
	"github.com/veldra-pool/reservegrid/internal/httpapi"
	"github.com/veldra-pool/reservegrid/internal/logging"
	"github.com/veldra-pool/reservegrid/internal/mempoolclient"
	"github.com/veldra-pool/reservegrid/internal/mempoolstate"
	"github.com/veldra-pool/reservegrid/internal/policy"
	"github.com/veldra-pool/reservegrid/internal/protocol"
	"github.com/veldra-pool/reservegrid/internal/verdictlog"
	"github.com/veldra-pool/reservegrid/internal/verifierserver"
)

var log = logging.NewSubsystem("pool-verifier")

// mempoolSamplePeriod is how often the verifier refreshes its view of the
// producer's mempool snapshot when a mempool URL is configured.
const mempoolSamplePeriod = 5 * time.Second

func main() {
	cfg, err := config.LoadVerifierConfig(os.Args[1:])
	if err != nil {
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

	// Per spec.md §4.3: any load/validate failure falls back to a safe
	// permissive policy and the process stays up in degraded mode rather
	// than aborting.
	holder := policy.Load(cfg.PolicyFile, protocol.ProtocolVersion)
	if holder.Degraded() {
		log.Warnf("running in safe degraded mode: policy file %s could not be loaded", cfg.PolicyFile)
	}

	vlog, err := verdictlog.Open(cfg.VerdictLog)
	if err != nil {
		log.Errorf("failed to open verdict log %s: %v", cfg.VerdictLog, err)
		os.Exit(1)
	}
	defer vlog.Close()

	mempool := mempoolstate.New()
	if cfg.MempoolURL != "" {
		go sampleMempool(cfg.MempoolURL, mempool)
	}

	// Bind both listeners before starting the TCP and HTTP serve loops, so a port conflict
	// aborts startup immediately rather than failing silently later
	// (spec.md §4.1: "HTTP listener bound before producer loop starts").
	tcpLn, err := net.Listen("tcp", cfg.TCPBindAddr)
	if err != nil {
		log.Errorf("TCP listener %s already in use or unavailable: %v", cfg.TCPBindAddr, err)
		os.Exit(1)
	}
	httpLn, err := net.Listen("tcp", cfg.HTTPBindAddr)
	if err != nil {
		log.Errorf("HTTP listener %s already in use or unavailable: %v", cfg.HTTPBindAddr, err)
		os.Exit(1)
	}

	api := httpapi.NewVerifierServer(holder, vlog, cfg.MempoolURL, cfg.Mode)
	httpServer := &http.Server{Handler: api.Handler()}

	vserver := verifierserver.New(holder, mempool, vlog)
	vserver.OnVerdict = api.Hub().Broadcast

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopWatch := make(chan struct{})
	go holder.WatchFile(protocol.ProtocolVersion, stopWatch)
	defer close(stopWatch)

	exit := make(chan error, 2)
	go func() { exit <- vserver.Serve(ctx, tcpLn) }()
	go func() { exit <- httpServer.Serve(httpLn) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	log.Infof("pool-verifier listening: tcp=%s http=%s mode=%s", cfg.TCPBindAddr, cfg.HTTPBindAddr, cfg.Mode)

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

func sampleMempool(url string, cell *mempoolstate.Cell) {
	client := mempoolclient.New(url)
	ticker := time.NewTicker(mempoolSamplePeriod)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), mempoolclient.Deadline)
		snap, err := client.Fetch(ctx)
		cancel()
		if err != nil {
			log.Warnf("mempool sample failed: %v", err)
			continue
		}
		cell.Set(snap)
	}
}
