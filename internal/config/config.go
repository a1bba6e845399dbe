// Package config defines the environment-and-flag-driven configuration
// for both binaries, using github.com/jessevdk/go-flags the way the
// teacher's cmd/flokicoind-cli/config.go does (long-form flags with
// descriptions), extended with env tags so every documented environment
// variable (spec.md §6) can set the same field. Absence of any of these
// is never fatal: every field carries a workable default.
package config

import (
	flags "github.com/jessevdk/go-flags"
)

// VerifierConfig is pool-verifier's configuration.
type VerifierConfig struct {
	TCPBindAddr  string `long:"tcp-bind" env:"VELDRA_VERIFIER_TCP_BIND" default:"127.0.0.1:7878" description:"address the verifier's TCP template listener binds to"`
	HTTPBindAddr string `long:"http-bind" env:"VELDRA_VERIFIER_HTTP_BIND" default:"127.0.0.1:8080" description:"address the verifier's HTTP admin API binds to"`
	PolicyFile   string `long:"policy-file" env:"VELDRA_POLICY_FILE" default:"policy.toml" description:"path to the policy TOML file"`
	VerdictLog   string `long:"verdict-log" env:"VELDRA_VERDICT_LOG" default:"data/verdicts.log" description:"path to the append-only verdict NDJSON log"`
	MempoolURL   string `long:"mempool-url" env:"VELDRA_MEMPOOL_URL" description:"URL of a mempool snapshot source the verifier proxies via GET /mempool"`
	Mode         string `long:"mode" env:"VELDRA_OPERATOR_MODE" default:"standalone" description:"operator-facing label reported at GET /meta"`
	LogLevel     string `long:"log-level" env:"VELDRA_LOG_LEVEL" default:"info" description:"log level: trace, debug, info, warn, error"`
	LogFile      string `long:"log-file" env:"VELDRA_LOG_FILE" description:"optional rotating operational log file path"`
}

// ProducerConfig is template-manager's configuration.
type ProducerConfig struct {
	HTTPBindAddr string `long:"http-bind" env:"VELDRA_PRODUCER_HTTP_BIND" default:"127.0.0.1:8081" description:"address the producer's HTTP admin API binds to"`
	VerifierAddr string `long:"verifier-addr" env:"VELDRA_VERIFIER_TCP_ADDR" default:"127.0.0.1:7878" description:"address of the verifier's TCP template listener"`

	Backend string `long:"backend" env:"VELDRA_BACKEND" default:"polling" description:"template source backend: polling or streaming"`

	RPCURL      string `long:"rpc-url" env:"VELDRA_RPC_URL" default:"http://127.0.0.1:15213" description:"chain node JSON-RPC endpoint (polling backend)"`
	RPCUser     string `long:"rpc-user" env:"VELDRA_RPC_USER" description:"chain node RPC username (polling backend)"`
	RPCPassword string `long:"rpc-pass" env:"VELDRA_RPC_PASS" description:"chain node RPC password (polling backend)"`

	BridgeAddr string `long:"bridge-addr" env:"VELDRA_BRIDGE_ADDR" default:"127.0.0.1:3333" description:"address of the streaming bridge (streaming backend)"`
	BridgeAuth string `long:"bridge-auth" env:"VELDRA_BRIDGE_AUTH" description:"optional auth token presented to the streaming bridge"`

	PollIntervalSecs int `long:"poll-interval-secs" env:"VELDRA_POLL_INTERVAL_SECS" default:"5" description:"polling backend tick cadence in seconds, minimum 1"`

	LogLevel string `long:"log-level" env:"VELDRA_LOG_LEVEL" default:"info" description:"log level: trace, debug, info, warn, error"`
	LogFile  string `long:"log-file" env:"VELDRA_LOG_FILE" description:"optional rotating operational log file path"`
}

// LoadVerifierConfig parses flags and environment variables into a
// VerifierConfig, applying the struct's defaults for anything unset.
func LoadVerifierConfig(args []string) (VerifierConfig, error) {
	var cfg VerifierConfig
	parser := flags.NewParser(&cfg, flags.IgnoreUnknown|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return VerifierConfig{}, err
	}
	return cfg, nil
}

// LoadProducerConfig parses flags and environment variables into a
// ProducerConfig.
func LoadProducerConfig(args []string) (ProducerConfig, error) {
	var cfg ProducerConfig
	parser := flags.NewParser(&cfg, flags.IgnoreUnknown|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return ProducerConfig{}, err
	}
	if cfg.PollIntervalSecs < 1 {
		cfg.PollIntervalSecs = 1
	}
	return cfg, nil
}
