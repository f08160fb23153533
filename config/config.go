// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults mirror the classic testnet-box layout: two sibling data
// directories named "1" and "2" with fixed regtest ports and credentials.
const (
	DefaultDataDir1 = "1"
	DefaultDataDir2 = "2"

	DefaultRPCPort1 = 19001
	DefaultRPCPort2 = 19011
	DefaultP2PPort1 = 19000
	DefaultP2PPort2 = 19010

	DefaultAPIAddr = "127.0.0.1:8000"

	// Flat fee rate (sat/vB) offered on every transfer. A fixed named rate
	// keeps send behavior deterministic on a chain with no mempool pressure;
	// the node's fee estimator has nothing to estimate from here.
	DefaultFeeRate = 25.0

	DefaultPollInterval     = 500 * time.Millisecond
	DefaultReadyTimeout     = 30 * time.Second
	DefaultStopTimeout      = 30 * time.Second
	DefaultRPCTimeout       = 10 * time.Second
	DefaultBootstrapTimeout = 5 * time.Minute
)

var (
	errSameDataDir = errors.New("node data directories must be distinct")
	errSamePort    = errors.New("node ports must be distinct")
)

// NodeConfig identifies one of the two network participants. Instances are
// immutable once the network is configured; a node is never reassigned to a
// different data directory across a stop/start cycle.
type NodeConfig struct {
	ID          int    `json:"id"`
	DataDir     string `json:"dataDir"`
	RPCHost     string `json:"rpcHost"`
	RPCPort     int    `json:"rpcPort"`
	P2PPort     int    `json:"p2pPort"`
	RPCUser     string `json:"rpcUser"`
	RPCPassword string `json:"rpcPassword"`
	WalletName  string `json:"walletName"`
}

// RPCBaseURL returns the URL of the node's JSON-RPC server.
func (nc NodeConfig) RPCBaseURL() string {
	return fmt.Sprintf("http://%s:%d", nc.RPCHost, nc.RPCPort)
}

// ConfPath returns the location of the node's bitcoin.conf.
func (nc NodeConfig) ConfPath() string {
	return filepath.Join(nc.DataDir, "bitcoin.conf")
}

// Config collects everything needed to provision and drive the two-node
// regtest network.
type Config struct {
	// Path to the bitcoind executable. A bare name is resolved via PATH.
	BitcoindPath string `json:"bitcoindPath"`

	// Listen address for the control API.
	APIAddr string `json:"apiAddr"`

	// Fee rate (sat/vB) passed to sendtoaddress.
	FeeRate float64 `json:"feeRate"`

	// Fixed interval for readiness and process-exit polling.
	PollInterval time.Duration `json:"pollInterval"`

	// Per-node deadline for the RPC server to answer its first probe.
	ReadyTimeout time.Duration `json:"readyTimeout"`

	// Deadline for a node process to exit after being told to stop.
	StopTimeout time.Duration `json:"stopTimeout"`

	// Per-call timeout for individual RPC requests.
	RPCTimeout time.Duration `json:"rpcTimeout"`

	// Overall deadline for an asynchronous bootstrap.
	BootstrapTimeout time.Duration `json:"bootstrapTimeout"`

	LogLevel string `json:"logLevel"`
	LogDir   string `json:"logDir"`

	Nodes [2]NodeConfig `json:"nodes"`
}

// Default returns a config with every field set to its default value.
func Default() *Config {
	return &Config{
		BitcoindPath:     "bitcoind",
		APIAddr:          DefaultAPIAddr,
		FeeRate:          DefaultFeeRate,
		PollInterval:     DefaultPollInterval,
		ReadyTimeout:     DefaultReadyTimeout,
		StopTimeout:      DefaultStopTimeout,
		RPCTimeout:       DefaultRPCTimeout,
		BootstrapTimeout: DefaultBootstrapTimeout,
		LogLevel:         "info",
		Nodes: [2]NodeConfig{
			{
				ID:          1,
				DataDir:     DefaultDataDir1,
				RPCHost:     "127.0.0.1",
				RPCPort:     DefaultRPCPort1,
				P2PPort:     DefaultP2PPort1,
				RPCUser:     "admin1",
				RPCPassword: "123",
				WalletName:  "wallet1",
			},
			{
				ID:          2,
				DataDir:     DefaultDataDir2,
				RPCHost:     "127.0.0.1",
				RPCPort:     DefaultRPCPort2,
				P2PPort:     DefaultP2PPort2,
				RPCUser:     "admin2",
				RPCPassword: "123",
				WalletName:  "wallet2",
			},
		},
	}
}

// New builds a validated config from the provided viper instance.
func New(v *viper.Viper) (*Config, error) {
	cfg := Default()

	cfg.BitcoindPath = bitcoindPathFromViper(v)
	cfg.APIAddr = v.GetString(APIAddrKey)
	cfg.FeeRate = v.GetFloat64(FeeRateKey)
	cfg.PollInterval = v.GetDuration(PollIntervalKey)
	cfg.ReadyTimeout = v.GetDuration(ReadyTimeoutKey)
	cfg.StopTimeout = v.GetDuration(StopTimeoutKey)
	cfg.RPCTimeout = v.GetDuration(RPCTimeoutKey)
	cfg.LogLevel = v.GetString(LogLevelKey)
	cfg.LogDir = v.GetString(LogDirKey)
	cfg.Nodes[0].DataDir = v.GetString(DataDir1Key)
	cfg.Nodes[1].DataDir = v.GetString(DataDir2Key)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bitcoindPathFromViper resolves the executable path, honoring the
// BITCOIN_BIN_DIR override the original tooling used.
func bitcoindPathFromViper(v *viper.Viper) string {
	if binDir := v.GetString(BitcoinBinDirKey); binDir != "" {
		return filepath.Join(binDir, "bitcoind")
	}
	if path := v.GetString(BitcoindPathKey); path != "" {
		return path
	}
	return "bitcoind"
}

func (c *Config) Validate() error {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	if filepath.Clean(n1.DataDir) == filepath.Clean(n2.DataDir) {
		return errSameDataDir
	}
	if n1.RPCPort == n2.RPCPort || n1.P2PPort == n2.P2PPort {
		return errSamePort
	}
	if c.FeeRate <= 0 {
		return fmt.Errorf("fee rate must be positive, got %v", c.FeeRate)
	}
	if c.PollInterval <= 0 || c.ReadyTimeout <= 0 || c.StopTimeout <= 0 {
		return errors.New("poll interval and timeouts must be positive")
	}
	return nil
}

// Node returns the config for the node with the given ID (1 or 2).
func (c *Config) Node(id int) (NodeConfig, error) {
	for _, nc := range c.Nodes {
		if nc.ID == id {
			return nc, nil
		}
	}
	return NodeConfig{}, fmt.Errorf("unknown node id %d", id)
}
