// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BitcoindPathKey  = "bitcoind-path"
	BitcoinBinDirKey = "bitcoin-bin-dir"
	DataDir1Key      = "data-dir-1"
	DataDir2Key      = "data-dir-2"
	APIAddrKey       = "api-addr"
	FeeRateKey       = "fee-rate"
	PollIntervalKey  = "poll-interval"
	ReadyTimeoutKey  = "ready-timeout"
	StopTimeoutKey   = "stop-timeout"
	RPCTimeoutKey    = "rpc-timeout"
	LogLevelKey      = "log-level"
	LogDirKey        = "log-dir"
)

// envKeys maps flag keys to the environment variables the original tooling
// honored. Flags win over env vars, env vars win over defaults.
var envKeys = map[string]string{
	BitcoinBinDirKey: "BITCOIN_BIN_DIR",
	DataDir1Key:      "DATA_DIR_1",
	DataDir2Key:      "DATA_DIR_2",
}

// AddFlags registers all network flags on the provided FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(BitcoindPathKey, "bitcoind", "path to the bitcoind executable")
	fs.String(BitcoinBinDirKey, "", "directory containing the bitcoind executable (overrides --"+BitcoindPathKey+")")
	fs.String(DataDir1Key, DefaultDataDir1, "data directory for node 1")
	fs.String(DataDir2Key, DefaultDataDir2, "data directory for node 2")
	fs.String(APIAddrKey, DefaultAPIAddr, "listen address for the control API")
	fs.Float64(FeeRateKey, DefaultFeeRate, "fee rate (sat/vB) for transfers")
	fs.Duration(PollIntervalKey, DefaultPollInterval, "interval between readiness and exit polls")
	fs.Duration(ReadyTimeoutKey, DefaultReadyTimeout, "per-node deadline for RPC readiness")
	fs.Duration(StopTimeoutKey, DefaultStopTimeout, "deadline for a node to exit after stop")
	fs.Duration(RPCTimeoutKey, DefaultRPCTimeout, "per-call RPC timeout")
	fs.String(LogLevelKey, "info", "log level (debug, info, warn, error)")
	fs.String(LogDirKey, "", "if set, also write rotated JSON logs to this directory")
}

// BuildViper binds the FlagSet and the supported environment variables into a
// fresh viper instance.
func BuildViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	return v, nil
}
