// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"os"
	"strings"
)

const confPerms = 0o600

// WriteNodeConfigs materializes each node's data directory and bitcoin.conf.
// Node 2 is configured to dial node 1, giving the fixed two-node topology.
func (c *Config) WriteNodeConfigs() error {
	peerP2PPort := c.Nodes[0].P2PPort
	for i, nc := range c.Nodes {
		var peerAddr string
		if i == 1 {
			peerAddr = fmt.Sprintf("%s:%d", c.Nodes[0].RPCHost, peerP2PPort)
		}
		if err := writeNodeConfig(nc, peerAddr); err != nil {
			return fmt.Errorf("writing config for node %d: %w", nc.ID, err)
		}
	}
	return nil
}

func writeNodeConfig(nc NodeConfig, peerAddr string) error {
	if err := os.MkdirAll(nc.DataDir, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("regtest=1\n")
	b.WriteString("server=1\n")
	b.WriteString("daemon=0\n")
	b.WriteString("[regtest]\n")
	fmt.Fprintf(&b, "rpcuser=%s\n", nc.RPCUser)
	fmt.Fprintf(&b, "rpcpassword=%s\n", nc.RPCPassword)
	fmt.Fprintf(&b, "rpcport=%d\n", nc.RPCPort)
	fmt.Fprintf(&b, "rpcbind=%s\n", nc.RPCHost)
	fmt.Fprintf(&b, "rpcallowip=%s\n", nc.RPCHost)
	fmt.Fprintf(&b, "port=%d\n", nc.P2PPort)
	// Regtest blocks carry no fee history for the estimator, so give
	// fallback-reliant RPCs something to work with.
	b.WriteString("fallbackfee=0.0002\n")
	if peerAddr != "" {
		fmt.Fprintf(&b, "connect=%s\n", peerAddr)
	}
	return os.WriteFile(nc.ConfPath(), []byte(b.String()), confPerms)
}
