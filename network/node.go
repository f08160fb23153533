// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwatts201708/bitcoin-testnet-box/config"
	"github.com/jwatts201708/bitcoin-testnet-box/poll"
	"github.com/jwatts201708/bitcoin-testnet-box/rpc"
)

// Process is the supervisor surface the orchestrator depends on.
type Process interface {
	Start(ctx context.Context) error
	InitiateStop() error
	WaitForStopped(ctx context.Context) error
	IsRunning() bool
	Clean() error
}

// Client is the node RPC surface the orchestrator depends on.
type Client interface {
	GetNetworkInfo(ctx context.Context) (rpc.NetworkInfo, error)
	GetBlockchainInfo(ctx context.Context) (rpc.BlockchainInfo, error)
	EnsureWallet(ctx context.Context) error
	GetNewAddress(ctx context.Context) (string, error)
	GenerateToAddress(ctx context.Context, n int, addr string) ([]string, error)
	SendToAddress(ctx context.Context, addr string, amount, feeRate float64) (string, error)
	GetBalance(ctx context.Context) (float64, error)
}

// Node pairs a supervised process with its RPC client.
type Node struct {
	Config config.NodeConfig

	proc   Process
	client Client

	// Miner address minted once per bootstrap and reused by every mining
	// call, so the miner identity is stable across a session. Guarded by
	// the network's operation gate.
	minerAddr string
}

// NewNode wires a node from its parts. Used directly by tests; production
// wiring goes through New.
func NewNode(cfg config.NodeConfig, proc Process, client Client) *Node {
	return &Node{Config: cfg, proc: proc, client: client}
}

// minerAddress returns the cached miner address, minting one if needed.
func (n *Node) minerAddress(ctx context.Context) (string, error) {
	if n.minerAddr != "" {
		return n.minerAddr, nil
	}
	addr, err := n.client.GetNewAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("minting miner address on node %d: %w", n.Config.ID, err)
	}
	n.minerAddr = addr
	return addr, nil
}

// probeReady issues a single readiness probe.
func (n *Node) probeReady(ctx context.Context) error {
	if _, err := n.client.GetNetworkInfo(ctx); err != nil {
		return fmt.Errorf("%w: node %d: %s", ErrNodeNotReady, n.Config.ID, err)
	}
	return nil
}

// awaitReady polls the node's RPC endpoint until getnetworkinfo succeeds or
// the context expires. Transport failures and node-reported errors (e.g. -28
// warmup) both mean "keep waiting"; a deadline maps to ErrNodeNotReady.
func (n *Node) awaitReady(ctx context.Context, interval time.Duration) error {
	err := poll.Wait(ctx, interval, func(ctx context.Context) (bool, error) {
		_, err := n.client.GetNetworkInfo(ctx)
		if err == nil {
			return true, nil
		}
		var rpcErr *rpc.Error
		if errors.Is(err, rpc.ErrUnreachable) || errors.As(err, &rpcErr) {
			// Not listening yet, or listening but still warming up.
			return false, nil
		}
		return false, err
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, poll.ErrNoDeadline) {
		return fmt.Errorf("%w: node %d: %s", ErrNodeNotReady, n.Config.ID, err)
	}
	return err
}
