// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network orchestrates a two-node bitcoind regtest network: reset
// and bootstrap to a mined, spendable chain, ad hoc mining and transfers,
// and teardown.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jwatts201708/bitcoin-testnet-box/config"
	"github.com/jwatts201708/bitcoin-testnet-box/process"
	"github.com/jwatts201708/bitcoin-testnet-box/rpc"
)

// MaturityBlocks is the regtest coinbase maturity plus one: mining this many
// blocks makes exactly one coinbase spendable.
const MaturityBlocks = 101

// Network drives the two-node topology. Node 1 is the miner and the source
// of funds; node 2 is the receiver.
type Network struct {
	log *zap.Logger
	cfg *config.Config

	nodes [2]*Node

	// gate serializes mutating operations (bootstrap, stop, generate,
	// send). TryLock turns contention into ErrBusy instead of queueing.
	gate sync.Mutex

	// stateMu also guards runID, which a concurrent Info may read while an
	// asynchronous bootstrap rewrites it.
	stateMu sync.RWMutex
	state   State
	runID   string
}

// New wires a network from config: one supervisor and one RPC client per
// node.
func New(log *zap.Logger, cfg *config.Config) *Network {
	n := &Network{
		log:   log,
		cfg:   cfg,
		state: StateStopped,
	}
	for i, nc := range cfg.Nodes {
		proc := process.NewSupervisor(
			log.With(zap.Int("node", nc.ID)),
			cfg.BitcoindPath,
			nc.DataDir,
			[]string{"-datadir=" + nc.DataDir},
			cfg.PollInterval,
		)
		client := rpc.NewClient(nc.RPCBaseURL(), nc.RPCUser, nc.RPCPassword, nc.WalletName, cfg.RPCTimeout)
		n.nodes[i] = NewNode(nc, proc, client)
	}
	return n
}

// NewFromNodes wires a network from pre-built nodes. Used by tests to inject
// fakes.
func NewFromNodes(log *zap.Logger, cfg *config.Config, node1, node2 *Node) *Network {
	return &Network{
		log:   log,
		cfg:   cfg,
		nodes: [2]*Node{node1, node2},
		state: StateStopped,
	}
}

// State returns the orchestrator's current lifecycle state.
func (n *Network) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

func (n *Network) setState(s State) {
	n.stateMu.Lock()
	n.state = s
	n.stateMu.Unlock()
	n.log.Debug("state changed", zap.String("state", string(s)))
}

// Bootstrap resets the network and brings it to a mined, spendable chain:
// stop, clean, start, await readiness, set up wallets, mine to maturity.
// Idempotent: running it on a live network produces an equivalent fresh one.
func (n *Network) Bootstrap(ctx context.Context) (Snapshot, error) {
	if !n.gate.TryLock() {
		return Snapshot{}, ErrBusy
	}
	defer n.gate.Unlock()
	return n.bootstrapLocked(ctx)
}

// BootstrapAsync starts a bootstrap in the background, bounded by the
// configured bootstrap timeout. Returns ErrBusy if another mutating
// operation is in flight; progress is observed via Info.
func (n *Network) BootstrapAsync() error {
	if !n.gate.TryLock() {
		return ErrBusy
	}
	go func() {
		defer n.gate.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.BootstrapTimeout)
		defer cancel()
		if _, err := n.bootstrapLocked(ctx); err != nil {
			n.log.Error("bootstrap failed", zap.Error(err))
		}
	}()
	return nil
}

func (n *Network) bootstrapLocked(ctx context.Context) (Snapshot, error) {
	runID := uuid.NewString()
	n.stateMu.Lock()
	n.runID = runID
	n.stateMu.Unlock()
	log := n.log.With(zap.String("runID", runID))
	log.Info("bootstrapping network")

	n.setState(StateStopping)
	if err := n.stopNodes(ctx); err != nil {
		return Snapshot{}, n.failBootstrap(StepStop, err)
	}

	n.setState(StateCleaning)
	if err := n.cleanNodes(); err != nil {
		return Snapshot{}, n.failBootstrap(StepClean, err)
	}

	n.setState(StateStarting)
	for _, node := range n.nodes {
		if err := node.proc.Start(ctx); err != nil {
			return Snapshot{}, n.failBootstrap(StepStart, err)
		}
	}

	// Both nodes warm up concurrently, each against its own deadline. A
	// node that never opens its port fails the bootstrap but is left
	// running for post-mortem inspection.
	n.setState(StateWaitingReady)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, node := range n.nodes {
		node := node
		eg.Go(func() error {
			readyCtx, cancel := context.WithTimeout(egCtx, n.cfg.ReadyTimeout)
			defer cancel()
			return node.awaitReady(readyCtx, n.cfg.PollInterval)
		})
	}
	if err := eg.Wait(); err != nil {
		return Snapshot{}, n.failBootstrap(StepWaitReady, err)
	}

	n.setState(StateWalletSetup)
	for _, node := range n.nodes {
		node.minerAddr = ""
		if err := node.client.EnsureWallet(ctx); err != nil {
			return Snapshot{}, n.failBootstrap(StepWalletSetup, fmt.Errorf("node %d: %w", node.Config.ID, err))
		}
	}

	n.setState(StateMining)
	miner := n.nodes[0]
	addr, err := miner.minerAddress(ctx)
	if err != nil {
		return Snapshot{}, n.failBootstrap(StepMine, err)
	}
	if _, err := miner.client.GenerateToAddress(ctx, MaturityBlocks, addr); err != nil {
		return Snapshot{}, n.failBootstrap(StepMine, err)
	}
	log.Info("mined to coinbase maturity", zap.Int("blocks", MaturityBlocks), zap.String("minerAddress", addr))

	n.setState(StateReady)
	snap := n.snapshot(ctx)
	log.Info("network ready",
		zap.Int64("node1Blocks", snap.Node1.Blocks),
		zap.Float64("node1Balance", snap.Node1.Balance),
	)
	return snap, nil
}

func (n *Network) failBootstrap(step string, err error) error {
	bErr := &BootstrapError{Step: step, Cause: err}
	n.log.Error("bootstrap step failed", zap.String("step", step), zap.Error(err))
	return bErr
}

// Stop tears both nodes down gracefully. Success when already stopped.
func (n *Network) Stop(ctx context.Context) error {
	if !n.gate.TryLock() {
		return ErrBusy
	}
	defer n.gate.Unlock()

	n.setState(StateStopping)
	if err := n.stopNodes(ctx); err != nil {
		return err
	}
	n.setState(StateStopped)
	n.log.Info("network stopped")
	return nil
}

// stopNodes initiates stop on both nodes before waiting on either, so the
// shutdowns overlap. Failures are joined so one node's error does not hide
// the other's.
func (n *Network) stopNodes(ctx context.Context) error {
	var errs []error
	for _, node := range n.nodes {
		if err := node.proc.InitiateStop(); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", node.Config.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	for _, node := range n.nodes {
		stopCtx, cancel := context.WithTimeout(ctx, n.cfg.StopTimeout)
		err := node.proc.WaitForStopped(stopCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", node.Config.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Network) cleanNodes() error {
	for _, node := range n.nodes {
		if err := node.proc.Clean(); err != nil {
			return fmt.Errorf("node %d: %w", node.Config.ID, err)
		}
	}
	return n.cfg.WriteNodeConfigs()
}

// Generate mines blocks on node 1 paying its session miner address.
func (n *Network) Generate(ctx context.Context, blocks int) ([]string, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("block count must be positive, got %d", blocks)
	}
	if !n.gate.TryLock() {
		return nil, ErrBusy
	}
	defer n.gate.Unlock()

	miner := n.nodes[0]
	if err := miner.probeReady(ctx); err != nil {
		return nil, err
	}
	if err := miner.client.EnsureWallet(ctx); err != nil {
		return nil, err
	}
	addr, err := miner.minerAddress(ctx)
	if err != nil {
		return nil, err
	}

	n.setState(StateMining)
	defer n.setState(StateReady)
	hashes, err := miner.client.GenerateToAddress(ctx, blocks, addr)
	if err != nil {
		return nil, err
	}
	n.log.Info("mined blocks", zap.Int("blocks", blocks))
	return hashes, nil
}

// Send transfers amount BTC from node 1's wallet to addr at the configured
// fixed fee rate.
func (n *Network) Send(ctx context.Context, addr string, amount float64) (string, error) {
	if addr == "" {
		return "", errors.New("destination address must not be empty")
	}
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive, got %v", amount)
	}
	if !n.gate.TryLock() {
		return "", ErrBusy
	}
	defer n.gate.Unlock()

	sender := n.nodes[0]
	if err := sender.probeReady(ctx); err != nil {
		return "", err
	}
	if err := sender.client.EnsureWallet(ctx); err != nil {
		return "", err
	}

	n.setState(StateTransacting)
	defer n.setState(StateReady)
	txid, err := sender.client.SendToAddress(ctx, addr, amount, n.cfg.FeeRate)
	if err != nil {
		return "", err
	}
	n.log.Info("sent transfer",
		zap.String("address", addr),
		zap.Float64("amount", amount),
		zap.String("txid", txid),
	)
	return txid, nil
}

// NewAddress mints a fresh receive address from the given node's wallet.
// Read-mostly: it does not take the operation gate, so a front-end can fetch
// an address while a transfer is in flight.
func (n *Network) NewAddress(ctx context.Context, nodeID int) (string, error) {
	node, err := n.node(nodeID)
	if err != nil {
		return "", err
	}
	if err := node.probeReady(ctx); err != nil {
		return "", err
	}
	if err := node.client.EnsureWallet(ctx); err != nil {
		return "", err
	}
	return node.client.GetNewAddress(ctx)
}

func (n *Network) node(id int) (*Node, error) {
	for _, node := range n.nodes {
		if node.Config.ID == id {
			return node, nil
		}
	}
	return nil, fmt.Errorf("unknown node id %d", id)
}

// Info returns a point-in-time snapshot of both nodes. Never takes the
// operation gate and never blocks on readiness: an unreachable node is
// reported as offline/starting rather than delaying the response.
func (n *Network) Info(ctx context.Context) Snapshot {
	return n.snapshot(ctx)
}

func (n *Network) snapshot(ctx context.Context) Snapshot {
	n.stateMu.RLock()
	snap := Snapshot{
		State: string(n.state),
		RunID: n.runID,
	}
	n.stateMu.RUnlock()
	snap.Node1 = n.nodeInfo(ctx, n.nodes[0])
	snap.Node2 = n.nodeInfo(ctx, n.nodes[1])
	return snap
}

func (n *Network) nodeInfo(ctx context.Context, node *Node) NodeInfo {
	chainInfo, err := node.client.GetBlockchainInfo(ctx)
	if err != nil {
		return NodeInfo{
			Status: StatusOffline,
			Error:  err.Error(),
		}
	}
	info := NodeInfo{
		Status:     StatusOnline,
		Blocks:     chainInfo.Blocks,
		Difficulty: chainInfo.Difficulty,
	}
	if netInfo, err := node.client.GetNetworkInfo(ctx); err == nil {
		info.Connections = netInfo.Connections
		info.Version = netInfo.Version
	}
	// Balance is best-effort: the wallet may not be loaded outside a
	// bootstrapped session.
	if balance, err := node.client.GetBalance(ctx); err == nil {
		info.Balance = balance
	}
	return info
}
