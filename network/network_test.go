// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/config"
	"github.com/jwatts201708/bitcoin-testnet-box/rpc"
)

// fakeProcess is an in-memory Process recording the call order. Clean wipes
// the paired client's simulated chain the way the real Clean wipes the
// datadir.
type fakeProcess struct {
	mu      sync.Mutex
	running bool
	log     *[]string
	id      int
	client  *fakeClient

	startErr error
}

func (p *fakeProcess) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, fmt.Sprintf("proc%d.%s", p.id, op))
}

func (p *fakeProcess) Start(context.Context) error {
	p.record("start")
	if p.startErr != nil {
		return p.startErr
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) InitiateStop() error {
	p.record("initiateStop")
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) WaitForStopped(context.Context) error {
	p.record("waitForStopped")
	return nil
}

func (p *fakeProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProcess) Clean() error {
	p.record("clean")
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("refusing to clean while running")
	}
	p.mu.Unlock()
	p.client.resetChain()
	return nil
}

// fakeClient is an in-memory Client. Readiness is gated on the owning
// process being "running" plus a configurable number of warmup probes.
type fakeClient struct {
	mu   sync.Mutex
	proc *fakeProcess
	log  *[]string
	id   int

	warmupProbes int
	probes       int
	addrSeq      int
	balance      float64
	blocks       int64

	sendErr error
}

// resetChain discards the simulated chain state, leaving scripted behavior
// (warmup probe count, balances, errors) in place.
func (c *fakeClient) resetChain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = 0
	c.probes = 0
	c.addrSeq = 0
}

func (c *fakeClient) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.log = append(*c.log, fmt.Sprintf("client%d.%s", c.id, op))
}

func (c *fakeClient) ready() error {
	if !c.proc.IsRunning() {
		return fmt.Errorf("%w: connection refused", rpc.ErrUnreachable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes++
	if c.probes <= c.warmupProbes {
		return &rpc.Error{Code: -28, Message: "Loading block index..."}
	}
	return nil
}

func (c *fakeClient) GetNetworkInfo(context.Context) (rpc.NetworkInfo, error) {
	if err := c.ready(); err != nil {
		return rpc.NetworkInfo{}, err
	}
	return rpc.NetworkInfo{Version: 250000, Subversion: "/Satoshi:25.0.0/", Connections: 1}, nil
}

func (c *fakeClient) GetBlockchainInfo(context.Context) (rpc.BlockchainInfo, error) {
	if !c.proc.IsRunning() {
		return rpc.BlockchainInfo{}, fmt.Errorf("%w: connection refused", rpc.ErrUnreachable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return rpc.BlockchainInfo{Chain: "regtest", Blocks: c.blocks}, nil
}

func (c *fakeClient) EnsureWallet(context.Context) error {
	c.record("ensureWallet")
	return nil
}

func (c *fakeClient) GetNewAddress(context.Context) (string, error) {
	c.record("getNewAddress")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrSeq++
	return fmt.Sprintf("bcrt1qnode%daddr%d", c.id, c.addrSeq), nil
}

func (c *fakeClient) GenerateToAddress(_ context.Context, n int, addr string) ([]string, error) {
	c.record(fmt.Sprintf("generate(%d,%s)", n, addr))
	c.mu.Lock()
	defer c.mu.Unlock()
	hashes := make([]string, n)
	for i := range hashes {
		c.blocks++
		hashes[i] = fmt.Sprintf("hash%d", c.blocks)
	}
	return hashes, nil
}

func (c *fakeClient) SendToAddress(_ context.Context, addr string, amount, feeRate float64) (string, error) {
	c.record(fmt.Sprintf("send(%s,%v,%v)", addr, amount, feeRate))
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return "txid123", nil
}

func (c *fakeClient) GetBalance(context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

type fixture struct {
	net     *Network
	procs   [2]*fakeProcess
	clients [2]*fakeClient
	ops     *[]string
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default()
	cfg.Nodes[0].DataDir = filepath.Join(t.TempDir(), "1")
	cfg.Nodes[1].DataDir = filepath.Join(t.TempDir(), "2")
	cfg.PollInterval = time.Millisecond
	cfg.ReadyTimeout = 250 * time.Millisecond
	cfg.StopTimeout = 250 * time.Millisecond

	ops := &[]string{}
	f := &fixture{ops: ops}
	var nodes [2]*Node
	for i := 0; i < 2; i++ {
		proc := &fakeProcess{id: i + 1, log: ops}
		client := &fakeClient{id: i + 1, proc: proc, log: ops}
		proc.client = client
		f.procs[i] = proc
		f.clients[i] = client
		nodes[i] = NewNode(cfg.Nodes[i], proc, client)
	}
	f.net = NewFromNodes(zap.NewNop(), cfg, nodes[0], nodes[1])
	return f
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (f *fixture) opIndex(t *testing.T, op string) int {
	for i, o := range *f.ops {
		if o == op {
			return i
		}
	}
	t.Fatalf("operation %q never happened; log: %v", op, *f.ops)
	return -1
}

func TestBootstrapHappyPath(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.clients[0].warmupProbes = 2 // node 1 warms up slower than node 2

	snap, err := f.net.Bootstrap(testCtx(t))
	require.NoError(err)

	require.Equal(string(StateReady), snap.State)
	require.NotEmpty(snap.RunID)
	require.Equal(StatusOnline, snap.Node1.Status)
	require.Equal(StatusOnline, snap.Node2.Status)
	require.Equal(int64(MaturityBlocks), snap.Node1.Blocks)
	// The node's numeric protocol version, as getnetworkinfo reports it.
	require.Equal(250000, snap.Node1.Version)

	// Wallet setup happens only after both processes start; mining only
	// after both wallets exist.
	require.Greater(f.opIndex(t, "client1.ensureWallet"), f.opIndex(t, "proc2.start"))
	require.Greater(f.opIndex(t, "client1.getNewAddress"), f.opIndex(t, "client2.ensureWallet"))
	require.Contains(*f.ops, fmt.Sprintf("client1.generate(%d,bcrt1qnode1addr1)", MaturityBlocks))
}

func TestBootstrapIsIdempotent(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)

	first, err := f.net.Bootstrap(ctx)
	require.NoError(err)
	second, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	// A re-bootstrap resets and rebuilds rather than accumulating: both
	// runs end on a fresh maturity-height chain.
	require.Equal(int64(MaturityBlocks), first.Node1.Blocks)
	require.Equal(int64(MaturityBlocks), second.Node1.Blocks)
	require.NotEqual(first.RunID, second.RunID)

	// The second run stopped and cleaned before restarting.
	require.GreaterOrEqual(countOps(*f.ops, "proc1.initiateStop"), 1)
	require.GreaterOrEqual(countOps(*f.ops, "proc1.clean"), 2)
}

func countOps(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func TestBootstrapCleansOnlyAfterConfirmedStop(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)
	_, err = f.net.Bootstrap(ctx)
	require.NoError(err)

	// fakeProcess.Clean fails if called while running, so two clean
	// bootstraps prove the ordering invariant held both times.
	require.Greater(f.opIndex(t, "proc1.clean"), f.opIndex(t, "proc1.waitForStopped"))
}

func TestBootstrapTimesOutOnDeafNode(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.clients[1].warmupProbes = 1 << 30 // node 2 never becomes ready

	start := time.Now()
	_, err := f.net.Bootstrap(testCtx(t))
	require.Error(err)
	require.Less(time.Since(start), 5*time.Second, "bootstrap must fail by deadline, not hang")

	var bErr *BootstrapError
	require.ErrorAs(err, &bErr)
	require.Equal(StepWaitReady, bErr.Step)
	require.ErrorIs(err, ErrNodeNotReady)

	// Processes are left running for inspection; no rollback kill.
	require.True(f.procs[0].IsRunning())
	require.True(f.procs[1].IsRunning())
}

func TestMutatingOpsAreSingleFlight(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.True(f.net.gate.TryLock())
	defer f.net.gate.Unlock()

	_, err := f.net.Bootstrap(testCtx(t))
	require.ErrorIs(err, ErrBusy)
	require.ErrorIs(f.net.Stop(testCtx(t)), ErrBusy)
	_, err = f.net.Generate(testCtx(t), 1)
	require.ErrorIs(err, ErrBusy)
	_, err = f.net.Send(testCtx(t), "bcrt1qdest", 1)
	require.ErrorIs(err, ErrBusy)
}

func TestInfoNeverBlocksWhileBusy(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	require.True(f.net.gate.TryLock())
	defer f.net.gate.Unlock()

	snap := f.net.Info(ctx)
	require.Equal(StatusOnline, snap.Node1.Status)
}

func TestInfoReportsOfflineNodes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	snap := f.net.Info(testCtx(t))

	require.Equal(StatusOffline, snap.Node1.Status)
	require.Equal(StatusOffline, snap.Node2.Status)
	require.NotEmpty(snap.Node1.Error)
	require.Equal(string(StateStopped), snap.State)
}

func TestGenerateReusesMinerAddress(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	_, err = f.net.Generate(ctx, 2)
	require.NoError(err)
	_, err = f.net.Generate(ctx, 3)
	require.NoError(err)

	// One address for the whole session: bootstrap mint plus reuse.
	require.Equal(1, countOps(*f.ops, "client1.getNewAddress"))
	require.Contains(*f.ops, "client1.generate(2,bcrt1qnode1addr1)")
	require.Contains(*f.ops, "client1.generate(3,bcrt1qnode1addr1)")
}

func TestGenerateRejectsNonPositiveCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.net.Generate(testCtx(t), 0)
	require.Error(t, err)
	_, err = f.net.Generate(testCtx(t), -5)
	require.Error(t, err)
}

func TestGenerateRequiresReadyNode(t *testing.T) {
	f := newFixture(t)
	_, err := f.net.Generate(testCtx(t), 1)
	require.ErrorIs(t, err, ErrNodeNotReady)
}

func TestSendUsesConfiguredFeeRate(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	txid, err := f.net.Send(ctx, "bcrt1qdest", 10)
	require.NoError(err)
	require.Equal("txid123", txid)
	require.Contains(*f.ops, fmt.Sprintf("client1.send(bcrt1qdest,10,%v)", f.net.cfg.FeeRate))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.net.Send(ctx, "", 10)
	require.Error(t, err)
	_, err = f.net.Send(ctx, "bcrt1qdest", 0)
	require.Error(t, err)
	_, err = f.net.Send(ctx, "bcrt1qdest", -1)
	require.Error(t, err)
	// Validation failures never reach the node.
	require.Equal(t, 0, countOps(*f.ops, "client1.send(bcrt1qdest,10,25)"))
}

func TestSendPassesNodeErrorsThrough(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	f.clients[0].sendErr = &rpc.Error{Code: -6, Message: "Insufficient funds"}
	_, err = f.net.Send(ctx, "bcrt1qdest", 10000)
	var rpcErr *rpc.Error
	require.ErrorAs(err, &rpcErr)
	require.Equal(-6, rpcErr.Code)
}

func TestNewAddressPerNode(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	addr2, err := f.net.NewAddress(ctx, 2)
	require.NoError(err)
	require.Contains(addr2, "node2")

	// Fresh address per call.
	addr2b, err := f.net.NewAddress(ctx, 2)
	require.NoError(err)
	require.NotEqual(addr2, addr2b)

	_, err = f.net.NewAddress(ctx, 3)
	require.Error(err)
}

func TestStopWhenAlreadyStoppedSucceeds(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.NoError(f.net.Stop(testCtx(t)))
	require.Equal(StateStopped, f.net.State())
}

func TestStopAfterBootstrap(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ctx := testCtx(t)
	_, err := f.net.Bootstrap(ctx)
	require.NoError(err)

	require.NoError(f.net.Stop(ctx))
	require.False(f.procs[0].IsRunning())
	require.False(f.procs[1].IsRunning())
	require.Equal(StateStopped, f.net.State())
}

func TestDemoEndToEnd(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.clients[0].balance = 50
	f.clients[1].balance = DemoAmount

	report, err := f.net.Demo(testCtx(t))
	require.NoError(err)
	require.Equal("txid123", report.TxID)
	require.Contains(report.Address, "node2")
	require.Equal(DemoAmount, report.Node2Balance)

	// The confirming block was mined after the send.
	require.Greater(f.opIndex(t, "client1.generate(1,bcrt1qnode1addr1)"),
		f.opIndex(t, fmt.Sprintf("client1.send(%s,%v,%v)", report.Address, DemoAmount, f.net.cfg.FeeRate)))
}
