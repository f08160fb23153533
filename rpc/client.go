// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// bitcoind error codes tolerated during wallet setup. A wallet that already
// exists on disk or is already loaded is the desired end state, not a
// failure.
const (
	codeWalletExists        = -4
	codeWalletAlreadyLoaded = -35
)

// Client is a typed client for one bitcoind node. Wallet-scoped methods go
// through the node's /wallet/<name> endpoint so multi-wallet nodes resolve
// calls unambiguously.
type Client struct {
	node   Requester
	wallet Requester

	walletName string
}

// NewClient returns a client for the node at baseURL, with wallet-scoped
// calls bound to walletName.
func NewClient(baseURL, user, password, walletName string, timeout time.Duration) *Client {
	return &Client{
		node:       NewRequester(baseURL, user, password, timeout),
		wallet:     NewRequester(fmt.Sprintf("%s/wallet/%s", baseURL, walletName), user, password, timeout),
		walletName: walletName,
	}
}

// NewClientFromRequesters supports injecting fake requesters in tests.
func NewClientFromRequesters(node, wallet Requester, walletName string) *Client {
	return &Client{node: node, wallet: wallet, walletName: walletName}
}

// WalletName returns the wallet this client's wallet-scoped calls target.
func (c *Client) WalletName() string {
	return c.walletName
}

func (c *Client) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var info NetworkInfo
	err := c.node.SendRequest(ctx, "getnetworkinfo", nil, &info)
	return info, err
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (BlockchainInfo, error) {
	var info BlockchainInfo
	err := c.node.SendRequest(ctx, "getblockchaininfo", nil, &info)
	return info, err
}

func (c *Client) GetWalletInfo(ctx context.Context) (WalletInfo, error) {
	var info WalletInfo
	err := c.wallet.SendRequest(ctx, "getwalletinfo", nil, &info)
	return info, err
}

func (c *Client) ListWallets(ctx context.Context) ([]string, error) {
	var wallets []string
	err := c.node.SendRequest(ctx, "listwallets", nil, &wallets)
	return wallets, err
}

func (c *Client) LoadWallet(ctx context.Context, name string) error {
	return c.node.SendRequest(ctx, "loadwallet", []interface{}{name}, nil)
}

// CreateWallet creates the named wallet, treating already-exists and
// already-loaded responses as success.
func (c *Client) CreateWallet(ctx context.Context, name string) error {
	var result CreateWalletResult
	err := c.node.SendRequest(ctx, "createwallet", []interface{}{name}, &result)
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == codeWalletExists || rpcErr.Code == codeWalletAlreadyLoaded {
			return nil
		}
	}
	return err
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var addr string
	err := c.wallet.SendRequest(ctx, "getnewaddress", nil, &addr)
	return addr, err
}

// GenerateToAddress mines n blocks paying the given address and returns the
// block hashes.
func (c *Client) GenerateToAddress(ctx context.Context, n int, addr string) ([]string, error) {
	var hashes []string
	err := c.wallet.SendRequest(ctx, "generatetoaddress", []interface{}{n, addr}, &hashes)
	return hashes, err
}

// SendToAddress transfers amount BTC to addr at the given explicit fee rate
// (sat/vB). Named params are required here: fee_rate is the 10th positional
// argument of sendtoaddress and skipping the preceding ones positionally is
// error-prone.
func (c *Client) SendToAddress(ctx context.Context, addr string, amount, feeRate float64) (string, error) {
	var txid string
	err := c.wallet.SendRequest(ctx, "sendtoaddress", map[string]interface{}{
		"address":  addr,
		"amount":   amount,
		"fee_rate": feeRate,
	}, &txid)
	return txid, err
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := c.wallet.SendRequest(ctx, "getbalance", nil, &balance)
	return balance, err
}

// Stop asks the node to shut down over RPC. Process-level teardown prefers
// SIGTERM; this exists for callers driving a node they did not launch.
func (c *Client) Stop(ctx context.Context) error {
	return c.node.SendRequest(ctx, "stop", nil, nil)
}

func (c *Client) Uptime(ctx context.Context) (int64, error) {
	var seconds int64
	err := c.node.SendRequest(ctx, "uptime", nil, &seconds)
	return seconds, err
}

// EnsureWallet makes the client's wallet available for wallet-scoped calls:
// if it is already loaded this is a no-op, otherwise it is loaded from disk,
// otherwise it is created.
func (c *Client) EnsureWallet(ctx context.Context) error {
	wallets, err := c.ListWallets(ctx)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		if w == c.walletName {
			return nil
		}
	}
	if err := c.LoadWallet(ctx, c.walletName); err == nil {
		return nil
	} else if errors.Is(err, ErrUnreachable) {
		return err
	}
	return c.CreateWallet(ctx, c.walletName)
}
