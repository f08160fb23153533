// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

// NetworkInfo is the subset of getnetworkinfo this tool consumes.
type NetworkInfo struct {
	Version     int    `json:"version"`
	Subversion  string `json:"subversion"`
	Connections int    `json:"connections"`
}

// BlockchainInfo is the subset of getblockchaininfo this tool consumes.
type BlockchainInfo struct {
	Chain      string  `json:"chain"`
	Blocks     int64   `json:"blocks"`
	BestHash   string  `json:"bestblockhash"`
	Difficulty float64 `json:"difficulty"`
}

// WalletInfo is the subset of getwalletinfo this tool consumes.
type WalletInfo struct {
	WalletName string  `json:"walletname"`
	Balance    float64 `json:"balance"`
	TxCount    int64   `json:"txcount"`
}

// CreateWalletResult reports the wallet name and any warning emitted on
// creation.
type CreateWalletResult struct {
	Name    string `json:"name"`
	Warning string `json:"warning"`
}
