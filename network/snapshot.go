// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

// Per-node status values surfaced to the front-end.
const (
	StatusOnline  = "online"
	StatusOffline = "offline/starting"
)

// NodeInfo is the per-node view served to the front-end.
type NodeInfo struct {
	Status      string  `json:"status"`
	Blocks      int64   `json:"blocks"`
	Balance     float64 `json:"balance"`
	Connections int     `json:"connections"`
	Difficulty  float64 `json:"difficulty"`
	Version     int     `json:"version,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the whole network.
type Snapshot struct {
	State string   `json:"state"`
	RunID string   `json:"runId,omitempty"`
	Node1 NodeInfo `json:"node1"`
	Node2 NodeInfo `json:"node2"`
}
