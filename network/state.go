// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

// State describes where the orchestrator is in the network lifecycle. It is
// advisory: liveness is always re-derived from the processes and their RPC
// endpoints, never from this value alone.
type State string

const (
	StateStopped      State = "stopped"
	StateStopping     State = "stopping"
	StateCleaning     State = "cleaning"
	StateStarting     State = "starting"
	StateWaitingReady State = "waiting-ready"
	StateWalletSetup  State = "wallet-setup"
	StateMining       State = "mining"
	StateReady        State = "ready"
	StateTransacting  State = "transacting"
)
