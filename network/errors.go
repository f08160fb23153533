// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a mutating operation arrives while another
	// is in flight. Mutating operations are serialized, never interleaved.
	ErrBusy = errors.New("network operation already in progress")

	// ErrNodeNotReady is returned when an operation requires a node whose
	// RPC endpoint has not answered a probe.
	ErrNodeNotReady = errors.New("node not ready")
)

// Bootstrap step names, in execution order.
const (
	StepStop        = "stop"
	StepClean       = "clean"
	StepStart       = "start"
	StepWaitReady   = "wait-ready"
	StepWalletSetup = "wallet-setup"
	StepMine        = "mine-maturity"
	StepSnapshot    = "snapshot"
)

// BootstrapError reports which bootstrap step failed. Progress made by
// earlier steps is not rolled back; the next bootstrap starts from a stop.
type BootstrapError struct {
	Step  string
	Cause error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap failed at step %q: %s", e.Step, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}
