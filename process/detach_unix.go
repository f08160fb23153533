// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureDetach puts the child in its own session so it survives the
// control process and is not delivered the control process's signals.
func configureDetach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
