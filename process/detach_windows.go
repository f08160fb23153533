// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build windows

package process

import "os/exec"

func configureDetach(_ *exec.Cmd) {}
