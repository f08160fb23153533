// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package poll provides deadline-bounded condition waiting with a fixed
// interval. There is no backoff: the intervals involved (process exit, RPC
// warmup) are short and bounded, and a predictable cadence keeps log output
// legible.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrNoDeadline is returned when the provided context has no deadline. An
// unbounded wait can hang the orchestrator forever on a node that never
// comes up.
var ErrNoDeadline = errors.New("unable to poll without a context deadline")

// Wait evaluates condition at the given interval (immediately first) until it
// returns true, returns an error, or the context expires.
func Wait(ctx context.Context, interval time.Duration, condition func(context.Context) (bool, error)) error {
	if _, ok := ctx.Deadline(); !ok {
		return ErrNoDeadline
	}
	if err := wait.PollUntilContextCancel(ctx, interval, true /*=immediate*/, condition); err != nil {
		return fmt.Errorf("failed waiting for condition: %w", err)
	}
	return nil
}
