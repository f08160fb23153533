// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package process supervises detached bitcoind processes: start with a PID
// file, point-in-time liveness checks, SIGTERM teardown, and guarded removal
// of run state.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/poll"
)

const (
	pidFileName = "run.pid"
	logFileName = "node.log"

	// A process that dies within the grace window after launch (bad flags,
	// corrupt datadir, port collision) is reported as a launch failure
	// rather than discovered later by a failed readiness probe.
	defaultGraceWindow = 2 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start when a live process already
	// owns the data directory.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrUnsafeClean is returned by Clean while the process is running.
	ErrUnsafeClean = errors.New("refusing to clean the data directory of a running process")
)

// LaunchError reports a process that could not be started or that exited
// immediately after starting.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %s", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Supervisor manages a single detached process rooted in a data directory.
// The PID file in the data directory is the only persisted record; liveness
// is always re-derived from it, so a restarted control process converges on
// the truth held by the OS.
type Supervisor struct {
	log          *zap.Logger
	binPath      string
	dataDir      string
	args         []string
	pollInterval time.Duration
	graceWindow  time.Duration
}

// NewSupervisor returns a supervisor for binPath rooted at dataDir. The args
// are passed verbatim on every start.
func NewSupervisor(log *zap.Logger, binPath, dataDir string, args []string, pollInterval time.Duration) *Supervisor {
	return &Supervisor{
		log:          log,
		binPath:      binPath,
		dataDir:      dataDir,
		args:         args,
		pollInterval: pollInterval,
		graceWindow:  defaultGraceWindow,
	}
}

func (s *Supervisor) pidPath() string {
	return filepath.Join(s.dataDir, pidFileName)
}

// Start launches the process detached from the control process and confirms
// it survives a short grace window. Returns ErrAlreadyRunning if a live
// process already owns the data directory.
func (s *Supervisor) Start(ctx context.Context) error {
	path, err := exec.LookPath(s.binPath)
	if err != nil {
		return &LaunchError{Path: s.binPath, Err: err}
	}

	if proc, err := s.liveProcess(); err != nil {
		return err
	} else if proc != nil {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, proc.Pid)
	}
	if err := s.clearStalePIDFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return &LaunchError{Path: path, Err: err}
	}

	logFile, err := os.OpenFile(filepath.Join(s.dataDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &LaunchError{Path: path, Err: err}
	}
	defer logFile.Close()

	cmd := exec.Command(path, s.args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureDetach(cmd)
	if err := cmd.Start(); err != nil {
		return &LaunchError{Path: path, Err: err}
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(s.pidPath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return &LaunchError{Path: path, Err: fmt.Errorf("writing pid file: %w", err)}
	}

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		_ = cmd.Wait()
	}()

	s.log.Info("started process",
		zap.String("path", path),
		zap.String("dataDir", s.dataDir),
		zap.Int("pid", pid),
	)

	// Hold the grace window: surviving until the deadline is success, an
	// observed exit is a launch failure.
	graceCtx, cancel := context.WithTimeout(ctx, s.graceWindow)
	defer cancel()
	err = poll.Wait(graceCtx, s.pollInterval, func(context.Context) (bool, error) {
		if !processAlive(pid) {
			return false, &LaunchError{Path: path, Err: fmt.Errorf("exited during startup, see %s", filepath.Join(s.dataDir, logFileName))}
		}
		return false, nil
	})
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		_ = s.clearStalePIDFile()
		return launchErr
	}
	// Only graceCtx's own expiry means the process survived the window;
	// the caller's context running out mid-grace is a failure to confirm.
	if ctx.Err() != nil {
		return fmt.Errorf("failed to confirm launch of %s: %w", path, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// InitiateStop delivers SIGTERM without waiting for exit. Success when no
// process is running.
func (s *Supervisor) InitiateStop() error {
	proc, err := s.liveProcess()
	if err != nil {
		return err
	}
	if proc == nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal pid %d: %w", proc.Pid, err)
	}
	s.log.Info("initiated stop", zap.String("dataDir", s.dataDir), zap.Int("pid", proc.Pid))
	return nil
}

// WaitForStopped polls until no process remains, then removes the PID file.
func (s *Supervisor) WaitForStopped(ctx context.Context) error {
	err := poll.Wait(ctx, s.pollInterval, func(context.Context) (bool, error) {
		proc, err := s.liveProcess()
		if err != nil {
			return false, err
		}
		return proc == nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed waiting for process in %s to stop: %w", s.dataDir, err)
	}
	return s.clearStalePIDFile()
}

// Stop is InitiateStop followed by WaitForStopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	if err := s.InitiateStop(); err != nil {
		return err
	}
	return s.WaitForStopped(ctx)
}

// IsRunning reports point-in-time liveness derived from the PID file.
func (s *Supervisor) IsRunning() bool {
	proc, err := s.liveProcess()
	return err == nil && proc != nil
}

// Clean removes the data directory. It refuses while the process is running:
// deleting a live node's datadir corrupts its chainstate.
func (s *Supervisor) Clean() error {
	if s.IsRunning() {
		return fmt.Errorf("%w: %s", ErrUnsafeClean, s.dataDir)
	}
	if err := os.RemoveAll(s.dataDir); err != nil {
		return fmt.Errorf("failed to clean %s: %w", s.dataDir, err)
	}
	return nil
}

// liveProcess returns the running process recorded in the PID file, or nil
// if the file is absent, unreadable as a PID, or names a dead process.
func (s *Supervisor) liveProcess() (*os.Process, error) {
	raw, err := os.ReadFile(s.pidPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		// Treat garbage as stale; the caller clears it before starting.
		return nil, nil
	}
	if !processAlive(pid) {
		return nil, nil
	}
	return os.FindProcess(pid)
}

func (s *Supervisor) clearStalePIDFile() error {
	if err := os.Remove(s.pidPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
