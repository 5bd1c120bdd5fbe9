//go:build linux

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"rankoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultStdoutMaxBytes int64 = 64 * 1024

type linuxEngine struct {
	cfg EngineConfig
}

// NewEngine creates a Linux sandbox engine backed by the runner-init helper.
func NewEngine(cfg EngineConfig) (Engine, error) {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "runner-init"
	}
	if cfg.StdoutMaxBytes <= 0 {
		cfg.StdoutMaxBytes = defaultStdoutMaxBytes
	}
	if cfg.ExtraWallGrace <= 0 {
		cfg.ExtraWallGrace = 500 * time.Millisecond
	}
	return &linuxEngine{cfg: cfg}, nil
}

type initRequest struct {
	Spec          RunSpec `json:"spec"`
	EnableSeccomp bool    `json:"enable_seccomp"`
}

func (e *linuxEngine) Run(ctx context.Context, spec RunSpec) (RawResult, error) {
	if err := validateRunSpec(spec); err != nil {
		return RawResult{}, err
	}

	req := initRequest{
		Spec:          spec,
		EnableSeccomp: e.cfg.EnableSeccomp,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return RawResult{}, fmt.Errorf("encode init request: %w", err)
	}

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var helperStderr bytes.Buffer
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RawResult{}, fmt.Errorf("start helper: %w", err)
	}

	wallLimit := time.Duration(spec.Limits.WallTimeMs)*time.Millisecond + e.cfg.ExtraWallGrace
	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if spec.Limits.WallTimeMs > 0 {
			wallTimer = time.After(wallLimit)
		}
		select {
		case <-ctx.Done():
			killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if ctx.Err() != nil {
		return RawResult{}, ctx.Err()
	}

	state := cmd.ProcessState
	if state == nil {
		return RawResult{}, fmt.Errorf("process state unavailable: %v", waitErr)
	}

	res := RawResult{
		ExitCode:   exitCodeFromState(state, waitErr),
		CPUTimeMs:  cpuTimeMs(state),
		WallTimeMs: time.Since(start).Milliseconds(),
		MemoryKb:   maxRSSKb(state),
		TimedOut:   timedOut.Load(),
	}

	// The kernel OOM killer and RLIMIT_AS both surface as SIGKILL or an
	// allocation failure; attribute it to memory when peak usage reached
	// the ceiling.
	if spec.Limits.MemoryMB > 0 && res.MemoryKb >= spec.Limits.MemoryMB*1024 {
		res.OOMKilled = true
	}

	// CPU rlimit expiry delivers SIGKILL; treat it as a timeout.
	if !res.TimedOut && spec.Limits.CPUTimeMs > 0 && res.CPUTimeMs >= spec.Limits.CPUTimeMs {
		res.TimedOut = true
	}

	if waitErr != nil && res.ExitCode == 0 && !res.TimedOut && !res.OOMKilled {
		// Helper failed before exec; this is an infrastructure fault.
		logger.Warn(ctx, "runner helper failed",
			zap.String("stderr", helperStderr.String()),
			zap.Error(waitErr),
		)
		return RawResult{}, fmt.Errorf("helper failed: %v: %s", waitErr, helperStderr.String())
	}

	return res, nil
}

func validateRunSpec(spec RunSpec) error {
	if len(spec.Cmd) == 0 {
		return errors.New("run spec: command is required")
	}
	if spec.WorkDir == "" {
		return errors.New("run spec: work dir is required")
	}
	return nil
}

func killProcessGroup(pid int) {
	// Negative pid signals the whole process group.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeFromState(state *os.ProcessState, waitErr error) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func cpuTimeMs(state *os.ProcessState) int64 {
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

func maxRSSKb(state *os.ProcessState) int64 {
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		// Maxrss is in kilobytes on Linux.
		return ru.Maxrss
	}
	return 0
}
