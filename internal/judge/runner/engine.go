package runner

import (
	"context"
	"time"
)

// ResourceLimit describes hard limits enforced on one sandboxed run.
type ResourceLimit struct {
	CPUTimeMs  int64 `json:"cpu_time_ms"`
	WallTimeMs int64 `json:"wall_time_ms"`
	MemoryMB   int64 `json:"memory_mb"`
	StackMB    int64 `json:"stack_mb"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}

// RunSpec is the execution specification handed to the engine for one task.
// All paths must exist before the call.
type RunSpec struct {
	WorkDir    string        `json:"work_dir"`
	Cmd        []string      `json:"cmd"`
	Env        []string      `json:"env"`
	StdinPath  string        `json:"stdin_path"`
	StdoutPath string        `json:"stdout_path"`
	StderrPath string        `json:"stderr_path"`
	Limits     ResourceLimit `json:"limits"`
}

// RawResult captures raw process execution data.
type RawResult struct {
	ExitCode   int
	CPUTimeMs  int64
	WallTimeMs int64
	MemoryKb   int64
	TimedOut   bool
	OOMKilled  bool
}

// Engine executes a RunSpec inside an isolated sandbox. The wall-clock limit
// is a hard guarantee: the engine kills the process group when it fires,
// whether or not the program cooperates.
type Engine interface {
	Run(ctx context.Context, spec RunSpec) (RawResult, error)
}

// EngineConfig holds sandbox engine settings.
type EngineConfig struct {
	// HelperPath is the runner-init binary applying rlimits and seccomp
	// before exec.
	HelperPath string `yaml:"helperPath"`

	// EnableSeccomp installs the syscall allowlist in the helper.
	EnableSeccomp bool `yaml:"enableSeccomp"`

	// ExtraWallGrace is added to the wall limit to absorb process startup.
	ExtraWallGrace time.Duration `yaml:"extraWallGrace"`

	// StdoutMaxBytes truncates captured output files.
	StdoutMaxBytes int64 `yaml:"stdoutMaxBytes"`
}
