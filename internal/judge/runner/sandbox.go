package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
)

const (
	stdoutFile     = "stdout.txt"
	stderrFile     = "stderr.txt"
	inputFile      = "input.txt"
	compileLogFile = "compile.log"
)

// SandboxRunner implements Runner on top of the sandbox Engine. It compiles
// each submission at most once and reuses the binary across test cases.
type SandboxRunner struct {
	engine   Engine
	profiles *ProfileRegistry
	workRoot string

	mu       sync.Mutex
	compiled map[string]*compileState
}

type compileState struct {
	once sync.Once
	err  error
}

var _ Runner = (*SandboxRunner)(nil)

// NewSandboxRunner creates a sandbox-backed runner.
func NewSandboxRunner(engine Engine, profiles *ProfileRegistry, workRoot string) (*SandboxRunner, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile registry is required")
	}
	if workRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	return &SandboxRunner{
		engine:   engine,
		profiles: profiles,
		workRoot: workRoot,
		compiled: make(map[string]*compileState),
	}, nil
}

// Execute runs one test case for one submission.
func (r *SandboxRunner) Execute(ctx context.Context, req ExecRequest) (model.ExecutionResult, error) {
	prof, ok := r.profiles.Get(req.Language)
	if !ok {
		return model.ExecutionResult{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %s", req.Language)
	}

	subRoot := filepath.Join(r.workRoot, req.SubmissionID)
	if err := r.ensureCompiled(ctx, subRoot, prof, req); err != nil {
		return model.ExecutionResult{}, err
	}

	testDir := filepath.Join(subRoot, req.TestCaseID)
	if err := os.MkdirAll(testDir, 0755); err != nil {
		return model.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxFailed, "create test workdir failed")
	}

	inputPath := filepath.Join(testDir, inputFile)
	if err := os.WriteFile(inputPath, []byte(req.Input), 0644); err != nil {
		return model.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxFailed, "write input failed")
	}

	srcPath := filepath.Join(subRoot, prof.SourceFile)
	binPath := filepath.Join(subRoot, prof.BinaryFile)
	argv, err := BuildArgv(prof.RunCmd, srcPath, binPath)
	if err != nil {
		return model.ExecutionResult{}, appErr.Wrap(err, appErr.SandboxFailed)
	}

	stdoutPath := filepath.Join(testDir, stdoutFile)
	stderrPath := filepath.Join(testDir, stderrFile)
	spec := RunSpec{
		WorkDir:    testDir,
		Cmd:        argv,
		Env:        []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		StdinPath:  inputPath,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		Limits: ResourceLimit{
			CPUTimeMs:  req.TimeLimitMs,
			WallTimeMs: req.TimeLimitMs,
			MemoryMB:   req.MemoryMB,
			StackMB:    req.MemoryMB,
			OutputMB:   16,
			PIDs:       16,
		},
	}

	raw, err := r.engine.Run(ctx, spec)
	if err != nil {
		return model.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxFailed, "sandbox run failed")
	}

	stdout, _ := readTruncated(stdoutPath, defaultCaptureBytes)
	stderr, _ := readTruncated(stderrPath, defaultCaptureBytes)

	return model.ExecutionResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  raw.ExitCode,
		RuntimeMs: raw.CPUTimeMs,
		MemoryKb:  raw.MemoryKb,
		TimedOut:  raw.TimedOut,
		OOM:       raw.OOMKilled,
	}, nil
}

// Release removes the submission workspace and compile cache entry.
func (r *SandboxRunner) Release(submissionID string) {
	if submissionID == "" {
		return
	}
	r.mu.Lock()
	delete(r.compiled, submissionID)
	r.mu.Unlock()
	_ = os.RemoveAll(filepath.Join(r.workRoot, submissionID))
}

// ensureCompiled writes the source and compiles it exactly once per
// submission. Concurrent test case jobs for the same submission wait on the
// first compile.
func (r *SandboxRunner) ensureCompiled(ctx context.Context, subRoot string, prof LanguageProfile, req ExecRequest) error {
	r.mu.Lock()
	state, ok := r.compiled[req.SubmissionID]
	if !ok {
		state = &compileState{}
		r.compiled[req.SubmissionID] = state
	}
	r.mu.Unlock()

	state.once.Do(func() {
		state.err = r.compile(ctx, subRoot, prof, req)
	})
	return state.err
}

func (r *SandboxRunner) compile(ctx context.Context, subRoot string, prof LanguageProfile, req ExecRequest) error {
	if err := os.MkdirAll(subRoot, 0755); err != nil {
		return appErr.Wrapf(err, appErr.SandboxFailed, "create submission workdir failed")
	}
	srcPath := filepath.Join(subRoot, prof.SourceFile)
	if err := os.WriteFile(srcPath, []byte(req.SourceCode), 0644); err != nil {
		return appErr.Wrapf(err, appErr.SandboxFailed, "write source failed")
	}
	if !prof.CompileEnabled {
		return nil
	}

	binPath := filepath.Join(subRoot, prof.BinaryFile)
	argv, err := BuildArgv(prof.CompileCmd, srcPath, binPath)
	if err != nil {
		return appErr.Wrap(err, appErr.SandboxFailed)
	}

	logPath := filepath.Join(subRoot, compileLogFile)
	spec := RunSpec{
		WorkDir:    subRoot,
		Cmd:        argv,
		Env:        []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		StdoutPath: logPath,
		StderrPath: logPath,
		Limits: ResourceLimit{
			CPUTimeMs:  prof.CompileTimeLimitMs,
			WallTimeMs: prof.CompileTimeLimitMs,
			MemoryMB:   prof.CompileMemoryMB,
			OutputMB:   16,
			PIDs:       64,
		},
	}

	raw, err := r.engine.Run(ctx, spec)
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxFailed, "compiler invocation failed")
	}
	if raw.ExitCode != 0 || raw.TimedOut {
		log, _ := readTruncated(logPath, defaultCaptureBytes)
		return appErr.New(appErr.CompilationFailed).WithDetail("log", strings.TrimSpace(log))
	}
	return nil
}

const defaultCaptureBytes = 64 * 1024

func readTruncated(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	return string(buf[:n]), nil
}

// IsCompileError reports whether err marks a failed compilation.
func IsCompileError(err error) bool {
	return appErr.Is(err, appErr.CompilationFailed)
}
