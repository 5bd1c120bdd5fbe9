// Package runner defines the language runner adapter: given source code, a
// language id and an input blob, execute the program once under hard
// wall-clock and memory ceilings and return raw stdout/stderr/exit-code and
// resource usage. One profile per supported language; the whole adapter is
// swappable for tests.
package runner

import (
	"context"

	"rankoj/internal/judge/model"
)

// ExecRequest describes one submission-vs-testcase execution unit.
type ExecRequest struct {
	SubmissionID string
	TestCaseID   string
	Language     string
	SourceCode   string
	Input        string
	TimeLimitMs  int64
	MemoryMB     int64
}

// Runner executes one program run per call. Implementations must enforce the
// request limits as hard guarantees: exceeding the time limit terminates the
// process and sets TimedOut on the result.
//
// A returned error means the run could not be carried out at all. Compile
// failures are reported through a CompilationError code so the caller can map
// them to a CompileError verdict; any other error is an infrastructure fault.
type Runner interface {
	Execute(ctx context.Context, req ExecRequest) (model.ExecutionResult, error)

	// Release discards any per-submission state (compiled binaries,
	// workspaces). Called once after the submission's last test case.
	Release(submissionID string)
}
