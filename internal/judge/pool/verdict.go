package pool

import (
	"strings"

	"rankoj/internal/judge/model"
)

// DeriveVerdict maps one execution outcome to a test case verdict.
// Resource violations win over exit status, exit status wins over output.
func DeriveVerdict(exec model.ExecutionResult, expected string) model.Verdict {
	switch {
	case exec.TimedOut:
		return model.VerdictTimeLimitExceeded
	case exec.OOM:
		return model.VerdictMemoryLimitExceeded
	case exec.ExitCode != 0:
		return model.VerdictRuntimeError
	case OutputMatches(exec.Stdout, expected):
		return model.VerdictAccepted
	default:
		return model.VerdictWrongAnswer
	}
}

// OutputMatches compares program output to the expected answer, ignoring
// trailing whitespace on each line and trailing blank lines.
func OutputMatches(got, want string) bool {
	return normalizeOutput(got) == normalizeOutput(want)
}

func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
