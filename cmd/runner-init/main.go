//go:build linux

// runner-init is the in-sandbox bootstrap: it applies resource limits, IO
// redirection and the seccomp allowlist, then execs the target program.
// The judge engine feeds it a JSON request on stdin.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type resourceLimit struct {
	CPUTimeMs  int64 `json:"cpu_time_ms"`
	WallTimeMs int64 `json:"wall_time_ms"`
	MemoryMB   int64 `json:"memory_mb"`
	StackMB    int64 `json:"stack_mb"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}

type runSpec struct {
	WorkDir    string        `json:"work_dir"`
	Cmd        []string      `json:"cmd"`
	Env        []string      `json:"env"`
	StdinPath  string        `json:"stdin_path"`
	StdoutPath string        `json:"stdout_path"`
	StderrPath string        `json:"stderr_path"`
	Limits     resourceLimit `json:"limits"`
}

type initRequest struct {
	Spec          runSpec `json:"spec"`
	EnableSeccomp bool    `json:"enable_seccomp"`
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if len(req.Spec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if req.Spec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}

	if err := os.Chdir(req.Spec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.Spec.Limits); err != nil {
		return err
	}
	if err := redirectIO(req.Spec); err != nil {
		return err
	}
	if req.EnableSeccomp {
		if err := applySeccomp(); err != nil {
			return err
		}
	}

	env := buildEnv(req.Spec.Env)
	cmdPath, err := exec.LookPath(req.Spec.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, req.Spec.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func applyRlimits(limits resourceLimit) error {
	if limits.CPUTimeMs > 0 {
		seconds := uint64((limits.CPUTimeMs + 999) / 1000)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if limits.MemoryMB > 0 {
		bytes := uint64(limits.MemoryMB * 1024 * 1024)
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if limits.StackMB > 0 {
		bytes := uint64(limits.StackMB * 1024 * 1024)
		if err := unix.Setrlimit(unix.RLIMIT_STACK, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit stack: %w", err)
		}
	}
	if limits.OutputMB > 0 {
		bytes := uint64(limits.OutputMB * 1024 * 1024)
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if limits.PIDs > 0 {
		val := uint64(limits.PIDs)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nproc: %w", err)
		}
	}
	return nil
}

func redirectIO(spec runSpec) error {
	stdinPath := spec.StdinPath
	if stdinPath == "" {
		stdinPath = "/dev/null"
	}
	stdoutPath := spec.StdoutPath
	if stdoutPath == "" {
		stdoutPath = "/dev/null"
	}
	stderrPath := spec.StderrPath
	if stderrPath == "" {
		stderrPath = "/dev/null"
	}
	stdinFile, err := os.Open(stdinPath)
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	var stderrFile *os.File
	if stderrPath == stdoutPath {
		stderrFile = stdoutFile
	} else {
		stderrFile, err = os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("open stderr: %w", err)
		}
	}
	if err := unix.Dup2(int(stdinFile.Fd()), 0); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	if err := unix.Dup2(int(stdoutFile.Fd()), 1); err != nil {
		return fmt.Errorf("dup stdout: %w", err)
	}
	if err := unix.Dup2(int(stderrFile.Fd()), 2); err != nil {
		return fmt.Errorf("dup stderr: %w", err)
	}
	return nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
}

// seccompAllowList covers the syscalls a compiled or interpreted solution
// needs for compute and file-descriptor IO. Anything else kills the process.
var seccompAllowList = []string{
	"read", "write", "readv", "writev", "close", "fstat", "lseek", "dup", "dup2", "dup3",
	"mmap", "mprotect", "munmap", "brk", "mremap", "madvise",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack", "restart_syscall",
	"clone", "execve", "exit", "exit_group", "wait4",
	"arch_prctl", "set_tid_address", "set_robust_list", "sysinfo", "uname",
	"futex", "getrlimit", "prlimit64", "getrandom",
	"getuid", "getgid", "geteuid", "getegid", "getpid", "gettid", "getppid",
	"stat", "lstat", "newfstatat", "access", "faccessat", "faccessat2",
	"open", "openat", "fcntl", "ioctl", "pread64", "pwrite64",
	"getcwd", "readlink", "readlinkat",
	"gettimeofday", "clock_gettime", "clock_getres", "clock_nanosleep", "nanosleep",
	"sched_getaffinity", "sched_yield", "rseq", "membarrier",
}

func applySeccomp() error {
	filter, err := seccomp.NewFilter(seccomp.ActKillProcess)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, name := range seccompAllowList {
		id, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every syscall exists on every architecture.
			continue
		}
		if err := filter.AddRule(id, seccomp.ActAllow); err != nil {
			return fmt.Errorf("allow %s: %w", name, err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
