package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rankoj/internal/judge/model"
	"rankoj/internal/judge/runner"
	appErr "rankoj/pkg/errors"
	"rankoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Job is one test case execution unit. Jobs belonging to the same submission
// carry consecutive ordinals so results can be reassembled in order.
type Job struct {
	SubmissionID string
	Ordinal      int
	TestCase     model.TestCase
	Language     string
	SourceCode   string
	TimeLimitMs  int64
	MemoryMB     int64

	// Cancelled, when set and true at pick-up time, skips the run. Used to
	// short-circuit queued siblings after a decisive failure.
	Cancelled *atomic.Bool
}

// Result is the outcome of one job. Err is set only for infrastructure
// faults; user-code faults always surface as a verdict.
type Result struct {
	SubmissionID string
	Ordinal      int
	TestCaseID   string
	Hidden       bool
	Verdict      model.Verdict
	RuntimeMs    int64
	MemoryKb     int64
	Skipped      bool
	Err          error
}

// Config holds worker pool settings.
type Config struct {
	// Workers is the number of concurrent sandbox slots.
	Workers int `yaml:"workers"`

	// QueueCapacity bounds the pending job queue. Submits beyond it are
	// rejected, never blocked.
	QueueCapacity int `yaml:"queueCapacity"`

	// ReclaimGrace is added to a job's time limit to form the hard
	// deadline after which the worker abandons the sandbox.
	ReclaimGrace time.Duration `yaml:"reclaimGrace"`

	// OnStart, when set, is invoked with the submission id each time a
	// worker picks up one of its jobs.
	OnStart func(submissionID string) `yaml:"-"`
}

// DefaultConfig returns pool settings suitable for a single node.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueCapacity: 256,
		ReclaimGrace:  2 * time.Second,
	}
}

// Pool runs test case jobs on a fixed set of workers. Each worker executes
// one job at a time; finished results are delivered on the Results channel
// in completion order, which may differ from submit order.
type Pool struct {
	cfg    Config
	runner runner.Runner

	jobs    chan Job
	results chan Result
	done    chan struct{}

	submitMu  sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates a worker pool. Call Start before submitting jobs.
func NewPool(cfg Config, r runner.Runner) (*Pool, error) {
	if r == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.ReclaimGrace <= 0 {
		cfg.ReclaimGrace = DefaultConfig().ReclaimGrace
	}
	return &Pool{
		cfg:     cfg,
		runner:  r,
		jobs:    make(chan Job, cfg.QueueCapacity),
		results: make(chan Result, cfg.QueueCapacity),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the workers. They exit when the context is cancelled or
// Shutdown closes the job queue.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Results returns the channel finished jobs are delivered on.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// TrySubmit enqueues a job without blocking. It fails with JudgeQueueFull
// when the queue is at capacity.
func (p *Pool) TrySubmit(job Job) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	if p.closed {
		return appErr.New(appErr.JudgeQueueFull)
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return appErr.New(appErr.JudgeQueueFull)
	}
}

// TrySubmitAll enqueues a batch atomically: either every job fits in the
// remaining queue capacity or none is enqueued and JudgeQueueFull is
// returned. Workers only drain the queue, so the capacity check under the
// submit lock cannot go stale.
func (p *Pool) TrySubmitAll(jobs []Job) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	if p.closed || len(jobs) > cap(p.jobs)-len(p.jobs) {
		return appErr.New(appErr.JudgeQueueFull)
	}
	for _, job := range jobs {
		p.jobs <- job
	}
	return nil
}

// Shutdown stops accepting jobs and waits for in-flight work to finish or
// the context to expire. Once the workers have drained, the results channel
// is closed so consumers ranging over it terminate.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.submitMu.Lock()
		p.closed = true
		p.submitMu.Unlock()
		close(p.jobs)
		go func() {
			p.wg.Wait()
			close(p.results)
			close(p.done)
		}()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			res := p.runJob(ctx, job)
			select {
			case p.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runJob executes one job with a hard wall deadline of timeLimit plus the
// reclaim grace. A worker that misses the deadline abandons the run and
// reports it reclaimed; the engine's process-group kill cleans up the
// sandboxed process when the context is cancelled.
func (p *Pool) runJob(ctx context.Context, job Job) Result {
	if job.Cancelled != nil && job.Cancelled.Load() {
		res := systemResult(job, nil)
		res.Skipped = true
		return res
	}
	if p.cfg.OnStart != nil {
		p.cfg.OnStart(job.SubmissionID)
	}

	deadline := time.Duration(job.TimeLimitMs)*time.Millisecond + p.cfg.ReclaimGrace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		exec model.ExecutionResult
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		// recover only works in the panicking goroutine, so the guard
		// lives here, next to the runner call. A panicking runner is
		// reported as a system fault for this job, not a process crash.
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "judge worker panic",
					zap.String("submission_id", job.SubmissionID),
					zap.String("test_case_id", job.TestCase.ID),
					zap.Any("panic", r),
				)
				done <- outcome{err: appErr.Newf(appErr.JudgeSystemError, "worker panic: %v", r)}
			}
		}()
		exec, err := p.runner.Execute(runCtx, runner.ExecRequest{
			SubmissionID: job.SubmissionID,
			TestCaseID:   job.TestCase.ID,
			Language:     job.Language,
			SourceCode:   job.SourceCode,
			Input:        job.TestCase.Input,
			TimeLimitMs:  job.TimeLimitMs,
			MemoryMB:     job.MemoryMB,
		})
		done <- outcome{exec: exec, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if runner.IsCompileError(out.err) {
				return Result{
					SubmissionID: job.SubmissionID,
					Ordinal:      job.Ordinal,
					TestCaseID:   job.TestCase.ID,
					Hidden:       job.TestCase.Hidden,
					Verdict:      model.VerdictCompileError,
				}
			}
			return systemResult(job, out.err)
		}
		return Result{
			SubmissionID: job.SubmissionID,
			Ordinal:      job.Ordinal,
			TestCaseID:   job.TestCase.ID,
			Hidden:       job.TestCase.Hidden,
			Verdict:      DeriveVerdict(out.exec, job.TestCase.Expected),
			RuntimeMs:    out.exec.RuntimeMs,
			MemoryKb:     out.exec.MemoryKb,
		}
	case <-runCtx.Done():
		logger.Warn(ctx, "judge worker reclaimed",
			zap.String("submission_id", job.SubmissionID),
			zap.String("test_case_id", job.TestCase.ID),
			zap.Duration("deadline", deadline),
		)
		return systemResult(job, appErr.New(appErr.WorkerReclaimed))
	}
}

func systemResult(job Job, err error) Result {
	return Result{
		SubmissionID: job.SubmissionID,
		Ordinal:      job.Ordinal,
		TestCaseID:   job.TestCase.ID,
		Hidden:       job.TestCase.Hidden,
		Err:          err,
	}
}
