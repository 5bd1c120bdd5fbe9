// Package dispatch owns the submission lifecycle: intake validation, fan-out
// to the worker pool, ordered result assembly and the completion pipeline.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rankoj/internal/common/mq"
	"rankoj/internal/judge/contest"
	"rankoj/internal/judge/model"
	"rankoj/internal/judge/pool"
	"rankoj/internal/judge/problem"
	"rankoj/internal/judge/repository"
	"rankoj/internal/judge/runner"
	"rankoj/internal/judge/scoring"
	appErr "rankoj/pkg/errors"
	"rankoj/pkg/utils/logger"
)

const (
	defaultMaxCodeBytes = 256 * 1024
	defaultEventTopic   = "judge.submission.completed"
)

// SubmitInput is the validated intake payload for one submission.
type SubmitInput struct {
	UserID     string `json:"user_id"`
	ProblemID  string `json:"problem_id"`
	ContestID  string `json:"contest_id"`
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
}

// Notifier receives submission status transitions for push delivery.
type Notifier interface {
	NotifyStatus(sub *model.Submission)
}

// Config holds dispatcher settings.
type Config struct {
	MaxCodeBytes int    `yaml:"maxCodeBytes"`
	EventTopic   string `yaml:"eventTopic"`
}

// Options collects the dispatcher's collaborators. Log, Archive, Producer
// and Notifier are optional; the rest are required.
type Options struct {
	Problems problem.Store
	Profiles *runner.ProfileRegistry
	Runner   runner.Runner
	Pool     pool.Config
	Status   *repository.StatusRepository
	Log      repository.SubmissionLogModel
	Archive  *repository.SourceArchive
	Producer mq.Producer
	Scoring  *scoring.Engine
	Contests *contest.Manager
	Notifier Notifier
	Clock    func() time.Time
}

// Dispatcher accepts submissions, fans test cases out to the worker pool and
// reassembles results in test case order regardless of completion order.
type Dispatcher struct {
	cfg      Config
	problems problem.Store
	profiles *runner.ProfileRegistry
	run      runner.Runner
	pool     *pool.Pool
	status   *repository.StatusRepository
	logRepo  repository.SubmissionLogModel
	archive  *repository.SourceArchive
	producer mq.Producer
	scoring  *scoring.Engine
	contests *contest.Manager
	notifier Notifier
	clock    func() time.Time

	mu       sync.Mutex
	tracking map[string]*tracker
	loopDone chan struct{}
}

// tracker is the in-flight state of one submission. All fields are guarded
// by the dispatcher mutex.
type tracker struct {
	sub     *model.Submission
	problem model.Problem
	jobs    []pool.Job

	buffered    map[int]pool.Result
	next        int
	outstanding int
	retried     map[int]bool
	cancelled   *atomic.Bool

	started      bool
	finalized    bool
	failVerdict  model.Verdict
	passedWeight int
}

// NewDispatcher wires a dispatcher and its worker pool.
func NewDispatcher(cfg Config, opts Options) (*Dispatcher, error) {
	if opts.Problems == nil || opts.Profiles == nil || opts.Runner == nil {
		return nil, fmt.Errorf("problem store, profiles and runner are required")
	}
	if opts.Status == nil || opts.Scoring == nil || opts.Contests == nil {
		return nil, fmt.Errorf("status repository, scoring engine and contest manager are required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = defaultEventTopic
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	d := &Dispatcher{
		cfg:      cfg,
		problems: opts.Problems,
		profiles: opts.Profiles,
		run:      opts.Runner,
		status:   opts.Status,
		logRepo:  opts.Log,
		archive:  opts.Archive,
		producer: opts.Producer,
		scoring:  opts.Scoring,
		contests: opts.Contests,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		tracking: make(map[string]*tracker),
		loopDone: make(chan struct{}),
	}

	poolCfg := opts.Pool
	poolCfg.OnStart = d.markRunning
	p, err := pool.NewPool(poolCfg, opts.Runner)
	if err != nil {
		return nil, err
	}
	d.pool = p
	return d, nil
}

// Start launches the worker pool and the result loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
	go d.resultLoop(ctx)
}

// Shutdown drains the pool and waits for the result loop to finish
// processing everything in flight.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if err := d.pool.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case <-d.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and enqueues one submission. It returns the submission id
// once every test case job is accepted by the pool; a full queue rejects the
// submission as a whole.
func (d *Dispatcher) Submit(ctx context.Context, in SubmitInput) (string, error) {
	if in.UserID == "" {
		return "", appErr.ValidationError("user_id", "must not be empty")
	}
	if in.SourceCode == "" {
		return "", appErr.New(appErr.CodeEmpty)
	}
	if len(in.SourceCode) > d.cfg.MaxCodeBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", d.cfg.MaxCodeBytes)
	}
	if !d.profiles.Supported(in.Language) {
		return "", appErr.Newf(appErr.LanguageNotSupported, "language %q", in.Language)
	}
	prob, err := d.problems.GetProblem(ctx, in.ProblemID)
	if err != nil {
		return "", err
	}
	if err := d.contests.Gate(ctx, in.ContestID); err != nil {
		return "", err
	}

	sub := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		ProblemID:   in.ProblemID,
		ContestID:   in.ContestID,
		Language:    in.Language,
		SourceCode:  in.SourceCode,
		SubmittedAt: d.clock(),
		Status:      model.StatusQueued,
	}

	cancelled := &atomic.Bool{}
	jobs := make([]pool.Job, 0, len(prob.TestCases))
	for i, tc := range prob.TestCases {
		jobs = append(jobs, pool.Job{
			SubmissionID: sub.ID,
			Ordinal:      i,
			TestCase:     tc,
			Language:     in.Language,
			SourceCode:   in.SourceCode,
			TimeLimitMs:  prob.TimeLimitMs,
			MemoryMB:     prob.MemoryMB,
			Cancelled:    cancelled,
		})
	}

	t := &tracker{
		sub:         sub,
		problem:     prob,
		jobs:        jobs,
		buffered:    make(map[int]pool.Result),
		outstanding: len(jobs),
		retried:     make(map[int]bool),
		cancelled:   cancelled,
	}

	d.mu.Lock()
	d.tracking[sub.ID] = t
	if err := d.pool.TrySubmitAll(jobs); err != nil {
		delete(d.tracking, sub.ID)
		d.mu.Unlock()
		return "", err
	}
	d.mu.Unlock()

	d.saveStatus(ctx, sub)
	d.notify(sub)
	logger.Info(ctx, "submission queued",
		zap.String("submission_id", sub.ID),
		zap.String("problem_id", sub.ProblemID),
		zap.String("user_id", sub.UserID),
		zap.Int("test_cases", len(jobs)),
	)
	return sub.ID, nil
}

// GetStatus returns the current view of a submission: in-flight state if the
// submission is still tracked, otherwise the cache mirror, otherwise the
// durable log.
func (d *Dispatcher) GetStatus(ctx context.Context, id string) (*model.Submission, error) {
	d.mu.Lock()
	if t, ok := d.tracking[id]; ok {
		snapshot := copySubmission(t.sub)
		d.mu.Unlock()
		return snapshot, nil
	}
	d.mu.Unlock()

	sub, err := d.status.Get(ctx, id)
	if err == nil {
		return sub, nil
	}
	if d.logRepo != nil && appErr.Is(err, appErr.SubmissionNotFound) {
		return d.logRepo.FindOne(ctx, id)
	}
	return nil, err
}

func (d *Dispatcher) resultLoop(ctx context.Context) {
	defer close(d.loopDone)
	for res := range d.pool.Results() {
		d.handleResult(ctx, res)
	}
}

func (d *Dispatcher) markRunning(submissionID string) {
	d.mu.Lock()
	t, ok := d.tracking[submissionID]
	if !ok || t.started || t.finalized {
		d.mu.Unlock()
		return
	}
	t.started = true
	t.sub.Status = model.StatusRunning
	snapshot := copySubmission(t.sub)
	d.mu.Unlock()

	d.saveStatus(context.Background(), snapshot)
	d.notify(snapshot)
}

func (d *Dispatcher) handleResult(ctx context.Context, res pool.Result) {
	d.mu.Lock()
	t, ok := d.tracking[res.SubmissionID]
	if !ok {
		d.mu.Unlock()
		return
	}

	if res.Skipped {
		t.outstanding--
		d.releaseIfDrainedLocked(ctx, t)
		d.mu.Unlock()
		return
	}

	if res.Err != nil {
		d.handleInfraFault(ctx, t, res)
		d.mu.Unlock()
		return
	}

	// Results that straggle in after finalization only count toward drain.
	if t.finalized {
		t.outstanding--
		d.releaseIfDrainedLocked(ctx, t)
		d.mu.Unlock()
		return
	}

	t.buffered[res.Ordinal] = res
	t.outstanding--
	d.drainLocked(t)

	var completed *model.Submission
	if !t.finalized {
		decided := t.failVerdict != "" && (t.problem.ScoringMode == model.ScoringAllOrNothing || t.failVerdict == model.VerdictCompileError)
		if decided || t.next == len(t.jobs) {
			completed = d.finalizeCompletedLocked(t)
		}
	}
	d.releaseIfDrainedLocked(ctx, t)
	d.mu.Unlock()

	if completed != nil {
		d.completePipeline(ctx, completed)
	}
}

// drainLocked applies buffered results in test case order. A decisive
// failure cancels the submission's remaining jobs.
func (d *Dispatcher) drainLocked(t *tracker) {
	for {
		res, ok := t.buffered[t.next]
		if !ok {
			return
		}
		delete(t.buffered, t.next)
		t.next++

		t.sub.Results = append(t.sub.Results, model.TestCaseResult{
			TestCaseID: res.TestCaseID,
			Verdict:    res.Verdict,
			RuntimeMs:  res.RuntimeMs,
			MemoryKb:   res.MemoryKb,
			Hidden:     res.Hidden,
		})

		if res.Verdict == model.VerdictAccepted {
			t.passedWeight += t.problem.TestCases[t.next-1].EffectiveWeight()
			continue
		}
		if t.failVerdict == "" {
			t.failVerdict = res.Verdict
		}
		if t.problem.ScoringMode == model.ScoringAllOrNothing || res.Verdict == model.VerdictCompileError {
			t.cancelled.Store(true)
			return
		}
	}
}

// handleInfraFault requeues a failed job exactly once; a second failure (or
// no room to requeue) makes the submission a terminal SystemError.
func (d *Dispatcher) handleInfraFault(ctx context.Context, t *tracker, res pool.Result) {
	if t.finalized {
		t.outstanding--
		d.releaseIfDrainedLocked(ctx, t)
		return
	}
	if !t.retried[res.Ordinal] {
		t.retried[res.Ordinal] = true
		if err := d.pool.TrySubmit(t.jobs[res.Ordinal]); err == nil {
			logger.Warn(ctx, "test case requeued after infrastructure fault",
				zap.String("submission_id", res.SubmissionID),
				zap.String("test_case_id", res.TestCaseID),
				zap.Error(res.Err),
			)
			return
		}
	}

	logger.Error(ctx, "submission failed with system error",
		zap.String("submission_id", res.SubmissionID),
		zap.String("test_case_id", res.TestCaseID),
		zap.Error(res.Err),
	)
	t.outstanding--
	t.finalized = true
	t.cancelled.Store(true)
	t.sub.Status = model.StatusSystemError
	snapshot := copySubmission(t.sub)
	d.releaseIfDrainedLocked(ctx, t)

	d.saveStatus(ctx, snapshot)
	d.notify(snapshot)
}

// finalizeCompletedLocked derives the final verdict and score fraction from
// the applied results. The returned snapshot is safe to use outside the lock.
func (d *Dispatcher) finalizeCompletedLocked(t *tracker) *model.Submission {
	t.finalized = true
	t.sub.Status = model.StatusCompleted

	switch t.problem.ScoringMode {
	case model.ScoringPartialByTestCase:
		total := t.problem.TotalWeight()
		if total > 0 {
			t.sub.ScoreFraction = float64(t.passedWeight) / float64(total)
		}
		if t.failVerdict == "" && t.next == len(t.jobs) {
			t.sub.FinalVerdict = model.VerdictAccepted
			t.sub.ScoreFraction = 1
		} else {
			t.sub.FinalVerdict = t.failVerdict
		}
	default:
		if t.failVerdict == "" && t.next == len(t.jobs) {
			t.sub.FinalVerdict = model.VerdictAccepted
			t.sub.ScoreFraction = 1
		} else {
			t.sub.FinalVerdict = t.failVerdict
			t.sub.ScoreFraction = 0
		}
	}
	return copySubmission(t.sub)
}

// completePipeline runs the post-completion side effects in a fixed order:
// durable log, status mirror, source archive, event, scoring, freeze check.
func (d *Dispatcher) completePipeline(ctx context.Context, sub *model.Submission) {
	completedAt := d.clock()
	if d.logRepo != nil {
		if err := d.logRepo.Insert(ctx, sub, completedAt); err != nil {
			logger.Error(ctx, "persist submission log failed",
				zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	d.saveStatus(ctx, sub)
	if d.archive != nil {
		if err := d.archive.Put(ctx, sub.ID, sub.SourceCode); err != nil {
			logger.Warn(ctx, "archive source failed",
				zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	d.publishCompleted(ctx, sub, completedAt)
	// Pin the freeze snapshot before this result can move the standings.
	d.contests.CheckFreeze(ctx, sub.ContestID)
	if err := d.scoring.OnSubmissionCompleted(ctx, sub); err != nil {
		logger.Error(ctx, "scoring update failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
	d.notify(sub)

	logger.Info(ctx, "submission completed",
		zap.String("submission_id", sub.ID),
		zap.String("final_verdict", string(sub.FinalVerdict)),
		zap.Float64("score_fraction", sub.ScoreFraction),
	)
}

// completedEvent is the broker payload for one finished submission.
type completedEvent struct {
	SubmissionID  string    `json:"submission_id"`
	UserID        string    `json:"user_id"`
	ProblemID     string    `json:"problem_id"`
	ContestID     string    `json:"contest_id,omitempty"`
	Status        string    `json:"status"`
	FinalVerdict  string    `json:"final_verdict"`
	ScoreFraction float64   `json:"score_fraction"`
	CompletedAt   time.Time `json:"completed_at"`
}

func (d *Dispatcher) publishCompleted(ctx context.Context, sub *model.Submission, completedAt time.Time) {
	if d.producer == nil {
		return
	}
	body, err := json.Marshal(completedEvent{
		SubmissionID:  sub.ID,
		UserID:        sub.UserID,
		ProblemID:     sub.ProblemID,
		ContestID:     sub.ContestID,
		Status:        string(sub.Status),
		FinalVerdict:  string(sub.FinalVerdict),
		ScoreFraction: sub.ScoreFraction,
		CompletedAt:   completedAt,
	})
	if err != nil {
		return
	}
	msg := mq.NewMessage(body)
	msg.ID = sub.ID
	if err := d.producer.Publish(ctx, d.cfg.EventTopic, msg); err != nil {
		logger.Warn(ctx, "publish completed event failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

// releaseIfDrainedLocked frees the runner workspace and drops the tracker
// once the last outstanding job has reported back.
func (d *Dispatcher) releaseIfDrainedLocked(ctx context.Context, t *tracker) {
	if t.outstanding > 0 || !t.finalized {
		return
	}
	delete(d.tracking, t.sub.ID)
	d.run.Release(t.sub.ID)
}

func (d *Dispatcher) saveStatus(ctx context.Context, sub *model.Submission) {
	if err := d.status.Save(ctx, sub); err != nil {
		logger.Warn(ctx, "save submission status failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

func (d *Dispatcher) notify(sub *model.Submission) {
	if d.notifier != nil {
		d.notifier.NotifyStatus(copySubmission(sub))
	}
}

func copySubmission(sub *model.Submission) *model.Submission {
	cp := *sub
	cp.Results = append([]model.TestCaseResult(nil), sub.Results...)
	return &cp
}
