// Package model defines the core data types shared by the judge and
// ranking components.
package model

import "time"

// Difficulty classifies a problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ScoringMode controls how test case verdicts aggregate into a final verdict.
type ScoringMode string

const (
	// ScoringAllOrNothing accepts only if every test case is accepted and
	// short-circuits remaining cases on the first failure.
	ScoringAllOrNothing ScoringMode = "AllOrNothing"
	// ScoringPartialByTestCase runs every test case and attaches a weighted
	// score fraction to the final verdict.
	ScoringPartialByTestCase ScoringMode = "PartialByTestCase"
)

// TestCase is one input/expected-output pair belonging to a problem.
// Hidden cases count toward the verdict but are excluded from
// non-admin feedback.
type TestCase struct {
	ID       string `json:"id" yaml:"id"`
	Input    string `json:"input" yaml:"input"`
	Expected string `json:"expected" yaml:"expected"`
	Hidden   bool   `json:"hidden" yaml:"hidden"`
	Weight   int    `json:"weight" yaml:"weight"`
}

// Problem is an immutable published problem with its ordered test cases.
type Problem struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Difficulty  Difficulty  `json:"difficulty" yaml:"difficulty"`
	TimeLimitMs int64       `json:"time_limit_ms" yaml:"timeLimitMs"`
	MemoryMB    int64       `json:"memory_mb" yaml:"memoryMB"`
	ScoringMode ScoringMode `json:"scoring_mode" yaml:"scoringMode"`
	TestCases   []TestCase  `json:"test_cases" yaml:"testCases"`
}

// TotalWeight returns the sum of test case weights, treating a missing
// weight as 1.
func (p Problem) TotalWeight() int {
	total := 0
	for _, tc := range p.TestCases {
		total += tc.EffectiveWeight()
	}
	return total
}

// EffectiveWeight returns the case weight, defaulting to 1.
func (tc TestCase) EffectiveWeight() int {
	if tc.Weight <= 0 {
		return 1
	}
	return tc.Weight
}

// Verdict is the outcome classification of running a submission against one
// test case or the whole problem.
type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictCompileError        Verdict = "CompileError"
)

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusQueued      SubmissionStatus = "Queued"
	StatusRunning     SubmissionStatus = "Running"
	StatusCompleted   SubmissionStatus = "Completed"
	StatusSystemError SubmissionStatus = "SystemError"
)

// TestCaseResult is the verdict for one (submission, test case) pair.
// It is produced once and never recomputed.
type TestCaseResult struct {
	TestCaseID string  `json:"test_case_id"`
	Verdict    Verdict `json:"verdict"`
	RuntimeMs  int64   `json:"runtime_ms"`
	MemoryKb   int64   `json:"memory_kb"`
	Hidden     bool    `json:"hidden"`
}

// Submission is a single judged attempt. It is mutated only by the
// dispatcher and becomes immutable once Completed.
type Submission struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	ProblemID   string           `json:"problem_id"`
	ContestID   string           `json:"contest_id,omitempty"` // empty for practice submissions
	Language    string           `json:"language"`
	SourceCode  string           `json:"-"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Status      SubmissionStatus `json:"status"`

	// FinalVerdict is set only when Status is Completed. It is always a pure
	// function of Results and the problem's scoring mode.
	FinalVerdict Verdict `json:"final_verdict,omitempty"`

	// ScoreFraction is the passed weight over total weight; 1 for an
	// accepted all-or-nothing submission.
	ScoreFraction float64 `json:"score_fraction"`

	// Results are ordered by the problem's test case order. Short-circuited
	// cases are absent.
	Results []TestCaseResult `json:"results,omitempty"`
}

// ExecutionResult is the raw outcome of one sandboxed program run.
type ExecutionResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	RuntimeMs int64
	MemoryKb  int64
	TimedOut  bool
	OOM       bool
}

// ContestState is the lifecycle phase of a contest. Transitions are driven
// solely by wall clock and never move backward.
type ContestState string

const (
	ContestScheduled ContestState = "Scheduled"
	ContestRunning   ContestState = "Running"
	ContestFrozen    ContestState = "Frozen"
	ContestEnded     ContestState = "Ended"
)

// Contest describes one contest's schedule and problem set.
type Contest struct {
	ID         string     `json:"id" yaml:"id"`
	ProblemIDs []string   `json:"problem_ids" yaml:"problemIDs"`
	StartAt    time.Time  `json:"start_at" yaml:"startAt"`
	EndAt      time.Time  `json:"end_at" yaml:"endAt"`
	FreezeAt   *time.Time `json:"freeze_at,omitempty" yaml:"freezeAt"`
}

// StateAt returns the contest state at the given instant.
func (c Contest) StateAt(now time.Time) ContestState {
	switch {
	case now.Before(c.StartAt):
		return ContestScheduled
	case !now.Before(c.EndAt):
		return ContestEnded
	case c.FreezeAt != nil && !now.Before(*c.FreezeAt):
		return ContestFrozen
	default:
		return ContestRunning
	}
}

// ContestEntry is the accumulated standing of one user in one contest.
// It only ever grows and is recomputable from the submission log.
type ContestEntry struct {
	ContestID      string              `json:"contest_id"`
	UserID         string              `json:"user_id"`
	Score          float64             `json:"score"`
	PenaltyMinutes int64               `json:"penalty_minutes"`
	LastAcceptedAt time.Time           `json:"last_accepted_at"`
	Solved         map[string]struct{} `json:"-"`
}

// LeaderboardRow is one ranked line of a leaderboard snapshot.
type LeaderboardRow struct {
	UserID         string  `json:"user_id"`
	Score          float64 `json:"score"`
	PenaltyMinutes int64   `json:"penalty_minutes"`
	Rank           int     `json:"rank"`
}

// LeaderboardSnapshot is a derived, totally ordered view of a contest's
// standings. It is never hand-edited.
type LeaderboardSnapshot struct {
	ContestID   string           `json:"contest_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Frozen      bool             `json:"frozen"`
	Rows        []LeaderboardRow `json:"rows"`
}
