package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
)

// submissionLogTable is append-only: one row per completed submission, in
// completion order. Contest standings can be rebuilt by replaying it.
const submissionLogTable = "submission_log"

var submissionLogFields = "`id`, `user_id`, `problem_id`, `contest_id`, `language`, `status`, `final_verdict`, `score_fraction`, `results`, `submitted_at`, `completed_at`"

// SubmissionLogModel persists completed submissions.
type SubmissionLogModel interface {
	Insert(ctx context.Context, sub *model.Submission, completedAt time.Time) error
	FindOne(ctx context.Context, id string) (*model.Submission, error)
	ListByContest(ctx context.Context, contestID string) ([]*model.Submission, error)
}

type submissionLogRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	ProblemID     string         `db:"problem_id"`
	ContestID     sql.NullString `db:"contest_id"`
	Language      string         `db:"language"`
	Status        string         `db:"status"`
	FinalVerdict  sql.NullString `db:"final_verdict"`
	ScoreFraction float64        `db:"score_fraction"`
	Results       []byte         `db:"results"`
	SubmittedAt   time.Time      `db:"submitted_at"`
	CompletedAt   time.Time      `db:"completed_at"`
}

type defaultSubmissionLogModel struct {
	conn sqlx.SqlConn
}

var _ SubmissionLogModel = (*defaultSubmissionLogModel)(nil)

// NewSubmissionLogModel returns a model for the submission_log table.
func NewSubmissionLogModel(conn sqlx.SqlConn) SubmissionLogModel {
	return &defaultSubmissionLogModel{conn: conn}
}

func (m *defaultSubmissionLogModel) Insert(ctx context.Context, sub *model.Submission, completedAt time.Time) error {
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	query := "insert into " + submissionLogTable + " (" + submissionLogFields + ") values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = m.conn.ExecCtx(ctx, query,
		sub.ID,
		sub.UserID,
		sub.ProblemID,
		nullString(sub.ContestID),
		sub.Language,
		string(sub.Status),
		nullString(string(sub.FinalVerdict)),
		sub.ScoreFraction,
		results,
		sub.SubmittedAt,
		completedAt,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission log failed")
	}
	return nil
}

func (m *defaultSubmissionLogModel) FindOne(ctx context.Context, id string) (*model.Submission, error) {
	var row submissionLogRow
	query := "select " + submissionLogFields + " from " + submissionLogTable + " where `id` = ? limit 1"
	err := m.conn.QueryRowCtx(ctx, &row, query, id)
	switch err {
	case nil:
		return rowToSubmission(&row)
	case sqlx.ErrNotFound:
		return nil, appErr.New(appErr.SubmissionNotFound)
	default:
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission log failed")
	}
}

func (m *defaultSubmissionLogModel) ListByContest(ctx context.Context, contestID string) ([]*model.Submission, error) {
	var rows []submissionLogRow
	query := "select " + submissionLogFields + " from " + submissionLogTable + " where `contest_id` = ? order by `completed_at`, `id`"
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, contestID); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query contest submission log failed")
	}
	subs := make([]*model.Submission, 0, len(rows))
	for i := range rows {
		sub, err := rowToSubmission(&rows[i])
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func rowToSubmission(row *submissionLogRow) (*model.Submission, error) {
	sub := &model.Submission{
		ID:            row.ID,
		UserID:        row.UserID,
		ProblemID:     row.ProblemID,
		ContestID:     row.ContestID.String,
		Language:      row.Language,
		SubmittedAt:   row.SubmittedAt,
		Status:        model.SubmissionStatus(row.Status),
		FinalVerdict:  model.Verdict(row.FinalVerdict.String),
		ScoreFraction: row.ScoreFraction,
	}
	if len(row.Results) > 0 {
		if err := json.Unmarshal(row.Results, &sub.Results); err != nil {
			return nil, appErr.Wrap(err, appErr.DatabaseError)
		}
	}
	return sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
