package server

import (
	"github.com/gin-gonic/gin"

	"rankoj/internal/judge/contest"
	"rankoj/internal/judge/dispatch"
	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
	"rankoj/pkg/utils/response"
)

// JudgeController handles the submission and leaderboard HTTP endpoints.
type JudgeController struct {
	dispatcher *dispatch.Dispatcher
	contests   *contest.Manager
	hub        *Hub
}

// NewJudgeController creates a new JudgeController.
func NewJudgeController(d *dispatch.Dispatcher, m *contest.Manager, hub *Hub) *JudgeController {
	return &JudgeController{dispatcher: d, contests: m, hub: hub}
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	ProblemID  string `json:"problem_id" binding:"required"`
	ContestID  string `json:"contest_id"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code"`
}

// SubmitResponse defines the submission response payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// Create accepts a submission for asynchronous judging.
func (h *JudgeController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, appErr.InvalidParams, "Invalid request parameters")
		return
	}

	submissionID, err := h.dispatcher.Submit(c.Request.Context(), dispatch.SubmitInput{
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		ContestID:  req.ContestID,
		Language:   req.Language,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, SubmitResponse{
		SubmissionID: submissionID,
		Status:       string(model.StatusQueued),
	})
}

// GetStatus returns the status of one submission. Hidden test case results
// are omitted unless the caller is an admin.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.ErrorWithCode(c, appErr.InvalidParams, "Invalid submission id")
		return
	}
	sub, err := h.dispatcher.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isAdmin(c) {
		sub = redactHidden(sub)
	}
	response.Success(c, sub)
}

// Leaderboard returns the freeze-aware contest standings.
func (h *JudgeController) Leaderboard(c *gin.Context) {
	contestID := c.Param("id")
	if contestID == "" {
		response.ErrorWithCode(c, appErr.InvalidParams, "Invalid contest id")
		return
	}
	snap, err := h.contests.Leaderboard(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// StreamStatus upgrades to a websocket and pushes status transitions for one
// submission until it reaches a terminal state.
func (h *JudgeController) StreamStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.ErrorWithCode(c, appErr.InvalidParams, "Invalid submission id")
		return
	}
	sub, err := h.dispatcher.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.hub.Serve(c, sub, isAdmin(c))
}

// Health reports liveness.
func (h *JudgeController) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// redactHidden strips hidden test case results from a submission view.
func redactHidden(sub *model.Submission) *model.Submission {
	cp := *sub
	cp.Results = make([]model.TestCaseResult, 0, len(sub.Results))
	for _, r := range sub.Results {
		if r.Hidden {
			continue
		}
		cp.Results = append(cp.Results, r)
	}
	return &cp
}
