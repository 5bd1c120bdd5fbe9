package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// envelope mirrors the judged API response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

type submissionStatus struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	ProblemID     string  `json:"problem_id"`
	ContestID     string  `json:"contest_id"`
	Language      string  `json:"language"`
	Status        string  `json:"status"`
	FinalVerdict  string  `json:"final_verdict"`
	ScoreFraction float64 `json:"score_fraction"`
	Results       []struct {
		TestCaseID string `json:"test_case_id"`
		Verdict    string `json:"verdict"`
		RuntimeMs  int64  `json:"runtime_ms"`
		MemoryKb   int64  `json:"memory_kb"`
	} `json:"results"`
}

type leaderboard struct {
	ContestID   string    `json:"contest_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Frozen      bool      `json:"frozen"`
	Rows        []struct {
		UserID         string  `json:"user_id"`
		Score          float64 `json:"score"`
		PenaltyMinutes int64   `json:"penalty_minutes"`
		Rank           int     `json:"rank"`
	} `json:"rows"`
}

// client wraps HTTP requests against one judged instance.
type client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	return &client{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
	}
}

func (c *client) do(method, path string, body interface{}, out interface{}) error {
	httpClient := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response failed (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s (code %d, http %d)", env.Message, env.Code, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data failed: %w", err)
		}
	}
	return nil
}

func (c *client) submit(userID, problemID, language, source, contestID string) (string, error) {
	req := map[string]string{
		"user_id":     userID,
		"problem_id":  problemID,
		"language":    language,
		"source_code": source,
	}
	if contestID != "" {
		req["contest_id"] = contestID
	}
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := c.do(http.MethodPost, "/api/v1/submissions", req, &out); err != nil {
		return "", err
	}
	return out.SubmissionID, nil
}

func (c *client) status(submissionID string) (*submissionStatus, error) {
	var out submissionStatus
	if err := c.do(http.MethodGet, "/api/v1/submissions/"+submissionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) leaderboard(contestID string) (*leaderboard, error) {
	var out leaderboard
	if err := c.do(http.MethodGet, "/api/v1/contests/"+contestID+"/leaderboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
