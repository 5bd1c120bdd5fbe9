package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rankoj/internal/judge/model"
	"rankoj/pkg/utils/logger"
)

const wsWriteTimeout = 5 * time.Second

// StatusEvent is one websocket frame describing a status transition.
type StatusEvent struct {
	SubmissionID  string                 `json:"submission_id"`
	Status        model.SubmissionStatus `json:"status"`
	FinalVerdict  model.Verdict          `json:"final_verdict,omitempty"`
	ScoreFraction float64                `json:"score_fraction"`
	Results       []model.TestCaseResult `json:"results,omitempty"`
}

// Hub fans submission status transitions out to websocket subscribers.
// It implements the dispatcher's Notifier contract.
type Hub struct {
	upgrader websocket.Upgrader

	mu sync.Mutex
	// subscriber conns per submission id; the value records whether the
	// subscriber may see hidden test case results.
	subs map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The judge API is same-origin or behind a gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[string]map[*websocket.Conn]bool),
	}
}

// NotifyStatus pushes a transition to every subscriber of the submission and
// closes the stream once the submission is terminal.
func (h *Hub) NotifyStatus(sub *model.Submission) {
	full := statusEvent(sub)
	redacted := statusEvent(redactHidden(sub))
	terminal := sub.Status == model.StatusCompleted || sub.Status == model.StatusSystemError

	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.subs[sub.ID]
	for conn, admin := range conns {
		event := redacted
		if admin {
			event = full
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			delete(conns, conn)
			_ = conn.Close()
		}
	}
	if terminal {
		for conn := range conns {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			_ = conn.Close()
		}
		delete(h.subs, sub.ID)
	}
}

// Serve upgrades the request and streams transitions for one submission,
// starting with its current state.
func (h *Hub) Serve(c *gin.Context, sub *model.Submission, admin bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	view := sub
	if !admin {
		view = redactHidden(sub)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(statusEvent(view)); err != nil {
		_ = conn.Close()
		return
	}
	if sub.Status == model.StatusCompleted || sub.Status == model.StatusSystemError {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteTimeout))
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	if h.subs[sub.ID] == nil {
		h.subs[sub.ID] = make(map[*websocket.Conn]bool)
	}
	h.subs[sub.ID][conn] = admin
	h.mu.Unlock()

	go h.readLoop(c.Request.Context(), sub.ID, conn)
}

// readLoop drains client frames so pings are answered and a closed peer is
// noticed and unsubscribed.
func (h *Hub) readLoop(ctx context.Context, submissionID string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if conns := h.subs[submissionID]; conns != nil {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, submissionID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
	logger.Debug(ctx, "websocket subscriber disconnected",
		zap.String("submission_id", submissionID))
}

func statusEvent(sub *model.Submission) StatusEvent {
	return StatusEvent{
		SubmissionID:  sub.ID,
		Status:        sub.Status,
		FinalVerdict:  sub.FinalVerdict,
		ScoreFraction: sub.ScoreFraction,
		Results:       sub.Results,
	}
}
