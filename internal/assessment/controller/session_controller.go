package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codeassess/internal/assessment/model"
	"codeassess/internal/assessment/session"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"
	"codeassess/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// SessionController exposes assessment sessions over HTTP.
type SessionController struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	// execLimit guards the run and evaluate routes, which cost a remote execution each.
	execLimit gin.HandlerFunc
}

// NewSessionController creates a new SessionController.
func NewSessionController(manager *session.Manager) *SessionController {
	return &SessionController{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WithExecutionLimit installs mw in front of run and evaluate.
func (h *SessionController) WithExecutionLimit(mw gin.HandlerFunc) *SessionController {
	h.execLimit = mw
	return h
}

// Register mounts the session routes on group.
func (h *SessionController) Register(group *gin.RouterGroup) {
	group.POST("", h.Open)
	group.GET("/:id", h.Get)
	group.DELETE("/:id", h.Close)
	group.PUT("/:id/code", h.Edit)
	group.POST("/:id/paste", h.Paste)
	group.POST("/:id/language", h.ChangeLanguage)
	if h.execLimit != nil {
		group.POST("/:id/run", h.execLimit, h.Run)
		group.POST("/:id/evaluate", h.execLimit, h.Evaluate)
	} else {
		group.POST("/:id/run", h.Run)
		group.POST("/:id/evaluate", h.Evaluate)
	}
	group.POST("/:id/submit", h.Submit)
	group.POST("/:id/save", h.Save)
	group.POST("/:id/reset", h.Reset)
	group.GET("/:id/events", h.Events)
}

// Open starts or resumes a session.
func (h *SessionController) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	token := req.Token
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	ctrl, err := h.manager.Open(c.Request.Context(), session.OpenRequest{
		Token:     token,
		SessionID: req.SessionID,
		Language:  req.Language,
		Code:      req.Code,
		Challenge: req.Challenge,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ctrl.Snapshot())
}

// Get returns the session snapshot.
func (h *SessionController) Get(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	response.Success(c, ctrl.Snapshot())
}

// Close forgets the session, e.g. when the candidate navigates away.
func (h *SessionController) Close(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Close(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": id})
}

func (h *SessionController) Edit(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := ctrl.Edit(*req.Code); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ctrl.Snapshot())
}

func (h *SessionController) Paste(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	ev, err := ctrl.Paste(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, PasteResponse{
		Count:   ev.Count,
		Level:   string(ev.Level),
		Message: ev.Message,
		Flagged: ev.Flagged(),
	})
}

func (h *SessionController) ChangeLanguage(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req LanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	language, err := model.ParseLanguage(req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := ctrl.ChangeLanguage(language); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ctrl.Snapshot())
}

// Run executes the sample cases. A code field in the body is applied first.
func (h *SessionController) Run(c *gin.Context) {
	ctrl, ok := h.lookupWithCode(c)
	if !ok {
		return
	}
	res, err := ctrl.Run(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RunResponse{Result: res, Output: res.Display()})
}

// Evaluate runs the full suite. A code field in the body is applied first.
func (h *SessionController) Evaluate(c *gin.Context) {
	ctrl, ok := h.lookupWithCode(c)
	if !ok {
		return
	}
	res, err := ctrl.Evaluate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, EvaluateResponse{
		Results: res.Results,
		Summary: model.Summary(res.Results),
		Output:  res.Output,
	})
}

// Submit performs a manual submission. Repeats return the earlier outcome,
// so a code field is ignored once the buffer is no longer editable.
func (h *SessionController) Submit(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	if !h.applyCode(c, ctrl, true) {
		return
	}
	out, err := ctrl.Submit(c.Request.Context(), model.TriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

func (h *SessionController) Save(c *gin.Context) {
	ctrl, ok := h.lookupWithCode(c)
	if !ok {
		return
	}
	savedAt, err := ctrl.Save(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"saved_at": savedAt})
}

func (h *SessionController) Reset(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := ctrl.Reset(); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ctrl.Snapshot())
}

// Events streams session notifications over a websocket until either side closes.
func (h *SessionController) Events(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, cancel := ctrl.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(conn, ctrl.Snapshot()); err != nil {
		return
	}
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				logger.Debug(ctx, "websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

func (h *SessionController) lookup(c *gin.Context) (*session.Controller, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid session id")
		return nil, false
	}
	ctrl, err := h.manager.Get(id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return ctrl, true
}

// lookupWithCode applies an optional code field before the action runs.
func (h *SessionController) lookupWithCode(c *gin.Context) (*session.Controller, bool) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return nil, false
	}
	if !h.applyCode(c, ctrl, false) {
		return nil, false
	}
	return ctrl, true
}

// applyCode writes the body's code field into the buffer. With
// tolerateFrozen set, an InvalidState rejection is dropped and the
// caller decides what a frozen session means.
func (h *SessionController) applyCode(c *gin.Context, ctrl *session.Controller, tolerateFrozen bool) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return false
	}
	if req.Code == nil {
		return true
	}
	if err := ctrl.Edit(*req.Code); err != nil {
		if tolerateFrozen && appErr.Is(err, appErr.InvalidState) {
			return true
		}
		response.Error(c, err)
		return false
	}
	return true
}

// OpenRequest defines the session open payload.
type OpenRequest struct {
	Token     string          `json:"token"`
	SessionID string          `json:"session_id"`
	Language  string          `json:"language"`
	Code      string          `json:"code"`
	Challenge model.Challenge `json:"challenge"`
}

// CodeRequest carries a full replacement of the code buffer.
type CodeRequest struct {
	Code *string `json:"code"`
}

type LanguageRequest struct {
	Language string `json:"language" binding:"required"`
}

type PasteResponse struct {
	Count   int    `json:"count"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Flagged bool   `json:"flagged"`
}

type RunResponse struct {
	Result model.RunResult `json:"result"`
	Output string          `json:"output"`
}

type EvaluateResponse struct {
	Results []bool `json:"results"`
	Summary string `json:"summary"`
	Output  string `json:"output"`
}
