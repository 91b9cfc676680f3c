package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/hyperresearch/pkg/database"
)

type Handler struct {
	Service *Service

	mcpSessions map[string]*MCPSession
	sessionMu   sync.RWMutex
}

func NewHandler(s *Service) *Handler {
	return &Handler{
		Service:     s,
		mcpSessions: make(map[string]*MCPSession),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/mcp", h.MCPHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/sessions", h.createSession)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.POST("/sessions/:id/deltas", h.appendDeltas)
		api.POST("/sessions/:id/actions", h.dispatchAction)
		api.DELETE("/sessions/:id/state", h.clearState)
		api.GET("/sessions/:id/events", h.streamState)
		api.GET("/sessions/:id/logs", h.getLogs)

		// Panel visibility
		api.POST("/panels", h.mountPanel)
		api.GET("/panels/:id", h.evaluatePanel)
		api.POST("/panels/:id/claim", h.claimPanel)
		api.DELETE("/panels/:id", h.unmountPanel)
	}
}

// writeError maps service errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPanelNotFound), errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sess, err := h.Service.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.View())
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.Service.ListSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	// Return empty list instead of null
	if sessions == nil {
		sessions = []database.SessionRecord{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	sess, err := h.Service.Session(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

func (h *Handler) appendDeltas(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var deltas []json.RawMessage
	if err := c.ShouldBindJSON(&deltas); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Service.AppendDeltas(c.Request.Context(), id, deltas)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) dispatchAction(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.Service.Dispatch(c.Request.Context(), id, req.Action())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) clearState(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	state, err := h.Service.Dispatch(c.Request.Context(), id, ActionRequest{Type: "clear"}.Action())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// streamState sends the current snapshot and then every change as SSE
func (h *Handler) streamState(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	sess, err := h.Service.Session(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	updates, cancel := sess.Store.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	if !writeEvent(c, sess.Store.State()) {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case state, open := <-updates:
			if !open || !writeEvent(c, state) {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return false
	}
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
	return true
}

func (h *Handler) getLogs(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	logs, err := h.Service.Logs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []database.LogRecord{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) mountPanel(c *gin.Context) {
	c.JSON(http.StatusCreated, h.Service.MountPanel())
}

func (h *Handler) evaluatePanel(c *gin.Context) {
	var session *uuid.UUID
	if raw := c.Query("session"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session uuid"})
			return
		}
		session = &id
	}

	view, err := h.Service.EvaluatePanel(c.Request.Context(), c.Param("id"), session)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) claimPanel(c *gin.Context) {
	view, err := h.Service.ClaimPanel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) unmountPanel(c *gin.Context) {
	if err := h.Service.UnmountPanel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
