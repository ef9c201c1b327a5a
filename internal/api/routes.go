// Package api exposes the assistant over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"codask/internal/assistant"
	"codask/internal/session"
	"codask/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// Service is the conversation facade served by the API.
type Service interface {
	Ask(ctx context.Context, sessionID, query string) (assistant.Answer, error)
	ResetSession(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]session.Turn, error)
}

type askRequest struct {
	Query string `json:"query" binding:"required"`
}

type Handlers struct {
	svc     Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewHandlers wraps svc. timeout bounds one Ask; zero means unbounded.
func NewHandlers(svc Service, timeout time.Duration, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, timeout: timeout, logger: logger}
}

// RegisterRoutes registers the endpoints:
//
//	POST   /v1/ask                      - ask in a new session
//	POST   /v1/sessions/:id/ask         - ask in an existing session
//	DELETE /v1/sessions/:id             - reset a session
//	GET    /v1/sessions/:id/history     - list a session's turns
//	GET    /healthz
//	GET    /metrics
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := r.Group("/v1")
	v1.POST("/ask", h.Ask)
	v1.POST("/sessions/:id/ask", h.Ask)
	v1.DELETE("/sessions/:id", h.Reset)
	v1.GET("/sessions/:id/history", h.History)
}

// NewRouter builds a gin engine with recovery and request logging.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	RegisterRoutes(r, h)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with a non-empty query"})
		return
	}
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	ans, err := h.svc.Ask(ctx, c.Param("id"), req.Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

func (h *Handlers) Reset(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.ResetSession(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset", "session_id": id})
}

func (h *Handlers) History(c *gin.Context) {
	id := c.Param("id")
	turns, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": turns})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assistant.ErrEmptyQuery), errors.Is(err, assistant.ErrEmptySession):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		status = 499
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
