package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/devexec/internal/observability"
	"github.com/danmuck/devexec/internal/protocol/session"
	"github.com/danmuck/devexec/internal/shell"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestIDHeader = "X-Request-ID"

// ExecRequest is the body of POST /devices/:serial/exec.
type ExecRequest struct {
	Command     string `json:"command" binding:"required"`
	Stdin       string `json:"stdin,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
}

type ExecResponse struct {
	RequestID string `json:"request_id"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  *int   `json:"exit_code"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "devexec",
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	devices := s.router.Group("/devices", requestID(), s.authMiddleware())
	devices.GET("/:serial/features", s.handleFeatures)
	devices.POST("/:serial/exec", s.handleExec)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(observability.RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) handleFeatures(c *gin.Context) {
	serial := c.Param("serial")
	features, err := s.devices.Features(c.Request.Context(), serial)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"serial": serial, "features": features.List()})
}

func (s *Server) handleExec(c *gin.Context) {
	serial := c.Param("serial")
	id := c.GetString(observability.RequestIDKey)

	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": id})
		return
	}
	cfg, err := s.execConfig(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": id})
		return
	}

	res, err := shell.Single(c.Request.Context(), s.exec, serial, cfg, shell.NewTextCollector())
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "request_id": id})
		return
	}
	out := ExecResponse{RequestID: id, Stdout: res.Stdout, Stderr: res.Stderr}
	if res.ExitCode != shell.NoExitCode {
		code := res.ExitCode
		out.ExitCode = &code
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) execConfig(req ExecRequest) (shell.Config, error) {
	cfg := s.opts.Defaults.Command(req.Command)
	if req.Stdin != "" {
		cfg = cfg.WithStdin(strings.NewReader(req.Stdin))
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return shell.Config{}, err
		}
		cfg = cfg.WithTimeout(d)
	}
	if req.IdleTimeout != "" {
		d, err := time.ParseDuration(req.IdleTimeout)
		if err != nil {
			return shell.Config{}, err
		}
		cfg = cfg.WithIdleTimeout(d)
	}
	if req.Protocol != "" {
		p, err := shell.ParseProtocol(req.Protocol)
		if err != nil {
			return shell.Config{}, err
		}
		cfg = cfg.Force(p)
	}
	return cfg, cfg.Validate()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shell.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, shell.ErrNoCompatibleProtocol):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shell.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrFail):
		var fail *session.FailError
		if errors.As(err, &fail) && strings.Contains(fail.Message, "not found") {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
