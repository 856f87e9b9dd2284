package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/api/serviceerror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
)

// signatureHeader carries the hex HMAC-SHA256 of the webhook body,
// prefixed with "sha256=".
const signatureHeader = "X-Tracker-Signature-256"

// maxWebhookBody bounds request bodies to 1MB.
const maxWebhookBody = 1 << 20

// runService is the slice of pipeline.Starter the HTTP surface uses.
type runService interface {
	Start(ctx context.Context, req pipeline.StartRequest) (*pipeline.RunHandle, error)
	GetStatus(ctx context.Context, workflowID string) (*pipeline.WorkflowRun, error)
	Cancel(ctx context.Context, workflowID string) error
}

// Server exposes the run API and the tracker webhook over HTTP.
type Server struct {
	echo          *echo.Echo
	runs          runService
	webhookSecret config.Secret
	logger        *logging.Logger

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// newServer builds the echo server and registers all routes.
func newServer(runs runService, webhookSecret config.Secret, logger *logging.Logger) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:          e,
		runs:          runs,
		webhookSecret: webhookSecret,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
		lastCleanup:   time.Now(),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus metrics are unauthenticated and
	// exempt from rate limiting so probes never starve.
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", s.rateLimit)
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.DELETE("/runs/:id", s.handleCancelRun)

	s.echo.POST("/webhook/tracker", s.handleTrackerWebhook, s.rateLimit)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// rateLimit rejects clients that exceed 60 requests per minute per IP.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := clientIP(c.Request())
		if !s.limiterFor(ip).Allow() {
			s.logger.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", ip))
			runsRejected.WithLabelValues("rate_limited").Inc()
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// limiterFor returns the rate limiter for the given IP address.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clean up old limiters every hour to prevent memory leaks
	if time.Since(s.lastCleanup) > time.Hour {
		s.limiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, exists := s.limiters[ip]
	if !exists {
		// 60 requests per minute = 1 per second with burst of 10
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.limiters[ip] = limiter
	}

	return limiter
}

// clientIP extracts the client IP address from the request.
func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP in the comma-separated list
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// startRunRequest is the request body for POST /api/v1/runs.
type startRunRequest struct {
	TaskID         string             `json:"taskId"`
	ProjectID      string             `json:"projectId"`
	OrganizationID string             `json:"organizationId,omitempty"`
	Phase          string             `json:"phase,omitempty"`
	Config         *automation.Config `json:"config,omitempty"`
}

// validate rejects requests before they reach the Temporal cluster.
func (r *startRunRequest) validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("taskId field is required")
	}
	if r.ProjectID == "" {
		return fmt.Errorf("projectId field is required")
	}
	if r.Phase != "" {
		if _, err := automation.ParsePhase(r.Phase); err != nil {
			return err
		}
	}
	if r.Config != nil {
		r.Config.Normalize()
		if err := r.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// errorResponse is the JSON body for error statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartRun triggers a pipeline run for a tracker task.
func (s *Server) handleStartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid start request", zap.Error(err))
		runsRejected.WithLabelValues("invalid").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		s.logger.Warn(ctx, "rejected start request", zap.Error(err))
		runsRejected.WithLabelValues("invalid").Inc()
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	handle, err := s.runs.Start(ctx, pipeline.StartRequest{
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		Phase:          req.Phase,
		Config:         req.Config,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			runsRejected.WithLabelValues("duplicate").Inc()
			return c.JSON(http.StatusConflict, errorResponse{Error: "a run for this task is already active"})
		}
		s.logger.Error(ctx, "start run failed",
			zap.String("task_id", req.TaskID),
			zap.String("project_id", req.ProjectID),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	runsStarted.WithLabelValues("api").Inc()
	return c.JSON(http.StatusCreated, handle)
}

// handleGetRun returns the live status snapshot of a run.
func (s *Server) handleGetRun(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	run, err := s.runs.GetStatus(ctx, workflowID)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		}
		s.logger.Error(ctx, "status query failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query run")
	}

	return c.JSON(http.StatusOK, run)
}

// handleCancelRun requests cancellation of a running pipeline.
func (s *Server) handleCancelRun(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID := c.Param("id")

	if err := s.runs.Cancel(ctx, workflowID); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		}
		s.logger.Error(ctx, "cancel failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to cancel run")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// trackerEvent is the webhook payload the issue tracker delivers.
type trackerEvent struct {
	Event          string `json:"event"`
	TaskID         string `json:"taskId"`
	ProjectID      string `json:"projectId"`
	OrganizationID string `json:"organizationId"`
	Phase          string `json:"phase"`
}

// handleTrackerWebhook verifies and processes a tracker event delivery.
//
// Deliveries are at-least-once, so a duplicate trigger answers 200 rather
// than an error status that would make the tracker redeliver forever.
func (s *Server) handleTrackerWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	r := c.Request()

	r.Body = http.MaxBytesReader(c.Response(), r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		webhookEvents.WithLabelValues("invalid_payload").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if !s.verifySignature(payload, r.Header.Get(signatureHeader)) {
		s.logger.Warn(ctx, "invalid webhook signature", zap.String("ip", clientIP(r)))
		webhookEvents.WithLabelValues("invalid_signature").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var event trackerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn(ctx, "unparseable webhook payload", zap.Error(err))
		webhookEvents.WithLabelValues("invalid_payload").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	req := pipeline.StartRequest{
		TaskID:         event.TaskID,
		ProjectID:      event.ProjectID,
		OrganizationID: event.OrganizationID,
	}

	switch event.Event {
	case "task.automation_requested":
		// Full pipeline run over every enabled phase.
	case "task.phase_requested":
		if event.Phase == "" {
			webhookEvents.WithLabelValues("invalid_payload").Inc()
			return echo.NewHTTPError(http.StatusBadRequest, "phase field is required")
		}
		req.Phase = event.Phase
	default:
		s.logger.Debug(ctx, "ignoring tracker event", zap.String("event", event.Event))
		webhookEvents.WithLabelValues("ignored").Inc()
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if event.TaskID == "" || event.ProjectID == "" {
		webhookEvents.WithLabelValues("invalid_payload").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "taskId and projectId fields are required")
	}
	if req.Phase != "" {
		if _, err := automation.ParsePhase(req.Phase); err != nil {
			webhookEvents.WithLabelValues("invalid_payload").Inc()
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}

	handle, err := s.runs.Start(ctx, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			webhookEvents.WithLabelValues("duplicate").Inc()
			return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
		}
		s.logger.Error(ctx, "webhook trigger failed",
			zap.String("event", event.Event),
			zap.String("task_id", event.TaskID),
			zap.String("project_id", event.ProjectID),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	s.logger.Info(ctx, "webhook trigger accepted",
		zap.String("event", event.Event),
		zap.String("workflow_id", handle.WorkflowID),
		zap.String("run_id", handle.RunID),
	)
	runsStarted.WithLabelValues("webhook").Inc()
	webhookEvents.WithLabelValues("accepted").Inc()

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"workflowId": handle.WorkflowID,
	})
}

// verifySignature checks the hex HMAC-SHA256 of the payload against the
// "sha256=" prefixed signature header using constant-time comparison.
func (s *Server) verifySignature(payload []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret.Value()))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
