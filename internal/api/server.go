// Package api implements the operator HTTP surface (§6): the
// ApprovalQueue's REST front door plus health and feedback-metrics
// endpoints. Structured like the teacher's cmd/tarsy/main.go gin wiring —
// a single router, one handler file per resource.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/pipeline"
	"github.com/dropshiptriage/triage/internal/store"
)

// Server holds every collaborator the operator surface needs and exposes a
// gin.Engine wired with all routes.
type Server struct {
	store  *store.Store
	queue  *approval.Queue
	runner *pipeline.Runner
	engine *gin.Engine
}

// New constructs a Server and registers its routes.
func New(st *store.Store, queue *approval.Queue, runner *pipeline.Runner) *Server {
	s := &Server{store: st, queue: queue, runner: runner, engine: gin.New()}
	s.engine.Use(gin.Recovery(), securityHeaders())
	s.routes()
	return s
}

// Engine exposes the underlying router, e.g. for http.Server or tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics/feedback", s.handleFeedbackMetrics)

	s.engine.GET("/messages/pending", s.handleListPending)
	s.engine.GET("/messages/pending/:id", s.handleGetPending)
	s.engine.POST("/messages/pending/:id/approve", s.handleApprove)
	s.engine.POST("/messages/pending/:id/reject", s.handleReject)
	s.engine.POST("/messages/pending/:id/retry", s.handleRetryPending)

	s.engine.POST("/tickets/:ticket_number/analyze", s.handleAnalyze)
	s.engine.POST("/ai-decisions/:id/feedback", s.handleFeedback)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
