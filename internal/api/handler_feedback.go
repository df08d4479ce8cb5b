package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dropshiptriage/triage/internal/models"
)

// handleFeedback handles POST /ai-decisions/{id}/feedback.
func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Feedback {
	case models.FeedbackCorrect, models.FeedbackIncorrect, models.FeedbackPartial:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "feedback must be correct, incorrect, or partial"})
		return
	}

	if err := s.store.RecordOperatorFeedback(c.Request.Context(), c.Param("id"), req.Feedback, req.Notes); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// handleFeedbackMetrics handles GET /metrics/feedback: counts of each
// feedback verdict across all AIDecisions, the log/slog-observed operator
// quality signal called out in SPEC_FULL §4.
func (s *Server) handleFeedbackMetrics(c *gin.Context) {
	counts, err := s.store.FeedbackCounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback_counts": counts})
}
