package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/models"
)

// handleListPending handles GET /messages/pending?status=&kind=.
func (s *Server) handleListPending(c *gin.Context) {
	status := models.PendingMessageStatus(c.Query("status"))
	kind := models.PendingMessageKind(c.Query("kind"))

	items, err := s.store.ListPendingMessages(c.Request.Context(), status, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}

// pendingDetail is the GET /messages/pending/{id} response: the message
// plus the redacted context its AIDecision was built from (§6 "detail with
// redacted context").
type pendingDetail struct {
	*models.PendingMessage
	RedactedState map[string]any `json:"redacted_state,omitempty"`
}

// handleGetPending handles GET /messages/pending/{id}.
func (s *Server) handleGetPending(c *gin.Context) {
	msg, err := s.store.GetPendingMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	detail := pendingDetail{PendingMessage: msg}
	if msg.AIDecisionRef != "" {
		if decision, err := s.store.GetAIDecision(c.Request.Context(), msg.AIDecisionRef); err == nil {
			detail.RedactedState = decision.StateJSON
		}
	}
	c.JSON(http.StatusOK, detail)
}

// handleApprove handles POST /messages/pending/{id}/approve.
func (s *Server) handleApprove(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var edits *approval.Edits
	if req.Edits != nil {
		edits = &approval.Edits{Body: req.Edits.Body, Subject: req.Edits.Subject}
	}

	if err := s.queue.Approve(c.Request.Context(), c.Param("id"), reviewerFrom(c), edits); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

// handleReject handles POST /messages/pending/{id}/reject.
func (s *Server) handleReject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.queue.Reject(c.Request.Context(), c.Param("id"), reviewerFrom(c), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// handleRetryPending handles POST /messages/pending/{id}/retry.
func (s *Server) handleRetryPending(c *gin.Context) {
	if err := s.queue.Retry(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}
