package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleAnalyze handles POST /tickets/{ticket_number}/analyze. With
// preview_only it returns the composed prompts without calling the model;
// otherwise it runs the analysis and appends a new AIDecision (§6, P7).
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	preview, decision, err := s.runner.Reanalyze(c.Request.Context(), c.Param("ticket_number"), req.IgnoredMessageIDs, req.PreviewOnly)
	if err != nil {
		writeError(c, err)
		return
	}

	if req.PreviewOnly {
		c.JSON(http.StatusOK, gin.H{"preview": preview})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}
