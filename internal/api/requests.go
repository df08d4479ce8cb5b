package api

import "github.com/dropshiptriage/triage/internal/models"

// approveRequest is the body of POST /messages/pending/{id}/approve. Only
// subject/body are mutable at approval time; envelope fields (to/cc/bcc,
// attachments) are fixed at draft time and not editable from this surface.
type approveRequest struct {
	Edits *struct {
		Subject *string `json:"subject"`
		Body    *string `json:"body"`
	} `json:"edits"`
}

// rejectRequest is the body of POST /messages/pending/{id}/reject.
type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// analyzeRequest is the body of POST /tickets/{ticket_number}/analyze.
type analyzeRequest struct {
	IgnoredMessageIDs []string `json:"ignored_message_ids"`
	PreviewOnly       bool     `json:"preview_only"`
}

// feedbackRequest is the body of POST /ai-decisions/{id}/feedback.
type feedbackRequest struct {
	Feedback models.FeedbackKind `json:"feedback" binding:"required"`
	Notes    string              `json:"notes"`
}
