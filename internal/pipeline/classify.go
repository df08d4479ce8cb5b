package pipeline

import (
	"errors"

	"github.com/dropshiptriage/triage/internal/contextbuilder"
	"github.com/dropshiptriage/triage/internal/llm"
	"github.com/dropshiptriage/triage/internal/ticketclient"
)

// isPermanent reports whether err is one of the error-taxonomy's "permanent
// external" kinds (§7): a non-retryable ticketing 4xx, or an LLM schema
// violation. Everything else that escapes a client's own bounded retries is
// treated as transient and handed to the RetryScheduler.
func isPermanent(err error) bool {
	var ticketErr *ticketclient.PermanentError
	if errors.As(err, &ticketErr) {
		return true
	}
	var schemaErr *llm.SchemaViolation
	if errors.As(err, &schemaErr) {
		return true
	}
	return false
}

// isPolicyBlock reports whether err is a ContextBuilder/Formatter refusal
// (§7 "policy-block"). The caller still records an AIDecision with
// NO_DRAFT drafts; it is not a pipeline failure.
func isPolicyBlock(err error) bool {
	var block *contextbuilder.PolicyBlock
	return errors.As(err, &block)
}
