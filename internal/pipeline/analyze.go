package pipeline

import (
	"context"
	"fmt"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
)

// AnalyzePreview is what the operator sees for a preview_only re-analysis
// (§6 POST /tickets/{ticket_number}/analyze): the exact prompts the model
// would receive, without spending a model call (P7: preview and run must
// agree for the same ignored_message_ids).
type AnalyzePreview struct {
	SystemPrompt string
	UserPrompt   string
}

// Reanalyze implements the operator-triggered re-run of the LLM analysis
// for an already-open ticket. With previewOnly set it returns the composed
// prompts and stops; otherwise it calls the model and appends a new
// AIDecision to the ticket's history, exactly like a Pipeline-driven
// analysis would.
func (r *Runner) Reanalyze(ctx context.Context, ticketNumber string, ignoredMessageIDs []string, previewOnly bool) (*AnalyzePreview, *models.AIDecision, error) {
	ticket, err := r.store.GetTicket(ctx, ticketNumber)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: loading ticket %s: %w", ticketNumber, err)
	}
	history, err := r.store.ListTicketHistory(ctx, ticketNumber)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: loading history for %s: %w", ticketNumber, err)
	}

	r.resolveSupplierName(ctx, ticket)

	prompts, err := r.ctxBuilder.Build(ticket, history, ignoredMessageIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: building prompts for %s: %w", ticketNumber, err)
	}
	preview := &AnalyzePreview{SystemPrompt: prompts.SystemPrompt, UserPrompt: prompts.UserPrompt}
	if previewOnly {
		return preview, nil, nil
	}

	analysis, err := r.llmClient.Analyze(ctx, prompts.SystemPrompt, prompts.UserPrompt)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: analyzing %s: %w", ticketNumber, err)
	}

	decision := r.buildDecision(ticket, ticket.CustomerEmail, lastCustomerBody(history), analysis)
	if err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, ticket.TicketNumber); err != nil {
			return err
		}
		return tx.InsertAIDecision(ctx, decision)
	}); err != nil {
		return nil, nil, fmt.Errorf("pipeline: recording re-analysis for %s: %w", ticketNumber, err)
	}

	return preview, decision, nil
}

func lastCustomerBody(history []models.TicketHistoryEntry) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleCustomer {
			return history[i].Body
		}
	}
	return ""
}
