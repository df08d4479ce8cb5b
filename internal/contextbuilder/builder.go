// Package contextbuilder composes the LLM prompt from ticket history, the
// identity roster, and configuration (§4.5). Stateless aside from its
// registered Redactors; all state comes from Build's parameters, mirroring
// the teacher's PromptBuilder.
package contextbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
)

// PolicyBlock is raised when the builder cannot produce a safe output for a
// draft kind — unresolved identity, missing order reference, or a redactor
// refusing the content outright. The pipeline still records an AIDecision
// whose draft for that kind is NO_DRAFT with this reason (spec.md §7).
type PolicyBlock struct {
	Reason string
}

func (e *PolicyBlock) Error() string { return "contextbuilder: policy block: " + e.Reason }

// Builder builds prompts and applies redaction. Construct once, reuse
// across tickets — it holds no per-ticket state.
type Builder struct {
	cfg       *config.Config
	redactors []Redactor
}

// New constructs a Builder with the standard redactor set plus any extra
// redactors the caller wants applied (tests, or future policy additions).
func New(cfg *config.Config, extra ...Redactor) *Builder {
	redactors := []Redactor{
		&SupplierIdentityRedactor{},
		&InternalFieldRedactor{InternalAgents: cfg.InternalAgents},
	}
	redactors = append(redactors, extra...)
	return &Builder{cfg: cfg, redactors: redactors}
}

// Prompts is the final output of Build: what gets sent to the LLM and what
// gets shown to the operator as a preview of that call (P7: preview and run
// must produce the same prompts for the same ignored_message_ids).
type Prompts struct {
	SystemPrompt  string
	UserPrompt    string
	Roster        IdentityRoster
	RedactedState RedactedState
}

// Build assembles Prompts from ticket state and its full history, honoring
// ignoredMessageIDs (the operator override that drops specific history
// entries before they ever reach the model).
func (b *Builder) Build(state *models.TicketState, history []models.TicketHistoryEntry, ignoredMessageIDs []string) (*Prompts, error) {
	filtered := filterHistory(history, ignoredMessageIDs)
	roster := buildRoster(state, filtered, b.cfg.InternalAgents)
	redacted := buildRedactedState(state, filtered, roster)

	stateJSON, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: marshaling redacted state: %w", err)
	}

	return &Prompts{
		SystemPrompt:  b.systemPrompt(),
		UserPrompt:    b.userPrompt(filtered, string(stateJSON)),
		Roster:        roster,
		RedactedState: redacted,
	}, nil
}

// Redact applies every registered Redactor that applies to kind, in
// registration order. The first refusal short-circuits with a PolicyBlock;
// callers must fall back to recording NO_DRAFT for that draft.
func (b *Builder) Redact(kind DraftKind, body string, state *models.TicketState) (string, error) {
	out := body
	for _, r := range b.redactors {
		if !r.Applies(kind) {
			continue
		}
		redacted, ok := r.Redact(out, state)
		if !ok {
			return "", &PolicyBlock{Reason: fmt.Sprintf("%s redactor refused %s draft", r.Name(), kind)}
		}
		out = redacted
	}
	return out, nil
}

func filterHistory(history []models.TicketHistoryEntry, ignoredMessageIDs []string) []models.TicketHistoryEntry {
	if len(ignoredMessageIDs) == 0 {
		return history
	}
	ignored := make(map[string]struct{}, len(ignoredMessageIDs))
	for _, id := range ignoredMessageIDs {
		ignored[id] = struct{}{}
	}
	filtered := make([]models.TicketHistoryEntry, 0, len(history))
	for _, entry := range history {
		if _, skip := ignored[entry.MessageID]; skip {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func (b *Builder) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a customer-support triage assistant for a drop-shipping operation.\n")
	sb.WriteString("Never name or identify the supplier in any customer-facing text.\n")
	sb.WriteString("Never include internal-only details in customer- or supplier-facing text.\n")
	sb.WriteString("Respond only with the fixed JSON schema you were given out of band.\n")
	return sb.String()
}

func (b *Builder) userPrompt(history []models.TicketHistoryEntry, stateJSON string) string {
	var sb strings.Builder
	sb.WriteString("Ticket state:\n")
	sb.WriteString(stateJSON)
	sb.WriteString("\n\nConversation history:\n")
	for _, entry := range history {
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", entry.At.Format("2006-01-02 15:04"), entry.Role, entry.Body))
	}
	return sb.String()
}
