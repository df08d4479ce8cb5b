package contextbuilder

import "github.com/dropshiptriage/triage/internal/models"

// RedactedState is the enumerated, externally-safe view of a ticket handed
// to the LLM and shown to the operator as a preview (spec.md §4.5 item 3).
type RedactedState struct {
	TicketNumber        string   `json:"ticket_number"`
	OrderNumber         string   `json:"order_number,omitempty"`
	PurchaseOrderNumber string   `json:"purchase_order_number,omitempty"`
	Participants        []string `json:"participants"`
	Resolution          string   `json:"resolution,omitempty"`
	NextETA             string   `json:"next_eta,omitempty"`
	Tracking            string   `json:"tracking,omitempty"`
	ReturnRequired      bool     `json:"return_required"`
	DisposalAllowed     bool     `json:"disposal_allowed"`
	LastMessages        []string `json:"last_message_summaries"`
	RisksOrGaps         []string `json:"risks_or_gaps"`
}

// buildRedactedState enumerates the fields the prompt and operator preview
// are both built from. Participants are listed by role, never raw supplier
// identity, consistent with the customer-facing redaction rule — the
// roster itself (which does carry the supplier address) is a separate,
// internal-only value never serialized into this struct.
func buildRedactedState(state *models.TicketState, history []models.TicketHistoryEntry, roster IdentityRoster) RedactedState {
	rs := RedactedState{
		TicketNumber: state.TicketNumber,
		Participants: participantRoles(roster),
	}
	if state.OrderNumber != nil {
		rs.OrderNumber = *state.OrderNumber
	}
	if state.PurchaseOrderNumber != nil {
		rs.PurchaseOrderNumber = *state.PurchaseOrderNumber
	}

	const maxSummaries = 5
	start := 0
	if len(history) > maxSummaries {
		start = len(history) - maxSummaries
	}
	for _, entry := range history[start:] {
		rs.LastMessages = append(rs.LastMessages, summarize(entry))
	}

	if state.OrderNumber == nil && state.PurchaseOrderNumber == nil {
		rs.RisksOrGaps = append(rs.RisksOrGaps, "no order or purchase-order reference resolved")
	}
	if roster.Supplier == "" {
		rs.RisksOrGaps = append(rs.RisksOrGaps, "supplier identity unresolved")
	}

	return rs
}

func participantRoles(roster IdentityRoster) []string {
	roles := []string{"customer"}
	if roster.Supplier != "" {
		roles = append(roles, "supplier")
	}
	if len(roster.Internal) > 0 {
		roles = append(roles, "internal")
	}
	return roles
}

func summarize(entry models.TicketHistoryEntry) string {
	const maxLen = 200
	body := entry.Body
	if len(body) > maxLen {
		body = body[:maxLen] + "..."
	}
	return string(entry.Role) + ": " + body
}
