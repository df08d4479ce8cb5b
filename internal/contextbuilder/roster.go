package contextbuilder

import (
	"strings"

	"github.com/dropshiptriage/triage/internal/models"
)

// IdentityRoster canonicalizes which participants on a ticket are internal
// agents, the customer, or the supplier (spec.md §4.5 item 1).
type IdentityRoster struct {
	Customer string
	Supplier string
	Internal []string
}

// buildRoster derives the roster from configured internal-agent identities
// and the ticket's own fields first; a still-unknown supplier is filled in
// from history role metadata or, as a last resort, from the first sender
// with no role set who is neither the customer nor internal. Salutations in
// prior messages are not inspected.
func buildRoster(state *models.TicketState, history []models.TicketHistoryEntry, internalAgents []string) IdentityRoster {
	roster := IdentityRoster{
		Customer: state.CustomerEmail,
		Internal: internalAgents,
	}
	if state.SupplierEmail != nil {
		roster.Supplier = *state.SupplierEmail
	}

	internalSet := make(map[string]struct{}, len(internalAgents))
	for _, a := range internalAgents {
		internalSet[strings.ToLower(a)] = struct{}{}
	}

	if roster.Supplier == "" {
		roster.Supplier = inferSupplierFromHistory(history, roster.Customer, internalSet)
	}

	return roster
}

func inferSupplierFromHistory(history []models.TicketHistoryEntry, customer string, internal map[string]struct{}) string {
	for _, entry := range history {
		if entry.Role == models.RoleSupplier {
			return entry.From
		}
	}
	// Last-resort heuristic: the first sender who is neither the customer
	// nor an internal agent, and whose role metadata was never set, is
	// presumed supplier. The message text (salutation or otherwise) is not
	// examined.
	for _, entry := range history {
		from := strings.ToLower(entry.From)
		if from == strings.ToLower(customer) {
			continue
		}
		if _, ok := internal[from]; ok {
			continue
		}
		if entry.Role == models.RoleUnknown {
			return entry.From
		}
	}
	return ""
}

// RoleOf classifies an address against the roster.
func (r IdentityRoster) RoleOf(address string) models.ParticipantRole {
	lower := strings.ToLower(address)
	if lower == strings.ToLower(r.Customer) {
		return models.RoleCustomer
	}
	if r.Supplier != "" && lower == strings.ToLower(r.Supplier) {
		return models.RoleSupplier
	}
	for _, a := range r.Internal {
		if strings.ToLower(a) == lower {
			return models.RoleInternal
		}
	}
	return models.RoleUnknown
}
