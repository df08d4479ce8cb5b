package contextbuilder

import (
	"strings"

	"github.com/dropshiptriage/triage/internal/models"
)

// SupplierIdentityRedactor enforces "no known supplier email or registered
// supplier name in the directory may appear in customer-facing content"
// (spec.md §4.5, §8 P8).
type SupplierIdentityRedactor struct{}

func (r *SupplierIdentityRedactor) Name() string { return "supplier_identity" }

func (r *SupplierIdentityRedactor) Applies(kind DraftKind) bool {
	return kind == DraftKindCustomer
}

func (r *SupplierIdentityRedactor) Redact(body string, state *models.TicketState) (string, bool) {
	if state == nil {
		return body, true
	}
	lower := strings.ToLower(body)
	if state.SupplierEmail != nil && strings.Contains(lower, strings.ToLower(*state.SupplierEmail)) {
		return "", false
	}
	if state.SupplierName != nil && strings.TrimSpace(*state.SupplierName) != "" &&
		strings.Contains(lower, strings.ToLower(*state.SupplierName)) {
		return "", false
	}
	for _, ref := range state.SupplierTicketReferences {
		if ref != "" && strings.Contains(lower, strings.ToLower(ref)) {
			return "", false
		}
	}
	return body, true
}

// InternalFieldRedactor enforces "internal fields never appear externally":
// it blocks any customer- or supplier-facing body that echoes an internal
// agent identity.
type InternalFieldRedactor struct {
	InternalAgents []string
}

func (r *InternalFieldRedactor) Name() string { return "internal_field" }

func (r *InternalFieldRedactor) Applies(kind DraftKind) bool {
	return kind == DraftKindCustomer || kind == DraftKindSupplier
}

func (r *InternalFieldRedactor) Redact(body string, _ *models.TicketState) (string, bool) {
	lower := strings.ToLower(body)
	for _, agent := range r.InternalAgents {
		if agent != "" && strings.Contains(lower, strings.ToLower(agent)) {
			return "", false
		}
	}
	return body, true
}
