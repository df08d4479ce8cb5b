package contextbuilder

import "github.com/dropshiptriage/triage/internal/models"

// DraftKind is which outbound channel a rendered body is headed for. A
// Redactor that applies to DraftKindCustomer must never let a supplier name
// or supplier-only detail leak into that body.
type DraftKind string

const (
	DraftKindCustomer DraftKind = "customer"
	DraftKindSupplier DraftKind = "supplier"
	DraftKindInternal DraftKind = "internal"
)

// Redactor inspects and rewrites a rendered draft body before it is
// persisted as a PendingMessage. Modeled on the teacher's
// masking.Masker (Name/AppliesTo/Mask), generalized from "mask Kubernetes
// Secret data" to "strip supplier-identifying content from customer-facing
// drafts". A Redactor must be defensive: on doubt, it blocks rather than
// lets content through (Redact's second return value is false).
type Redactor interface {
	// Name returns the unique identifier for this redactor.
	Name() string
	// Applies reports whether this redactor has anything to say about a
	// draft of the given kind. Fast gate: no parsing.
	Applies(kind DraftKind) bool
	// Redact rewrites body against ticket state, returning the rewritten
	// body and true, or ("", false) if the body cannot be made safe
	// (policy-block: the caller must fall back to NO_DRAFT).
	Redact(body string, state *models.TicketState) (string, bool)
}
