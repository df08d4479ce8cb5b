package models

import "time"

// InboundMessage is what MailSource hands to the Pipeline (§6).
type InboundMessage struct {
	SourceMessageID string
	ThreadID        string
	From            string
	To              []string
	CC              []string
	Subject         string
	ReceivedAt      time.Time
	BodyPlain       string
	BodyHTML        string
	Attachments     []Attachment
}

// TicketHeader is the minimal set of fields needed to upsert a ticket. When
// returned from a lookup rather than sent as an Upsert request, TicketID
// carries the backend's own identifier (distinct from TicketNumber, the
// human-facing reference) — callers sending this as a request body leave it
// empty, since the backend assigns its own ID.
type TicketHeader struct {
	TicketNumber        string `json:"ticket_number"`
	TicketID            string `json:"ticket_id,omitempty"`
	OrderNumber         string `json:"order_number,omitempty"`
	PurchaseOrderNumber string `json:"purchase_order_number,omitempty"`
	CustomerEmail       string `json:"customer_email"`
	Subject             string `json:"subject,omitempty"`
	Language            string `json:"language,omitempty"`
}

// TicketHistoryEntry is one message in a ticket's conversation history, as
// returned by the ticketing backend or recorded locally for an inbound
// message once it is correlated to a ticket. An inbound message that
// correlates to no ticket is not recorded in history.
type TicketHistoryEntry struct {
	At        time.Time
	From      string
	To        []string
	Role      ParticipantRole
	Body      string
	MessageID string
}

// ParticipantRole classifies a participant in a ticket's history.
type ParticipantRole string

const (
	RoleInternal ParticipantRole = "internal"
	RoleCustomer ParticipantRole = "customer"
	RoleSupplier ParticipantRole = "supplier"
	RoleUnknown  ParticipantRole = "unknown"
)

// AnalysisResult is the LLM's fixed-schema response (§4.4, §6).
type AnalysisResult struct {
	Intent             string         `json:"intent"`
	TicketTypeID       *int           `json:"ticket_type_id"`
	Confidence         float64        `json:"confidence"`
	RequiresEscalation bool           `json:"requires_escalation"`
	CustomerResponse   string         `json:"customer_response"`
	SupplierAction     *SupplierAction `json:"supplier_action"`
	Summary            string         `json:"summary"`
	State              map[string]any `json:"state"`
}

// NoDraftPrefix marks a draft string as deliberately withheld, carrying a
// human-readable reason after it (spec.md §4.4/§6: "NO_DRAFT — <reason>").
const NoDraftPrefix = "NO_DRAFT"
