// Package models contains the domain entities and request/response shapes
// shared across the triage pipeline (§3 of the spec).
package models

import "time"

// ProcessedEmail is the idempotency ledger row: one per inbound message
// successfully admitted to the pipeline (I1).
type ProcessedEmail struct {
	SourceMessageID string
	ThreadID        string
	Subject         string
	FromAddress     string
	ReceivedAt      time.Time
	TicketRef       *string
	ContentHash     string
	Success         bool
	ErrorMessage    string
	ProcessedAt     time.Time
}

// TicketStatus is the local, semantic shadow status of an upstream ticket.
type TicketStatus string

const (
	TicketStatusNew              TicketStatus = "new"
	TicketStatusAwaitingCustomer TicketStatus = "awaiting-customer"
	TicketStatusAwaitingSupplier TicketStatus = "awaiting-supplier"
	TicketStatusEscalated        TicketStatus = "escalated"
	TicketStatusImported         TicketStatus = "imported"
	TicketStatusClosed           TicketStatus = "closed"
)

// EscalationReason is a closed set of reasons a ticket can be escalated for,
// so the (out-of-scope) operator console can filter without parsing free text.
type EscalationReason string

const (
	EscalationLowConfidence        EscalationReason = "low_confidence"
	EscalationLLMRequested         EscalationReason = "llm_requested"
	EscalationHumanRequested       EscalationReason = "human_requested"
	EscalationPolicyBlock          EscalationReason = "policy_block"
	EscalationSendFailureExhausted EscalationReason = "send_failure_exhausted"
)

// TicketState is the local shadow of an upstream ticket (§3).
type TicketState struct {
	TicketNumber             string
	TicketID                 string
	Status                   TicketStatus
	CustomStatusID           *string
	CustomerEmail            string
	Language                 string
	OrderNumber              *string
	PurchaseOrderNumber      *string
	SupplierEmail            *string
	SupplierTicketReferences []string
	// SupplierName is the supplier directory entry's registered name,
	// resolved transiently from SupplierEmail before redaction (§4.5, §8
	// P8) — never persisted, since the directory itself is the source of
	// truth and SupplierEmail can change between one lookup and the next.
	SupplierName             *string
	Escalated                bool
	EscalationReason         *EscalationReason
	EscalationAt             *time.Time
	LastSeenAt               time.Time
	GmailThreadID            string
}

// DraftResult is a single draft produced by the LLM, surfaced independently
// of whether it was actually produced (§4.4).
type DraftResult struct {
	Body     string
	NoDraft  bool
	Reason   string // populated when NoDraft is true
}

// SupplierAction accompanies a supplier draft, describing what the supplier
// is being asked to do.
type SupplierAction struct {
	Action  string
	Message string
}

// AIDecision is one append-only record per LLM analysis (§3).
type AIDecision struct {
	ID                 string
	TicketRef          string
	At                 time.Time
	DetectedLanguage   string
	DetectedIntent     string
	Confidence         float64
	RecommendedAction  string
	CustomerDraft      DraftResult
	SupplierDraft      DraftResult
	SupplierAction     *SupplierAction
	RequiresEscalation bool
	PhaseAtDecision    string
	OperatorFeedback   *FeedbackKind
	FeedbackNotes      string
	Summary            string
	StateJSON          map[string]any
}

// FeedbackKind is the operator's verdict on an AIDecision.
type FeedbackKind string

const (
	FeedbackCorrect   FeedbackKind = "correct"
	FeedbackIncorrect FeedbackKind = "incorrect"
	FeedbackPartial   FeedbackKind = "partial"
)

// PendingMessageKind is who the draft is addressed to.
type PendingMessageKind string

const (
	KindCustomer PendingMessageKind = "customer"
	KindSupplier PendingMessageKind = "supplier"
	KindInternal PendingMessageKind = "internal"
)

// PendingMessageStatus is the state machine's current state (§4.8).
type PendingMessageStatus string

const (
	StatusPending  PendingMessageStatus = "pending"
	StatusApproved PendingMessageStatus = "approved"
	StatusRejected PendingMessageStatus = "rejected"
	StatusSent     PendingMessageStatus = "sent"
	StatusFailed   PendingMessageStatus = "failed"
)

// Attachment is a byte stream with a filename and MIME type (§6).
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// PendingMessage is a draft awaiting (or past) human approval (§3).
type PendingMessage struct {
	ID               string
	TicketRef        string
	Kind             PendingMessageKind
	To               string
	CC               []string
	BCC              []string
	Subject          string
	Body             string
	Attachments      []Attachment
	Confidence       float64
	AIDecisionRef    string
	Status           PendingMessageStatus
	RetryCount       int
	LastError        string
	CreatedAt        time.Time
	ReviewedAt       *time.Time
	ReviewedBy       string
	SentAt           *time.Time
	RejectionReason  string
	NextAttemptAt    *time.Time
}

// Supplier is a directory entry for an upstream supplier (§3).
type Supplier struct {
	Name          string
	DefaultEmail  string
	Contacts      map[string]string
	Language      string
}

// SupplierMessage is one outbound supplier communication record (§3).
type SupplierMessage struct {
	ID               string
	SupplierRef      string
	TicketRef        string
	SentAt           time.Time
	ReminderSentAt   *time.Time
	ResponseReceived bool
	NextCheckAt      time.Time
}

// RetryItem is an ingest retry queue row (§3).
type RetryItem struct {
	SourceMessageID string
	Attempts        int
	NextAttemptAt   time.Time
	LastError       string
	Payload         []byte
}

// AuditLogEntry is an append-only audit trail row (§3).
type AuditLogEntry struct {
	At          time.Time
	Actor       string
	TicketRef   string
	Field       string
	Old         string
	New         string
	Description string
}
