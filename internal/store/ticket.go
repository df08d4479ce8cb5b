package store

import (
	"context"
	"errors"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

const (
	constraintOrderNumber = "tickets_order_number_key"
	constraintPONumber    = "tickets_purchase_order_number_key"
)

// UpsertTicket inserts a new ticket shadow or updates an existing one keyed
// by ticket_number. Returns ErrConflict if order_number or
// purchase_order_number collides with a different ticket (I2) — the
// correlation key uniqueness is enforced here, at the storage layer, not by
// the caller pre-checking.
func (tx *Tx) UpsertTicket(ctx context.Context, t *models.TicketState) error {
	return upsertTicket(ctx, tx.q(), t)
}

func (s *Store) UpsertTicket(ctx context.Context, t *models.TicketState) error {
	return upsertTicket(ctx, s.q(), t)
}

func upsertTicket(ctx context.Context, q querier, t *models.TicketState) error {
	_, err := q.Exec(ctx, `
		INSERT INTO tickets
			(ticket_number, ticket_id, status, custom_status_id, customer_email, language,
			 order_number, purchase_order_number, supplier_email, supplier_ticket_references,
			 escalated, escalation_reason, escalation_at, last_seen_at, gmail_thread_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (ticket_number) DO UPDATE SET
			ticket_id = EXCLUDED.ticket_id,
			status = EXCLUDED.status,
			custom_status_id = EXCLUDED.custom_status_id,
			customer_email = EXCLUDED.customer_email,
			language = EXCLUDED.language,
			order_number = EXCLUDED.order_number,
			purchase_order_number = EXCLUDED.purchase_order_number,
			supplier_email = EXCLUDED.supplier_email,
			supplier_ticket_references = EXCLUDED.supplier_ticket_references,
			escalated = EXCLUDED.escalated,
			escalation_reason = EXCLUDED.escalation_reason,
			escalation_at = EXCLUDED.escalation_at,
			last_seen_at = EXCLUDED.last_seen_at,
			gmail_thread_id = EXCLUDED.gmail_thread_id
	`, t.TicketNumber, t.TicketID, string(t.Status), t.CustomStatusID, t.CustomerEmail, t.Language,
		t.OrderNumber, t.PurchaseOrderNumber, t.SupplierEmail, t.SupplierTicketReferences,
		t.Escalated, t.EscalationReason, t.EscalationAt, t.LastSeenAt, t.GmailThreadID)
	if err != nil {
		if isUniqueViolation(err, constraintOrderNumber) || isUniqueViolation(err, constraintPONumber) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// GetTicket looks up a ticket shadow by its own ticket number.
func (s *Store) GetTicket(ctx context.Context, ticketNumber string) (*models.TicketState, error) {
	return getTicket(ctx, s.q(), "ticket_number = $1", ticketNumber)
}

func (tx *Tx) GetTicket(ctx context.Context, ticketNumber string) (*models.TicketState, error) {
	return getTicket(ctx, tx.q(), "ticket_number = $1", ticketNumber)
}

// FindTicketByOrderNumber correlates an inbound message to an existing
// ticket via order number (§4.2 correlation rule 1).
func (s *Store) FindTicketByOrderNumber(ctx context.Context, orderNumber string) (*models.TicketState, error) {
	return getTicket(ctx, s.q(), "order_number = $1", orderNumber)
}

// FindTicketByPurchaseOrderNumber correlates via purchase order number
// (§4.2 correlation rule 2, supplier replies).
func (s *Store) FindTicketByPurchaseOrderNumber(ctx context.Context, poNumber string) (*models.TicketState, error) {
	return getTicket(ctx, s.q(), "purchase_order_number = $1", poNumber)
}

// FindTicketByGmailThread correlates via thread id (§4.2 correlation rule 3).
func (s *Store) FindTicketByGmailThread(ctx context.Context, threadID string) (*models.TicketState, error) {
	return getTicket(ctx, s.q(), "gmail_thread_id = $1", threadID)
}

func getTicket(ctx context.Context, q querier, whereClause string, arg string) (*models.TicketState, error) {
	row := q.QueryRow(ctx, `
		SELECT ticket_number, ticket_id, status, custom_status_id, customer_email, language,
		       order_number, purchase_order_number, supplier_email, supplier_ticket_references,
		       escalated, escalation_reason, escalation_at, last_seen_at, gmail_thread_id
		FROM tickets WHERE `+whereClause, arg)

	var t models.TicketState
	var status string
	var escalationReason *models.EscalationReason
	if err := row.Scan(&t.TicketNumber, &t.TicketID, &status, &t.CustomStatusID, &t.CustomerEmail, &t.Language,
		&t.OrderNumber, &t.PurchaseOrderNumber, &t.SupplierEmail, &t.SupplierTicketReferences,
		&t.Escalated, &escalationReason, &t.EscalationAt, &t.LastSeenAt, &t.GmailThreadID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	t.EscalationReason = escalationReason
	return &t, nil
}

// AppendTicketHistory records a message into the ticket's conversation
// history, used by ContextBuilder to reconstruct thread context (§4.3).
func (tx *Tx) AppendTicketHistory(ctx context.Context, ticketNumber string, h models.TicketHistoryEntry) error {
	_, err := tx.q().Exec(ctx, `
		INSERT INTO ticket_history (ticket_ref, at, from_addr, to_addrs, role, body, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketNumber, h.At, h.From, h.To, string(h.Role), h.Body, h.MessageID)
	return err
}

// ListTicketHistory returns the full conversation history for a ticket in
// chronological order.
func (s *Store) ListTicketHistory(ctx context.Context, ticketNumber string) ([]models.TicketHistoryEntry, error) {
	rows, err := s.q().Query(ctx, `
		SELECT at, from_addr, to_addrs, role, body, message_id
		FROM ticket_history WHERE ticket_ref = $1 ORDER BY at ASC
	`, ticketNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TicketHistoryEntry
	for rows.Next() {
		var h models.TicketHistoryEntry
		var role string
		if err := rows.Scan(&h.At, &h.From, &h.To, &role, &h.Body, &h.MessageID); err != nil {
			return nil, err
		}
		h.Role = models.ParticipantRole(role)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetTicketEscalated marks a ticket escalated with a reason (§4.7) inside
// the caller's transaction, alongside whatever pending-message state change
// triggered it.
func (tx *Tx) SetTicketEscalated(ctx context.Context, ticketNumber string, reason models.EscalationReason) error {
	_, err := tx.q().Exec(ctx, `
		UPDATE tickets SET escalated = TRUE, escalation_reason = $2, escalation_at = now(), status = 'escalated'
		WHERE ticket_number = $1
	`, ticketNumber, string(reason))
	return err
}
