package store

import (
	"context"

	"github.com/dropshiptriage/triage/internal/models"
)

// AppendAudit writes one append-only audit trail row (§3). Never updated or
// deleted; every field-level change the Pipeline, Dispatcher, or
// ApprovalQueue makes to a ticket or pending message is expected to log one
// of these alongside its own write, inside the same transaction.
func (tx *Tx) AppendAudit(ctx context.Context, e models.AuditLogEntry) error {
	_, err := tx.q().Exec(ctx, `
		INSERT INTO audit_log (at, actor, ticket_ref, field, old_value, new_value, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.At, e.Actor, e.TicketRef, e.Field, e.Old, e.New, e.Description)
	return err
}

// ListAuditForTicket returns the audit trail for a ticket, oldest first
// (§6 operator surface).
func (s *Store) ListAuditForTicket(ctx context.Context, ticketNumber string) ([]models.AuditLogEntry, error) {
	rows, err := s.q().Query(ctx, `
		SELECT at, actor, ticket_ref, field, old_value, new_value, description
		FROM audit_log WHERE ticket_ref = $1 ORDER BY at ASC
	`, ticketNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.At, &e.Actor, &e.TicketRef, &e.Field, &e.Old, &e.New, &e.Description); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
