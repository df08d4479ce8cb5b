package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

// UpsertSupplier inserts or replaces a directory entry (§3, operator-managed).
func (s *Store) UpsertSupplier(ctx context.Context, sup *models.Supplier) error {
	contacts, err := json.Marshal(sup.Contacts)
	if err != nil {
		return err
	}
	_, err = s.q().Exec(ctx, `
		INSERT INTO suppliers (name, default_email, contacts, language)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			default_email = EXCLUDED.default_email, contacts = EXCLUDED.contacts, language = EXCLUDED.language
	`, sup.Name, sup.DefaultEmail, contacts, sup.Language)
	return err
}

// GetSupplier looks up a directory entry by name.
func (s *Store) GetSupplier(ctx context.Context, name string) (*models.Supplier, error) {
	row := s.q().QueryRow(ctx, `
		SELECT name, default_email, contacts, language FROM suppliers WHERE name = $1
	`, name)

	var sup models.Supplier
	var contacts []byte
	if err := row.Scan(&sup.Name, &sup.DefaultEmail, &contacts, &sup.Language); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &sup.Contacts); err != nil {
			return nil, err
		}
	}
	return &sup, nil
}

// FindSupplierByEmail reverse-looks-up a directory entry by its registered
// default email (case-insensitive) — used to resolve a ticket's
// SupplierEmail to the supplier's registered Name for redaction (§4.5, §8
// P8). Returns ErrNotFound if no directory entry matches.
func (s *Store) FindSupplierByEmail(ctx context.Context, email string) (*models.Supplier, error) {
	row := s.q().QueryRow(ctx, `
		SELECT name, default_email, contacts, language FROM suppliers WHERE lower(default_email) = lower($1)
	`, email)

	var sup models.Supplier
	var contacts []byte
	if err := row.Scan(&sup.Name, &sup.DefaultEmail, &contacts, &sup.Language); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &sup.Contacts); err != nil {
			return nil, err
		}
	}
	return &sup, nil
}

// RecordSupplierMessageSent opens a new active supplier message record
// (§3). Returns ErrConflict if an unanswered message for the same
// supplier+ticket already exists (I6), enforced by the partial unique
// index — this call is expected to fail that way when SupplierTracker races
// with a fresh Pipeline dispatch for the same ticket.
func (tx *Tx) RecordSupplierMessageSent(ctx context.Context, m *models.SupplierMessage) error {
	_, err := tx.q().Exec(ctx, `
		INSERT INTO supplier_messages (id, supplier_ref, ticket_ref, sent_at, response_received, next_check_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, m.ID, m.SupplierRef, m.TicketRef, m.SentAt, m.NextCheckAt)
	if err != nil {
		if isUniqueViolation(err, "uq_supplier_messages_active") {
			return ErrConflict
		}
		return err
	}
	return nil
}

// GetActiveSupplierMessage returns the unanswered supplier message for a
// supplier+ticket pair, if any (I6: there is at most one).
func (s *Store) GetActiveSupplierMessage(ctx context.Context, supplierName, ticketNumber string) (*models.SupplierMessage, error) {
	row := s.q().QueryRow(ctx, `
		SELECT id, supplier_ref, ticket_ref, sent_at, reminder_sent_at, response_received, next_check_at
		FROM supplier_messages WHERE supplier_ref = $1 AND ticket_ref = $2 AND response_received = FALSE
	`, supplierName, ticketNumber)
	return scanSupplierMessage(row)
}

// MarkSupplierResponseReceived closes the active supplier message, freeing
// the supplier+ticket pair for a future send (I6).
func (tx *Tx) MarkSupplierResponseReceived(ctx context.Context, id string) error {
	_, err := tx.q().Exec(ctx, `
		UPDATE supplier_messages SET response_received = TRUE WHERE id = $1
	`, id)
	return err
}

// MarkSupplierReminderSent records that the one-shot reminder for this
// message has gone out, so the due-reminder sweep never double-sends it
// (§4.9 supplier reminder scan).
func (tx *Tx) MarkSupplierReminderSent(ctx context.Context, id string, nextCheckAt time.Time) error {
	_, err := tx.q().Exec(ctx, `
		UPDATE supplier_messages SET reminder_sent_at = now(), next_check_at = $2 WHERE id = $1
	`, id, nextCheckAt)
	return err
}

// ListDueSupplierReminders returns unanswered supplier messages whose
// next_check_at has passed and no reminder has gone out yet — the
// SupplierTracker sweep's work list (§4.9).
func (s *Store) ListDueSupplierReminders(ctx context.Context, now time.Time) ([]*models.SupplierMessage, error) {
	rows, err := s.q().Query(ctx, `
		SELECT id, supplier_ref, ticket_ref, sent_at, reminder_sent_at, response_received, next_check_at
		FROM supplier_messages
		WHERE response_received = FALSE AND reminder_sent_at IS NULL AND next_check_at <= $1
		ORDER BY next_check_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SupplierMessage
	for rows.Next() {
		m, err := scanSupplierMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSupplierMessage(row pgx.Row) (*models.SupplierMessage, error) {
	return scanSupplierMessageRow(row)
}

func scanSupplierMessageRow(row rowScanner) (*models.SupplierMessage, error) {
	var m models.SupplierMessage
	if err := row.Scan(&m.ID, &m.SupplierRef, &m.TicketRef, &m.SentAt, &m.ReminderSentAt, &m.ResponseReceived, &m.NextCheckAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
