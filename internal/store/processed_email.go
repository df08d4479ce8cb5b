package store

import (
	"context"
	"errors"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

// InsertProcessedEmail records that sourceMessageID has been admitted to
// the pipeline. Returns ErrAlreadyProcessed (I1) if a row already exists —
// this is the idempotency gate itself, not just a guard around it: the
// unique primary key makes the check-and-insert atomic even under
// concurrent ingest of the same message (P1, scenario 5).
func (tx *Tx) InsertProcessedEmail(ctx context.Context, e *models.ProcessedEmail) error {
	return insertProcessedEmail(ctx, tx.q(), e)
}

func insertProcessedEmail(ctx context.Context, q querier, e *models.ProcessedEmail) error {
	_, err := q.Exec(ctx, `
		INSERT INTO processed_emails
			(source_message_id, thread_id, subject, from_address, received_at, content_hash, success, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, now())
	`, e.SourceMessageID, e.ThreadID, e.Subject, e.FromAddress, e.ReceivedAt, e.ContentHash)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

// GetProcessedEmail looks up a ledger row by source_message_id.
func (s *Store) GetProcessedEmail(ctx context.Context, sourceMessageID string) (*models.ProcessedEmail, error) {
	return getProcessedEmail(ctx, s.q(), sourceMessageID)
}

func getProcessedEmail(ctx context.Context, q querier, sourceMessageID string) (*models.ProcessedEmail, error) {
	row := q.QueryRow(ctx, `
		SELECT source_message_id, thread_id, subject, from_address, received_at,
		       ticket_ref, content_hash, success, error_message, processed_at
		FROM processed_emails WHERE source_message_id = $1
	`, sourceMessageID)

	var e models.ProcessedEmail
	var ticketRef *string
	if err := row.Scan(&e.SourceMessageID, &e.ThreadID, &e.Subject, &e.FromAddress,
		&e.ReceivedAt, &ticketRef, &e.ContentHash, &e.Success, &e.ErrorMessage, &e.ProcessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.TicketRef = ticketRef
	return &e, nil
}

// MarkProcessedEmailResult sets the terminal outcome of an admitted
// message — success with its correlated ticket, or failure with an error
// (§4.6 step 9). Never mutated again afterwards per §3.
func (tx *Tx) MarkProcessedEmailResult(ctx context.Context, sourceMessageID string, ticketRef *string, success bool, errMsg string) error {
	_, err := tx.q().Exec(ctx, `
		UPDATE processed_emails
		SET ticket_ref = $2, success = $3, error_message = $4, processed_at = now()
		WHERE source_message_id = $1
	`, sourceMessageID, ticketRef, success, errMsg)
	return err
}

// RecentContentHashExists reports whether a successfully processed email
// for the same ticket, subject+body content hash exists within window —
// the opt-in near-duplicate suppression from Open Question (c). A zero
// window disables the check entirely (returns false immediately).
// Only rows already marked success=TRUE count, so the in-flight row for
// the message currently being processed (still success=FALSE until
// MarkProcessedEmailResult runs) never matches itself.
func (s *Store) RecentContentHashExists(ctx context.Context, ticketRef, contentHash string, window time.Duration) (bool, error) {
	if window <= 0 || contentHash == "" {
		return false, nil
	}
	var exists bool
	err := s.q().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_emails
			WHERE ticket_ref = $1 AND content_hash = $2 AND success = TRUE
			  AND processed_at >= now() - $3::interval
		)
	`, ticketRef, contentHash, window.String()).Scan(&exists)
	return exists, err
}
