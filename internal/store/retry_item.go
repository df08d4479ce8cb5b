package store

import (
	"context"
	"errors"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

// UpsertRetryItem queues or reschedules an ingest retry (§4.6, transient
// failure path). source_message_id must already exist in processed_emails.
func (tx *Tx) UpsertRetryItem(ctx context.Context, r *models.RetryItem) error {
	_, err := tx.q().Exec(ctx, `
		INSERT INTO retry_items (source_message_id, attempts, next_attempt_at, last_error, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_message_id) DO UPDATE SET
			attempts = EXCLUDED.attempts, next_attempt_at = EXCLUDED.next_attempt_at,
			last_error = EXCLUDED.last_error, payload = EXCLUDED.payload
	`, r.SourceMessageID, r.Attempts, r.NextAttemptAt, r.LastError, r.Payload)
	return err
}

// DeleteRetryItem removes a retry entry once it succeeds or is abandoned
// (MaxIngestRetries exhausted, §4.6).
func (tx *Tx) DeleteRetryItem(ctx context.Context, sourceMessageID string) error {
	_, err := tx.q().Exec(ctx, `DELETE FROM retry_items WHERE source_message_id = $1`, sourceMessageID)
	return err
}

// ListDueRetryItems returns ingest retries whose next_attempt_at has
// passed, for the RetryScheduler's ingest-side sweep.
func (s *Store) ListDueRetryItems(ctx context.Context, now time.Time) ([]*models.RetryItem, error) {
	rows, err := s.q().Query(ctx, `
		SELECT source_message_id, attempts, next_attempt_at, last_error, payload
		FROM retry_items WHERE next_attempt_at <= $1 ORDER BY next_attempt_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RetryItem
	for rows.Next() {
		var r models.RetryItem
		if err := rows.Scan(&r.SourceMessageID, &r.Attempts, &r.NextAttemptAt, &r.LastError, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRetryItem looks up a single ingest retry row.
func (s *Store) GetRetryItem(ctx context.Context, sourceMessageID string) (*models.RetryItem, error) {
	row := s.q().QueryRow(ctx, `
		SELECT source_message_id, attempts, next_attempt_at, last_error, payload
		FROM retry_items WHERE source_message_id = $1
	`, sourceMessageID)

	var r models.RetryItem
	if err := row.Scan(&r.SourceMessageID, &r.Attempts, &r.NextAttemptAt, &r.LastError, &r.Payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
