package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

// terminalStatuses are PendingMessage states that never transition further
// (I4): `sent` (delivered) and `rejected` (operator gave up, whether
// straight from pending or after exhausting retries from failed).
var terminalStatuses = map[models.PendingMessageStatus]bool{
	models.StatusSent:     true,
	models.StatusRejected: true,
}

// InsertPendingMessage queues a new draft for review (§4.8 initial state).
func (tx *Tx) InsertPendingMessage(ctx context.Context, m *models.PendingMessage) error {
	return insertPendingMessage(ctx, tx.q(), m)
}

func (s *Store) InsertPendingMessage(ctx context.Context, m *models.PendingMessage) error {
	return insertPendingMessage(ctx, s.q(), m)
}

func insertPendingMessage(ctx context.Context, q querier, m *models.PendingMessage) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO pending_messages
			(id, ticket_ref, kind, to_addr, cc, bcc, subject, body, attachments, confidence,
			 ai_decision_ref, status, retry_count, last_error, created_at, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, m.ID, m.TicketRef, string(m.Kind), m.To, m.CC, m.BCC, m.Subject, m.Body, attachments, m.Confidence,
		m.AIDecisionRef, string(m.Status), m.RetryCount, m.LastError, m.CreatedAt, m.NextAttemptAt)
	return err
}

// GetPendingMessage looks up a single message, under a transaction when the
// caller intends to transition it (preceded by a ticket advisory lock).
func (s *Store) GetPendingMessage(ctx context.Context, id string) (*models.PendingMessage, error) {
	return scanPendingMessage(s.q().QueryRow(ctx, pendingMessageSelect+" WHERE id = $1", id))
}

func (tx *Tx) GetPendingMessage(ctx context.Context, id string) (*models.PendingMessage, error) {
	return scanPendingMessage(tx.q().QueryRow(ctx, pendingMessageSelect+" WHERE id = $1", id))
}

// ListPendingMessages returns queued messages, optionally filtered by
// status and kind, newest-created-last (operator queue order, §6).
func (s *Store) ListPendingMessages(ctx context.Context, status models.PendingMessageStatus, kind models.PendingMessageKind) ([]*models.PendingMessage, error) {
	query := pendingMessageSelect + " WHERE TRUE"
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if kind != "" {
		args = append(args, string(kind))
		query += " AND kind = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingMessage
	for rows.Next() {
		m, err := scanPendingMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdatePendingMessageContent applies operator edits to a still-pending
// message's subject/body before approval (§6 edit-then-approve). Either
// argument may be nil to leave that field unchanged.
func (tx *Tx) UpdatePendingMessageContent(ctx context.Context, id string, body, subject *string) error {
	_, err := tx.q().Exec(ctx, `
		UPDATE pending_messages SET
			body = COALESCE($2, body),
			subject = COALESCE($3, subject)
		WHERE id = $1
	`, id, body, subject)
	return err
}

// ApprovePendingMessage transitions pending -> approved (§4.8). Returns
// ErrTerminalState if the message is already sent or rejected, and
// ErrConflict if it is in another non-pending status (stale operator view
// or already actioned).
func (tx *Tx) ApprovePendingMessage(ctx context.Context, id, reviewedBy string) error {
	return transitionPendingMessage(ctx, tx.q(), id, []models.PendingMessageStatus{models.StatusPending}, models.StatusApproved,
		"reviewed_at = now(), reviewed_by = $3", []any{reviewedBy})
}

// RejectPendingMessage transitions pending -> rejected, or failed ->
// rejected (§4.8 "give up" path), with a reason.
func (tx *Tx) RejectPendingMessage(ctx context.Context, id, reviewedBy, reason string) error {
	return transitionPendingMessage(ctx, tx.q(), id,
		[]models.PendingMessageStatus{models.StatusPending, models.StatusFailed}, models.StatusRejected,
		"reviewed_at = now(), reviewed_by = $3, rejection_reason = $4", []any{reviewedBy, reason})
}

// MarkPendingMessageSent transitions approved -> sent (§4.8 terminal state,
// I4). Never reopened afterwards.
func (tx *Tx) MarkPendingMessageSent(ctx context.Context, id string) error {
	return transitionPendingMessage(ctx, tx.q(), id, []models.PendingMessageStatus{models.StatusApproved}, models.StatusSent,
		"sent_at = now()", nil)
}

// MarkPendingMessageFailed transitions approved -> failed after a send
// attempt fails, recording the error and bumping retry_count (§4.8, §4.10).
// Escalation is a Dispatcher/Pipeline decision, not this transition's side
// effect (Open Question (b): a failed AUTONOMOUS send does not itself set
// escalated=true).
func (tx *Tx) MarkPendingMessageFailed(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error {
	return transitionPendingMessage(ctx, tx.q(), id, []models.PendingMessageStatus{models.StatusApproved}, models.StatusFailed,
		"last_error = $3, retry_count = retry_count + 1, next_attempt_at = $4", []any{errMsg, nextAttemptAt})
}

// RetryPendingMessage transitions failed -> approved (§4.8 retry()), only
// valid from failed. Callers are responsible for enforcing max_retries
// before calling this (RetryScheduler, bounded by config).
func (tx *Tx) RetryPendingMessage(ctx context.Context, id string) error {
	return transitionPendingMessage(ctx, tx.q(), id, []models.PendingMessageStatus{models.StatusFailed}, models.StatusApproved,
		"next_attempt_at = NULL", nil)
}

// ListDueRetries returns failed messages whose next_attempt_at has passed,
// for the RetryScheduler send-side sweep (§4.10).
func (s *Store) ListDueRetries(ctx context.Context, now time.Time) ([]*models.PendingMessage, error) {
	rows, err := s.q().Query(ctx, pendingMessageSelect+`
		WHERE status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingMessage
	for rows.Next() {
		m, err := scanPendingMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// transitionPendingMessage moves a message from one of the allowed `from`
// statuses to `to`, applying extra SET clauses (each referencing
// placeholders starting at $3). Distinguishes a stale/wrong transition
// attempt (ErrConflict) from one against an already-terminal message
// (ErrTerminalState) so callers can surface the right §7 error kind.
func transitionPendingMessage(ctx context.Context, q querier, id string, from []models.PendingMessageStatus, to models.PendingMessageStatus, setClause string, extraArgs []any) error {
	// $1 = id, $2 = to status, $3..$(2+len(extraArgs)) = setClause args,
	// the rest = allowed "from" statuses for the IN (...) clause.
	args := make([]any, 0, 2+len(extraArgs)+len(from))
	args = append(args, id, string(to))
	args = append(args, extraArgs...)

	placeholders := make([]string, len(from))
	for i, f := range from {
		args = append(args, string(f))
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}

	query := "UPDATE pending_messages SET status = $2"
	if setClause != "" {
		query += ", " + setClause
	}
	query += " WHERE id = $1 AND status IN (" + strings.Join(placeholders, ", ") + ")"

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := scanPendingMessage(q.QueryRow(ctx, pendingMessageSelect+" WHERE id = $1", id))
	if err != nil {
		return err
	}
	if terminalStatuses[current.Status] {
		return ErrTerminalState
	}
	return ErrConflict
}

const pendingMessageSelect = `
	SELECT id, ticket_ref, kind, to_addr, cc, bcc, subject, body, attachments, confidence,
	       ai_decision_ref, status, retry_count, last_error, created_at, reviewed_at, reviewed_by,
	       sent_at, rejection_reason, next_attempt_at
	FROM pending_messages`

func scanPendingMessage(row pgx.Row) (*models.PendingMessage, error) {
	return scanPendingMessageRow(row)
}

func scanPendingMessageRow(row rowScanner) (*models.PendingMessage, error) {
	var m models.PendingMessage
	var kind, status string
	var attachments []byte

	if err := row.Scan(&m.ID, &m.TicketRef, &kind, &m.To, &m.CC, &m.BCC, &m.Subject, &m.Body, &attachments, &m.Confidence,
		&m.AIDecisionRef, &status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.ReviewedAt, &m.ReviewedBy,
		&m.SentAt, &m.RejectionReason, &m.NextAttemptAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m.Kind = models.PendingMessageKind(kind)
	m.Status = models.PendingMessageStatus(status)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
