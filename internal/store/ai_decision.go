package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/jackc/pgx/v5"
)

// InsertAIDecision records one append-only analysis result (§3). AIDecisions
// are never updated except for the operator-feedback fields (§6).
func (tx *Tx) InsertAIDecision(ctx context.Context, d *models.AIDecision) error {
	return insertAIDecision(ctx, tx.q(), d)
}

func (s *Store) InsertAIDecision(ctx context.Context, d *models.AIDecision) error {
	return insertAIDecision(ctx, s.q(), d)
}

func insertAIDecision(ctx context.Context, q querier, d *models.AIDecision) error {
	var supplierAction []byte
	if d.SupplierAction != nil {
		b, err := json.Marshal(d.SupplierAction)
		if err != nil {
			return err
		}
		supplierAction = b
	}
	stateJSON, err := json.Marshal(d.StateJSON)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO ai_decisions
			(id, ticket_ref, at, detected_language, detected_intent, confidence, recommended_action,
			 customer_draft_body, customer_draft_no, customer_draft_reason,
			 supplier_draft_body, supplier_draft_no, supplier_draft_reason,
			 supplier_action, requires_escalation, phase_at_decision,
			 operator_feedback, feedback_notes, summary, state_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, d.ID, d.TicketRef, d.At, d.DetectedLanguage, d.DetectedIntent, d.Confidence, d.RecommendedAction,
		d.CustomerDraft.Body, d.CustomerDraft.NoDraft, d.CustomerDraft.Reason,
		d.SupplierDraft.Body, d.SupplierDraft.NoDraft, d.SupplierDraft.Reason,
		supplierAction, d.RequiresEscalation, d.PhaseAtDecision,
		d.OperatorFeedback, d.FeedbackNotes, d.Summary, stateJSON)
	return err
}

// GetAIDecision looks up a single decision by id.
func (s *Store) GetAIDecision(ctx context.Context, id string) (*models.AIDecision, error) {
	return scanAIDecision(s.q().QueryRow(ctx, aiDecisionSelect+" WHERE id = $1", id))
}

// ListAIDecisionsForTicket returns every decision for a ticket, oldest first.
func (s *Store) ListAIDecisionsForTicket(ctx context.Context, ticketNumber string) ([]*models.AIDecision, error) {
	rows, err := s.q().Query(ctx, aiDecisionSelect+" WHERE ticket_ref = $1 ORDER BY at ASC", ticketNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AIDecision
	for rows.Next() {
		d, err := scanAIDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordOperatorFeedback attaches the operator's verdict to a decision
// (§6 feedback loop, SPEC_FULL supplemental feature).
func (s *Store) RecordOperatorFeedback(ctx context.Context, id string, feedback models.FeedbackKind, notes string) error {
	_, err := s.q().Exec(ctx, `
		UPDATE ai_decisions SET operator_feedback = $2, feedback_notes = $3 WHERE id = $1
	`, id, string(feedback), notes)
	return err
}

// FeedbackCounts tallies operator feedback by kind, backing GET /metrics/feedback.
func (s *Store) FeedbackCounts(ctx context.Context) (map[models.FeedbackKind]int, error) {
	rows, err := s.q().Query(ctx, `
		SELECT operator_feedback, count(*) FROM ai_decisions
		WHERE operator_feedback IS NOT NULL GROUP BY operator_feedback
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.FeedbackKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[models.FeedbackKind(kind)] = n
	}
	return out, rows.Err()
}

const aiDecisionSelect = `
	SELECT id, ticket_ref, at, detected_language, detected_intent, confidence, recommended_action,
	       customer_draft_body, customer_draft_no, customer_draft_reason,
	       supplier_draft_body, supplier_draft_no, supplier_draft_reason,
	       supplier_action, requires_escalation, phase_at_decision,
	       operator_feedback, feedback_notes, summary, state_json
	FROM ai_decisions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAIDecision(row pgx.Row) (*models.AIDecision, error) {
	return scanAIDecisionRow(row)
}

func scanAIDecisionRow(row rowScanner) (*models.AIDecision, error) {
	var d models.AIDecision
	var supplierActionRaw []byte
	var stateRaw []byte
	var operatorFeedback *string

	if err := row.Scan(&d.ID, &d.TicketRef, &d.At, &d.DetectedLanguage, &d.DetectedIntent, &d.Confidence, &d.RecommendedAction,
		&d.CustomerDraft.Body, &d.CustomerDraft.NoDraft, &d.CustomerDraft.Reason,
		&d.SupplierDraft.Body, &d.SupplierDraft.NoDraft, &d.SupplierDraft.Reason,
		&supplierActionRaw, &d.RequiresEscalation, &d.PhaseAtDecision,
		&operatorFeedback, &d.FeedbackNotes, &d.Summary, &stateRaw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(supplierActionRaw) > 0 {
		var action models.SupplierAction
		if err := json.Unmarshal(supplierActionRaw, &action); err != nil {
			return nil, err
		}
		d.SupplierAction = &action
	}
	if len(stateRaw) > 0 {
		if err := json.Unmarshal(stateRaw, &d.StateJSON); err != nil {
			return nil, err
		}
	}
	if operatorFeedback != nil {
		fk := models.FeedbackKind(*operatorFeedback)
		d.OperatorFeedback = &fk
	}
	return &d, nil
}
