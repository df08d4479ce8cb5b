// Package dispatcher implements the phase-gated send behavior of §4.7: the
// single place that decides, for a given AIDecision, whether a draft goes
// out for operator review, gets sent immediately, or both.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/notify"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/ticketclient"
)

// Dispatcher routes a persisted AIDecision to PendingMessage creation
// and/or immediate delivery according to the configured Phase.
type Dispatcher struct {
	store    *store.Store
	tickets  *ticketclient.Client
	queue    *approval.Queue
	notifier *notify.Notifier
	cfg      *config.Config
}

// New constructs a Dispatcher.
func New(st *store.Store, tc *ticketclient.Client, q *approval.Queue, n *notify.Notifier, cfg *config.Config) *Dispatcher {
	return &Dispatcher{store: st, tickets: tc, queue: q, notifier: n, cfg: cfg}
}

// Dispatch acts on a just-persisted AIDecision for ticket (§4.7). Every
// non-NO_DRAFT draft becomes a PendingMessage; what happens next to it
// depends on the configured phase. contentHash is the inbound message's
// content fingerprint (models.ContentHash), used to suppress redundant
// drafts for a near-duplicate inbound within the configured dedup window
// (Open Question (c)).
func (d *Dispatcher) Dispatch(ctx context.Context, ticket *models.TicketState, decision *models.AIDecision, contentHash string) error {
	escalate := decision.RequiresEscalation || decision.Confidence < d.cfg.ConfidenceThreshold

	if d.cfg.Phase == config.PhaseShadow {
		return d.shadow(ctx, ticket, decision, contentHash)
	}

	dup, err := d.isDuplicate(ctx, ticket, contentHash)
	if err != nil {
		return fmt.Errorf("dispatcher: checking content-hash dedup: %w", err)
	}

	if !dup {
		drafts := d.drafts(ticket, decision)
		immediate := d.cfg.Phase == config.PhaseAutonomous && !escalate

		for _, draft := range drafts {
			id, err := d.create(ctx, ticket, decision, draft, immediate)
			if err != nil {
				return fmt.Errorf("dispatcher: creating pending message (%s): %w", draft.kind, err)
			}
			if immediate {
				if err := d.queue.AttemptSend(ctx, id); err != nil {
					slog.Default().Error("dispatcher: immediate send failed, falls back to operator review",
						"pending_message_id", id, "error", err)
				}
			}
		}
	} else {
		slog.Default().Info("dispatcher: suppressing drafts, near-duplicate inbound within dedup window",
			"ticket", ticket.TicketNumber)
	}

	if escalate {
		if err := d.escalate(ctx, ticket, decision); err != nil {
			return err
		}
	}
	return nil
}

// shadow never sends; it only queues drafts for review and posts a single
// internal note summarizing the analysis (§4.7 P3).
func (d *Dispatcher) shadow(ctx context.Context, ticket *models.TicketState, decision *models.AIDecision, contentHash string) error {
	dup, err := d.isDuplicate(ctx, ticket, contentHash)
	if err != nil {
		return fmt.Errorf("dispatcher: checking content-hash dedup: %w", err)
	}
	if !dup {
		for _, draft := range d.drafts(ticket, decision) {
			if _, err := d.create(ctx, ticket, decision, draft, false); err != nil {
				return fmt.Errorf("dispatcher: shadow draft (%s): %w", draft.kind, err)
			}
		}
	}

	note := fmt.Sprintf("[shadow] intent=%s confidence=%.2f summary=%s", decision.DetectedIntent, decision.Confidence, decision.Summary)
	if _, err := d.tickets.SendInternal(ctx, ticket.TicketID, note); err != nil {
		slog.Default().Warn("dispatcher: shadow internal note failed", "error", err)
	}
	return nil
}

// isDuplicate reports whether ticket already has a successfully processed
// inbound with the same content fingerprint within the configured window.
func (d *Dispatcher) isDuplicate(ctx context.Context, ticket *models.TicketState, contentHash string) (bool, error) {
	return d.store.RecentContentHashExists(ctx, ticket.TicketNumber, contentHash, d.cfg.DedupWindow())
}

func (d *Dispatcher) escalate(ctx context.Context, ticket *models.TicketState, decision *models.AIDecision) error {
	reason := models.EscalationLowConfidence
	if decision.RequiresEscalation {
		reason = models.EscalationLLMRequested
	}

	if err := d.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, ticket.TicketNumber); err != nil {
			return err
		}
		if err := tx.SetTicketEscalated(ctx, ticket.TicketNumber, reason); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditLogEntry{
			At:          time.Now(),
			Actor:       "system:dispatcher",
			TicketRef:   ticket.TicketNumber,
			Field:       "ticket.escalated",
			Old:         "false",
			New:         "true",
			Description: fmt.Sprintf("escalated (%s): %s", reason, decision.Summary),
		})
	}); err != nil {
		return fmt.Errorf("dispatcher: escalating %s: %w", ticket.TicketNumber, err)
	}

	if _, err := d.tickets.SendInternal(ctx, ticket.TicketID, fmt.Sprintf("Escalated (%s): %s", reason, decision.Summary)); err != nil {
		slog.Default().Warn("dispatcher: escalation internal note failed", "error", err)
	}
	d.notifier.Escalation(ctx, ticket.TicketNumber, string(reason))
	return nil
}

type draftSpec struct {
	kind    models.PendingMessageKind
	to      string
	subject string
	body    string
}

// drafts collects the non-NO_DRAFT drafts a decision carries, in a fixed
// order (customer, then supplier).
func (d *Dispatcher) drafts(ticket *models.TicketState, decision *models.AIDecision) []draftSpec {
	var out []draftSpec
	if !decision.CustomerDraft.NoDraft && decision.CustomerDraft.Body != "" {
		out = append(out, draftSpec{
			kind:    models.KindCustomer,
			to:      ticket.CustomerEmail,
			subject: "Re: your order",
			body:    decision.CustomerDraft.Body,
		})
	}
	if !decision.SupplierDraft.NoDraft && decision.SupplierDraft.Body != "" {
		to := ""
		if ticket.SupplierEmail != nil {
			to = *ticket.SupplierEmail
		}
		out = append(out, draftSpec{
			kind:    models.KindSupplier,
			to:      to,
			subject: "Regarding ticket " + ticket.TicketNumber,
			body:    decision.SupplierDraft.Body,
		})
	}
	return out
}

func (d *Dispatcher) create(ctx context.Context, ticket *models.TicketState, decision *models.AIDecision, draft draftSpec, approved bool) (string, error) {
	status := models.StatusPending
	if approved {
		status = models.StatusApproved
	}

	id := uuid.NewString()
	msg := &models.PendingMessage{
		ID:            id,
		TicketRef:     ticket.TicketNumber,
		Kind:          draft.kind,
		To:            draft.to,
		Subject:       draft.subject,
		Body:          draft.body,
		Confidence:    decision.Confidence,
		AIDecisionRef: decision.ID,
		Status:        status,
		CreatedAt:     time.Now(),
	}

	err := d.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, ticket.TicketNumber); err != nil {
			return err
		}
		return tx.InsertPendingMessage(ctx, msg)
	})
	return id, err
}
