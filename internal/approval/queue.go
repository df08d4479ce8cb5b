// Package approval implements the ApprovalQueue (§4.8, §4.10): the operator
// surface over PendingMessage's state machine, and the single place that
// actually calls out to the ticketing backend to deliver an approved draft.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/notify"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/supplier"
	"github.com/dropshiptriage/triage/internal/ticketclient"
)

// ErrEmptyBody is returned by Approve when the edited body is blank — a
// blank message can never be sent (§4.8 edge case).
var ErrEmptyBody = errors.New("approval: message body cannot be empty")

// Queue is the orchestration layer over store.Store's PendingMessage
// transitions: it is the only component that calls TicketClient.Send* and
// is therefore the one place retry/exhaustion bookkeeping happens.
type Queue struct {
	store    *store.Store
	tickets  *ticketclient.Client
	tracker  *supplier.Tracker
	notifier *notify.Notifier
	cfg      *config.Config
}

// New constructs a Queue.
func New(st *store.Store, tc *ticketclient.Client, tracker *supplier.Tracker, n *notify.Notifier, cfg *config.Config) *Queue {
	return &Queue{store: st, tickets: tc, tracker: tracker, notifier: n, cfg: cfg}
}

// Edits carries operator edits applied at approval time (§6 approve body).
type Edits struct {
	Body    *string
	Subject *string
}

// Approve transitions a pending message to approved (optionally applying
// operator edits first) and immediately attempts delivery.
func (q *Queue) Approve(ctx context.Context, id, reviewedBy string, edits *Edits) error {
	msg, err := q.store.GetPendingMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("approval: loading message %s: %w", id, err)
	}
	body := msg.Body
	if edits != nil && edits.Body != nil {
		body = *edits.Body
	}
	if body == "" {
		return ErrEmptyBody
	}

	if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
			return err
		}
		if edits != nil && (edits.Body != nil || edits.Subject != nil) {
			if err := tx.UpdatePendingMessageContent(ctx, id, edits.Body, edits.Subject); err != nil {
				return err
			}
		}
		if err := tx.ApprovePendingMessage(ctx, id, reviewedBy); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditLogEntry{
			At:          time.Now(),
			Actor:       reviewedBy,
			TicketRef:   msg.TicketRef,
			Field:       "pending_message.status",
			Old:         string(msg.Status),
			New:         string(models.StatusApproved),
			Description: fmt.Sprintf("approved pending message %s", id),
		})
	}); err != nil {
		return fmt.Errorf("approval: approving %s: %w", id, err)
	}

	return q.AttemptSend(ctx, id)
}

// Reject transitions a pending (or exhausted failed) message to rejected,
// terminally (I4).
func (q *Queue) Reject(ctx context.Context, id, reviewedBy, reason string) error {
	msg, err := q.store.GetPendingMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("approval: loading message %s: %w", id, err)
	}
	return q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
			return err
		}
		if err := tx.RejectPendingMessage(ctx, id, reviewedBy, reason); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditLogEntry{
			At:          time.Now(),
			Actor:       reviewedBy,
			TicketRef:   msg.TicketRef,
			Field:       "pending_message.status",
			Old:         string(msg.Status),
			New:         string(models.StatusRejected),
			Description: fmt.Sprintf("rejected pending message %s: %s", id, reason),
		})
	})
}

// Retry re-attempts delivery of a failed message, subject to the
// configured retry cap (§4.10). Once exhausted it gives up: rejects the
// message, marks the ticket escalated (send_failure_exhausted), and raises
// an operator alert instead of retrying forever.
func (q *Queue) Retry(ctx context.Context, id string) error {
	msg, err := q.store.GetPendingMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("approval: loading message %s: %w", id, err)
	}

	if msg.RetryCount >= q.cfg.MaxSendRetries {
		reason := fmt.Sprintf("send retries exhausted after %d attempts: %s", msg.RetryCount, msg.LastError)
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
				return err
			}
			if err := tx.RejectPendingMessage(ctx, id, "system:retry-scheduler", reason); err != nil {
				return err
			}
			if err := tx.SetTicketEscalated(ctx, msg.TicketRef, models.EscalationSendFailureExhausted); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, models.AuditLogEntry{
				At:          time.Now(),
				Actor:       "system:retry-scheduler",
				TicketRef:   msg.TicketRef,
				Field:       "pending_message.status",
				Old:         string(msg.Status),
				New:         string(models.StatusRejected),
				Description: reason,
			})
		}); err != nil {
			return fmt.Errorf("approval: giving up on %s: %w", id, err)
		}
		q.notifier.SendExhausted(ctx, msg.TicketRef, id)
		return nil
	}

	if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
			return err
		}
		if err := tx.RetryPendingMessage(ctx, id); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditLogEntry{
			At:          time.Now(),
			Actor:       "system:retry-scheduler",
			TicketRef:   msg.TicketRef,
			Field:       "pending_message.status",
			Old:         string(msg.Status),
			New:         string(models.StatusApproved),
			Description: fmt.Sprintf("retrying pending message %s (attempt %d)", id, msg.RetryCount+1),
		})
	}); err != nil {
		return fmt.Errorf("approval: retrying %s: %w", id, err)
	}

	return q.AttemptSend(ctx, id)
}

// AttemptSend delivers an approved message via the ticketing backend and
// transitions it to sent or failed accordingly. Shared by Approve, Retry,
// and the Dispatcher's AUTONOMOUS immediate-send path.
func (q *Queue) AttemptSend(ctx context.Context, id string) error {
	msg, err := q.store.GetPendingMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("approval: loading message %s: %w", id, err)
	}

	remoteID, sendErr := q.send(ctx, msg)
	if sendErr != nil {
		nextAttempt := time.Now().Add(backoffFor(msg.RetryCount))
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
				return err
			}
			if err := tx.MarkPendingMessageFailed(ctx, id, sendErr.Error(), &nextAttempt); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, models.AuditLogEntry{
				At:          time.Now(),
				Actor:       "system:approval-queue",
				TicketRef:   msg.TicketRef,
				Field:       "pending_message.status",
				Old:         string(msg.Status),
				New:         string(models.StatusFailed),
				Description: fmt.Sprintf("send failed for %s: %s", id, sendErr.Error()),
			})
		}); err != nil {
			return fmt.Errorf("approval: recording failed send for %s: %w", id, err)
		}
		slog.Default().Warn("pending message send failed, scheduled for retry",
			"pending_message_id", id, "ticket", msg.TicketRef, "error", sendErr)
		return nil
	}

	if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, msg.TicketRef); err != nil {
			return err
		}
		if err := tx.MarkPendingMessageSent(ctx, id); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, models.AuditLogEntry{
			At:          time.Now(),
			Actor:       "system:approval-queue",
			TicketRef:   msg.TicketRef,
			Field:       "pending_message.status",
			Old:         string(msg.Status),
			New:         string(models.StatusSent),
			Description: fmt.Sprintf("sent pending message %s", id),
		}); err != nil {
			return err
		}
		to := msg.CC
		if msg.To != "" {
			to = append([]string{msg.To}, msg.CC...)
		}
		return tx.AppendTicketHistory(ctx, msg.TicketRef, models.TicketHistoryEntry{
			At:        time.Now(),
			To:        to,
			Role:      roleForKind(msg.Kind),
			Body:      msg.Body,
			MessageID: remoteID,
		})
	}); err != nil {
		return fmt.Errorf("approval: recording sent %s: %w", id, err)
	}

	if msg.Kind == models.KindSupplier && q.tracker != nil {
		supplierName := msg.To
		if err := q.tracker.RecordSent(ctx, supplierName, msg.TicketRef); err != nil {
			slog.Default().Error("failed to record supplier obligation after send", "error", err)
		}
	}
	return nil
}

func (q *Queue) send(ctx context.Context, msg *models.PendingMessage) (string, error) {
	ticket, err := q.store.GetTicket(ctx, msg.TicketRef)
	if err != nil {
		return "", fmt.Errorf("approval: loading ticket %s: %w", msg.TicketRef, err)
	}

	switch msg.Kind {
	case models.KindCustomer:
		return q.tickets.SendCustomer(ctx, ticket.TicketID, msg.Subject, msg.Body, msg.Attachments, msg.CC, msg.BCC)
	case models.KindSupplier:
		return q.tickets.SendSupplier(ctx, ticket.TicketID, msg.To, msg.Subject, msg.Body, msg.Attachments, msg.CC, msg.BCC)
	case models.KindInternal:
		return q.tickets.SendInternal(ctx, ticket.TicketID, msg.Body)
	default:
		return "", fmt.Errorf("approval: unknown pending message kind %q", msg.Kind)
	}
}

func roleForKind(kind models.PendingMessageKind) models.ParticipantRole {
	switch kind {
	case models.KindCustomer:
		return models.RoleCustomer
	case models.KindSupplier:
		return models.RoleSupplier
	default:
		return models.RoleInternal
	}
}

// backoffFor returns the delay before the next send retry, growing with
// how many attempts have already failed.
func backoffFor(retryCount int) time.Duration {
	schedule := []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}
	if retryCount >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[retryCount]
}
