// Package supplier implements SupplierTracker (§4.9): recording outbound
// supplier messages and sweeping for unanswered ones past their reminder
// window.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/notify"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/ticketclient"
)

// Tracker records supplier sends and sweeps for ones due a reminder.
type Tracker struct {
	store     *store.Store
	tickets   *ticketclient.Client
	notifier  *notify.Notifier
	reminders time.Duration
}

// New constructs a Tracker bound to cfg's reminder window.
func New(st *store.Store, tc *ticketclient.Client, n *notify.Notifier, cfg *config.Config) *Tracker {
	return &Tracker{store: st, tickets: tc, notifier: n, reminders: cfg.ReminderWindow()}
}

// RecordSent creates the SupplierMessage obligation a successful supplier
// send establishes. If one is already active for this supplier+ticket
// (I6), this is a no-op: a second concurrent send attempt must not create a
// second outstanding obligation.
func (t *Tracker) RecordSent(ctx context.Context, supplierName, ticketNumber string) error {
	return t.store.WithTx(ctx, func(tx *store.Tx) error {
		now := time.Now()
		err := tx.RecordSupplierMessageSent(ctx, &models.SupplierMessage{
			ID:          uuid.NewString(),
			SupplierRef: supplierName,
			TicketRef:   ticketNumber,
			SentAt:      now,
			NextCheckAt: now.Add(t.reminders),
		})
		if errors.Is(err, store.ErrConflict) {
			slog.Default().Info("supplier message already active, skipping duplicate obligation",
				"supplier", supplierName, "ticket", ticketNumber)
			return nil
		}
		return err
	})
}

// MarkResponseReceived clears the pending obligation for a supplier's
// active message on ticketNumber.
func (t *Tracker) MarkResponseReceived(ctx context.Context, supplierName, ticketNumber string) error {
	msg, err := t.store.GetActiveSupplierMessage(ctx, supplierName, ticketNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("supplier: finding active message: %w", err)
	}
	return t.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkSupplierResponseReceived(ctx, msg.ID)
	})
}

// Sweep sends exactly one reminder for each SupplierMessage whose check is
// due and which has not already had a reminder sent (§4.9).
func (t *Tracker) Sweep(ctx context.Context) error {
	due, err := t.store.ListDueSupplierReminders(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("supplier: listing due reminders: %w", err)
	}

	for _, msg := range due {
		if err := t.remind(ctx, msg); err != nil {
			slog.Default().Error("supplier reminder failed", "supplier_message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (t *Tracker) remind(ctx context.Context, msg *models.SupplierMessage) error {
	ticket, err := t.store.GetTicket(ctx, msg.TicketRef)
	if err != nil {
		return fmt.Errorf("loading ticket %s: %w", msg.TicketRef, err)
	}
	sup, err := t.store.GetSupplier(ctx, msg.SupplierRef)
	if err != nil {
		return fmt.Errorf("loading supplier %s: %w", msg.SupplierRef, err)
	}

	body := fmt.Sprintf("Following up on our earlier message regarding ticket %s — please confirm status.", msg.TicketRef)
	if _, err := t.tickets.SendSupplier(ctx, ticket.TicketID, sup.DefaultEmail, "Reminder: awaiting your response", body, nil, nil, nil); err != nil {
		return fmt.Errorf("sending reminder: %w", err)
	}

	if _, err := t.tickets.SendInternal(ctx, ticket.TicketID, fmt.Sprintf("Reminder sent to supplier %q (no response after %s).", sup.Name, t.reminders)); err != nil {
		slog.Default().Warn("failed to post internal reminder note", "error", err)
	}
	t.notifier.SupplierReminder(ctx, msg.TicketRef, sup.Name)

	return t.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkSupplierReminderSent(ctx, msg.ID, time.Now().Add(t.reminders))
	})
}
