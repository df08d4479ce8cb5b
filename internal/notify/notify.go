// Package notify sends internal Slack alerts for escalations and supplier
// reminders, grounded on the teacher's pkg/slack client/service split. Nil
// and empty-config safe: every method is a no-op when Slack is disabled so
// callers never need to branch on whether notifications are configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/dropshiptriage/triage/internal/config"
)

// Notifier posts internal alerts to a configured Slack channel.
type Notifier struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// New constructs a Notifier from Slack config. Returns nil when Slack is
// disabled or misconfigured — every method below is nil-safe.
func New(cfg config.SlackConfig, token string) *Notifier {
	if !cfg.Enabled || token == "" || cfg.ChannelID == "" {
		return nil
	}
	return &Notifier{
		api:       goslack.New(token),
		channelID: cfg.ChannelID,
		logger:    slog.Default().With("component", "notify"),
	}
}

// NewWithAPIURL builds a Notifier against a custom Slack API base URL, for
// tests that stand up a mock server.
func NewWithAPIURL(channelID, token, apiURL string) *Notifier {
	return &Notifier{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify"),
	}
}

// Escalation alerts the operator channel that a ticket was escalated.
// Fail-open: errors are logged, never returned — an alerting outage must
// not block the pipeline.
func (n *Notifier) Escalation(ctx context.Context, ticketNumber string, reason string) {
	n.post(ctx, fmt.Sprintf(":rotating_light: Ticket %s escalated: %s", ticketNumber, reason))
}

// SupplierReminder alerts that an unanswered supplier message triggered its
// one-time reminder.
func (n *Notifier) SupplierReminder(ctx context.Context, ticketNumber, supplierName string) {
	n.post(ctx, fmt.Sprintf(":alarm_clock: Supplier %q has not responded on ticket %s; reminder sent", supplierName, ticketNumber))
}

// SendExhausted alerts that a PendingMessage's retries were exhausted and
// it was given up on (rejected).
func (n *Notifier) SendExhausted(ctx context.Context, ticketNumber, pendingMessageID string) {
	n.post(ctx, fmt.Sprintf(":x: Send retries exhausted for pending message %s on ticket %s", pendingMessageID, ticketNumber))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("failed to post Slack notification", "error", err)
	}
}
