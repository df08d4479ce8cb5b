// Package pipeline implements the per-message Runner (§4.6): the linear
// sequence from an inbound email to a persisted AIDecision and dispatch,
// structured like the teacher's queue.Worker.pollAndProcess — named steps,
// each failure classified into the §7 error taxonomy, a per-ticket lock
// serializing the correlate-through-dispatch steps for the same ticket.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/contextbuilder"
	"github.com/dropshiptriage/triage/internal/dispatcher"
	"github.com/dropshiptriage/triage/internal/formatter"
	"github.com/dropshiptriage/triage/internal/langdetect"
	"github.com/dropshiptriage/triage/internal/llm"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/dropshiptriage/triage/internal/ticketlock"
)

// Result summarizes what Run/Reprocess did with one inbound message, for
// the caller's logging/metrics — not persisted itself.
type Result struct {
	AlreadyProcessed bool
	TicketNumber     string
	NoCaseOpened     bool
}

// Runner processes exactly one InboundMessage at a time, end to end.
type Runner struct {
	store      *store.Store
	tickets    *ticketclient.Client
	llmClient  *llm.Client
	ctxBuilder *contextbuilder.Builder
	formatter  *formatter.Formatter
	dispatcher *dispatcher.Dispatcher
	locks      *ticketlock.Manager
	cfg        *config.Config
}

// New constructs a Runner wiring every Pipeline collaborator (§4.6).
func New(
	st *store.Store,
	tc *ticketclient.Client,
	llmClient *llm.Client,
	ctxBuilder *contextbuilder.Builder,
	fmtr *formatter.Formatter,
	disp *dispatcher.Dispatcher,
	locks *ticketlock.Manager,
	cfg *config.Config,
) *Runner {
	return &Runner{
		store:      st,
		tickets:    tc,
		llmClient:  llmClient,
		ctxBuilder: ctxBuilder,
		formatter:  fmtr,
		dispatcher: disp,
		locks:      locks,
		cfg:        cfg,
	}
}

// Run processes a freshly received inbound message: claims it in the
// processed-email ledger (the idempotency gate, I1) and runs the pipeline.
// Returns Result{AlreadyProcessed: true} without error when the message was
// already admitted (P1).
func (r *Runner) Run(ctx context.Context, msg models.InboundMessage) (Result, error) {
	claimed, err := r.claim(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: claiming %s: %w", msg.SourceMessageID, err)
	}
	if !claimed {
		return Result{AlreadyProcessed: true}, nil
	}
	return r.runCore(ctx, msg)
}

// Reprocess replays a message already present in the processed-email
// ledger (RetryScheduler's ingest-side sweep, §4.10) — it skips the claim
// step since InsertProcessedEmail would just return ErrAlreadyProcessed.
func (r *Runner) Reprocess(ctx context.Context, msg models.InboundMessage) (Result, error) {
	return r.runCore(ctx, msg)
}

func (r *Runner) claim(ctx context.Context, msg models.InboundMessage) (bool, error) {
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertProcessedEmail(ctx, &models.ProcessedEmail{
			SourceMessageID: msg.SourceMessageID,
			ThreadID:        msg.ThreadID,
			Subject:         msg.Subject,
			FromAddress:     msg.From,
			ReceivedAt:      msg.ReceivedAt,
			ContentHash:     models.ContentHash(msg.Subject, msg.BodyPlain),
		})
	})
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) runCore(ctx context.Context, msg models.InboundMessage) (Result, error) {
	extracted := extract(msg.Subject, msg.BodyPlain)

	lockKey := lockKeyFor(extracted, msg.ThreadID)
	unlock := r.locks.Lock(lockKey)
	defer unlock()

	result, procErr := r.process(ctx, msg, extracted)

	if procErr != nil && !isPermanent(procErr) {
		if err := r.scheduleRetry(ctx, msg, procErr); err != nil {
			slog.Default().Error("pipeline: failed to schedule ingest retry", "source_message_id", msg.SourceMessageID, "error", err)
		}
		return result, procErr
	}

	finalErr := ""
	success := procErr == nil
	if procErr != nil {
		finalErr = procErr.Error()
	}
	var ticketRef *string
	if result.TicketNumber != "" {
		ticketRef = &result.TicketNumber
	}
	if err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.MarkProcessedEmailResult(ctx, msg.SourceMessageID, ticketRef, success, finalErr); err != nil {
			return err
		}
		return tx.DeleteRetryItem(ctx, msg.SourceMessageID)
	}); err != nil {
		return result, fmt.Errorf("pipeline: finalizing %s: %w", msg.SourceMessageID, err)
	}

	return result, procErr
}

func (r *Runner) scheduleRetry(ctx context.Context, msg models.InboundMessage, cause error) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding retry payload: %w", err)
	}
	existing, err := r.store.GetRetryItem(ctx, msg.SourceMessageID)
	attempts := 0
	if err == nil {
		attempts = existing.Attempts
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if attempts >= r.cfg.MaxIngestRetries {
		giveUpErr := fmt.Sprintf("ingest retries exhausted after %d attempts: %s", attempts, cause)
		return r.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.MarkProcessedEmailResult(ctx, msg.SourceMessageID, nil, false, giveUpErr); err != nil {
				return err
			}
			return tx.DeleteRetryItem(ctx, msg.SourceMessageID)
		})
	}

	return r.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpsertRetryItem(ctx, &models.RetryItem{
			SourceMessageID: msg.SourceMessageID,
			Attempts:        attempts + 1,
			NextAttemptAt:   time.Now().Add(ingestBackoff(attempts)),
			LastError:       cause.Error(),
			Payload:         payload,
		})
	})
}

// process correlates, opens or updates the ticket, analyzes, and dispatches
// (spec.md §4.6 steps 3-10). A nil TicketState (step 4's "insufficient
// info" branch) is treated as successfully processed with no case opened.
func (r *Runner) process(ctx context.Context, msg models.InboundMessage, extracted Extracted) (Result, error) {
	ticket, isNew, err := r.resolveTicket(ctx, msg, extracted)
	if err != nil {
		return Result{}, fmt.Errorf("resolving ticket: %w", err)
	}
	if ticket == nil {
		return Result{NoCaseOpened: true}, nil
	}

	entry := models.TicketHistoryEntry{
		At:        msg.ReceivedAt,
		From:      msg.From,
		To:        msg.To,
		Role:      roleOf(msg.From, ticket),
		Body:      msg.BodyPlain,
		MessageID: msg.SourceMessageID,
	}

	if err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, ticket.TicketNumber); err != nil {
			return err
		}
		if isNew {
			if err := tx.UpsertTicket(ctx, ticket); err != nil {
				return err
			}
		}
		return tx.AppendTicketHistory(ctx, ticket.TicketNumber, entry)
	}); err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("recording history: %w", err)
	}

	history, err := r.store.ListTicketHistory(ctx, ticket.TicketNumber)
	if err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("loading history: %w", err)
	}

	r.resolveSupplierName(ctx, ticket)

	prompts, err := r.ctxBuilder.Build(ticket, history, nil)
	if err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("building prompts: %w", err)
	}

	analysis, err := r.llmClient.Analyze(ctx, prompts.SystemPrompt, prompts.UserPrompt)
	if err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("analyzing: %w", err)
	}

	decision := r.buildDecision(ticket, msg.From, msg.BodyPlain, analysis)

	if err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockTicket(ctx, ticket.TicketNumber); err != nil {
			return err
		}
		return tx.InsertAIDecision(ctx, decision)
	}); err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("persisting decision: %w", err)
	}

	if err := r.dispatcher.Dispatch(ctx, ticket, decision, models.ContentHash(msg.Subject, msg.BodyPlain)); err != nil {
		return Result{TicketNumber: ticket.TicketNumber}, fmt.Errorf("dispatching: %w", err)
	}

	return Result{TicketNumber: ticket.TicketNumber}, nil
}

// resolveTicket correlates an inbound message to a ticket (spec.md §4.2,
// §4.6 step 3): first against the local shadow (ticket number, order
// number, PO number, Gmail thread, in that priority order), then against
// the ticketing backend directly (covers tickets our shadow has not seen
// yet), and finally opens a new case if nothing correlates and there is
// enough information to do so (step 4's "insufficient info" branch returns
// a nil ticket).
func (r *Runner) resolveTicket(ctx context.Context, msg models.InboundMessage, extracted Extracted) (*models.TicketState, bool, error) {
	if t, found, err := r.correlateLocal(ctx, extracted, msg.ThreadID); err != nil {
		return nil, false, err
	} else if found {
		return t, false, nil
	}

	if extracted.OrderNumber != "" {
		view, err := r.tickets.GetByOrder(ctx, extracted.OrderNumber)
		if err != nil {
			return nil, false, fmt.Errorf("looking up order %q: %w", extracted.OrderNumber, err)
		}
		if view != nil {
			return headerToState(view.Header, msg), true, nil
		}
	}
	if extracted.PurchaseOrderNumber != "" {
		view, err := r.tickets.GetByPurchaseOrder(ctx, extracted.PurchaseOrderNumber)
		if err != nil {
			return nil, false, fmt.Errorf("looking up PO %q: %w", extracted.PurchaseOrderNumber, err)
		}
		if view != nil {
			return headerToState(view.Header, msg), true, nil
		}
	}

	if !r.canOpenCase(extracted) {
		return nil, false, nil
	}
	ticket, err := r.openCase(ctx, msg, extracted)
	return ticket, true, err
}

func (r *Runner) correlateLocal(ctx context.Context, extracted Extracted, threadID string) (*models.TicketState, bool, error) {
	type lookup func() (*models.TicketState, error)
	var lookups []lookup
	if extracted.TicketNumber != "" {
		lookups = append(lookups, func() (*models.TicketState, error) { return r.store.GetTicket(ctx, extracted.TicketNumber) })
	}
	if extracted.OrderNumber != "" {
		lookups = append(lookups, func() (*models.TicketState, error) { return r.store.FindTicketByOrderNumber(ctx, extracted.OrderNumber) })
	}
	if extracted.PurchaseOrderNumber != "" {
		lookups = append(lookups, func() (*models.TicketState, error) {
			return r.store.FindTicketByPurchaseOrderNumber(ctx, extracted.PurchaseOrderNumber)
		})
	}
	if threadID != "" {
		lookups = append(lookups, func() (*models.TicketState, error) { return r.store.FindTicketByGmailThread(ctx, threadID) })
	}

	for _, find := range lookups {
		t, err := find()
		if err == nil {
			return t, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// canOpenCase reports whether a message carries enough information to open
// a brand-new case. An order number is the minimum bar — without one there
// is nothing to upsert against the ticketing backend (§4.6 step 4).
func (r *Runner) canOpenCase(extracted Extracted) bool {
	return extracted.OrderNumber != ""
}

// openCase creates a new ticket with the ticketing backend and re-resolves
// it via GetByOrder rather than trusting GetByTicket for the full header:
// GetByTicket is documented as unreliable immediately after a create
// (backend indexing lag), but the order number we just upserted with
// resolves reliably.
func (r *Runner) openCase(ctx context.Context, msg models.InboundMessage, extracted Extracted) (*models.TicketState, error) {
	ticketNumber := extracted.TicketNumber
	if ticketNumber == "" {
		ticketNumber = "TCK-" + uuid.NewString()
	}

	header := models.TicketHeader{
		TicketNumber:        ticketNumber,
		OrderNumber:         extracted.OrderNumber,
		PurchaseOrderNumber: extracted.PurchaseOrderNumber,
		CustomerEmail:       msg.From,
		Subject:             msg.Subject,
		Language:            langdetect.Detect(msg.BodyPlain).String(),
	}
	if _, err := r.tickets.Upsert(ctx, header); err != nil {
		return nil, fmt.Errorf("opening case for order %q: %w", extracted.OrderNumber, err)
	}

	view, err := r.tickets.GetByOrder(ctx, extracted.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("resolving newly opened case: %w", err)
	}
	if view == nil {
		return nil, fmt.Errorf("ticketing backend did not return the case it just created for order %q", extracted.OrderNumber)
	}
	return headerToState(view.Header, msg), nil
}

func headerToState(h models.TicketHeader, msg models.InboundMessage) *models.TicketState {
	var orderNumber, poNumber *string
	if h.OrderNumber != "" {
		orderNumber = &h.OrderNumber
	}
	if h.PurchaseOrderNumber != "" {
		poNumber = &h.PurchaseOrderNumber
	}
	return &models.TicketState{
		TicketNumber:        h.TicketNumber,
		TicketID:            h.TicketID,
		Status:              models.TicketStatusNew,
		CustomerEmail:       firstNonEmpty(h.CustomerEmail, msg.From),
		Language:            firstNonEmpty(h.Language, langdetect.Detect(msg.BodyPlain).String()),
		OrderNumber:         orderNumber,
		PurchaseOrderNumber: poNumber,
		LastSeenAt:          time.Now(),
		GmailThreadID:       msg.ThreadID,
	}
}

// resolveSupplierName fills in ticket.SupplierName from the supplier
// directory, best-effort, so SupplierIdentityRedactor can also block the
// supplier's registered company name, not just its email (§4.5, §8 P8).
// A directory miss or lookup error just leaves SupplierName unset — the
// email/ticket-ref checks still apply.
func (r *Runner) resolveSupplierName(ctx context.Context, ticket *models.TicketState) {
	if ticket.SupplierEmail == nil || *ticket.SupplierEmail == "" {
		return
	}
	sup, err := r.store.FindSupplierByEmail(ctx, *ticket.SupplierEmail)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Default().Warn("pipeline: supplier directory lookup failed", "ticket", ticket.TicketNumber, "error", err)
		}
		return
	}
	ticket.SupplierName = &sup.Name
}

func roleOf(from string, ticket *models.TicketState) models.ParticipantRole {
	switch {
	case strings.EqualFold(from, ticket.CustomerEmail):
		return models.RoleCustomer
	case ticket.SupplierEmail != nil && strings.EqualFold(from, *ticket.SupplierEmail):
		return models.RoleSupplier
	default:
		return models.RoleUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildDecision detects language, formats drafts through the redactor and
// MessageFormatter pipeline, and assembles an AIDecision (§4.4, §4.5). A
// redactor refusal downgrades that draft to NO_DRAFT with its reason
// instead of failing the whole analysis (§7 policy-block).
func (r *Runner) buildDecision(ticket *models.TicketState, from, langSample string, analysis *models.AnalysisResult) *models.AIDecision {
	tag := langdetect.Resolve(r.cfg.LanguageOverrides, from, langSample)

	customerDraft := r.renderDraft(contextbuilder.DraftKindCustomer, analysis.CustomerResponse, ticket, tag)

	supplierBody := ""
	if analysis.SupplierAction != nil {
		supplierBody = analysis.SupplierAction.Message
	}
	supplierDraft := r.renderDraft(contextbuilder.DraftKindSupplier, supplierBody, ticket, tag)

	return &models.AIDecision{
		ID:                 uuid.NewString(),
		TicketRef:          ticket.TicketNumber,
		At:                 time.Now(),
		DetectedLanguage:   tag.String(),
		DetectedIntent:     analysis.Intent,
		Confidence:         analysis.Confidence,
		RecommendedAction:  analysis.Intent,
		CustomerDraft:      customerDraft,
		SupplierDraft:      supplierDraft,
		SupplierAction:     analysis.SupplierAction,
		RequiresEscalation: analysis.RequiresEscalation,
		PhaseAtDecision:    string(r.cfg.Phase),
		Summary:            analysis.Summary,
	}
}

// renderDraft redacts then formats a single draft body. An empty body or a
// "NO_DRAFT — <reason>" body means the model chose not to draft anything for
// this kind; a redactor refusal means it drafted something that cannot be
// shown. Either way the result is NO_DRAFT with a reason, never a pipeline
// failure (§7 policy-block).
func (r *Runner) renderDraft(kind contextbuilder.DraftKind, rawBody string, ticket *models.TicketState, lang language.Tag) models.DraftResult {
	if strings.TrimSpace(rawBody) == "" {
		return models.DraftResult{NoDraft: true, Reason: "model produced no draft for this recipient"}
	}
	if parsed := models.ParseDraft(rawBody); parsed.NoDraft {
		return parsed
	}

	redacted, err := r.ctxBuilder.Redact(kind, rawBody, ticket)
	if err != nil {
		var block *contextbuilder.PolicyBlock
		if errors.As(err, &block) {
			return models.DraftResult{NoDraft: true, Reason: block.Reason}
		}
		return models.DraftResult{NoDraft: true, Reason: "formatting error: " + err.Error()}
	}

	formatted := r.formatter.Format(formatter.Input{
		Lang:                lang,
		Draft:               models.DraftResult{Body: redacted},
		TicketNumber:        ticket.TicketNumber,
		OrderNumber:         ticket.OrderNumber,
		PurchaseOrderNumber: ticket.PurchaseOrderNumber,
	})
	return models.DraftResult{Body: formatted}
}

// ingestBackoff is the fixed ingest retry schedule (§4.10): 1m, 5m, 30m,
// 2h, clamped at the last entry for attempts beyond the schedule's length.
func ingestBackoff(attempt int) time.Duration {
	schedule := []time.Duration{1 * time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour}
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

func lockKeyFor(e Extracted, threadID string) string {
	switch {
	case e.TicketNumber != "":
		return e.TicketNumber
	case e.OrderNumber != "":
		return "order:" + e.OrderNumber
	case threadID != "":
		return "thread:" + threadID
	default:
		return "unkeyed"
	}
}
