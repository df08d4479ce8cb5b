// Package worker implements the top-level process loop (§6): polling the
// MailSource, running each inbound message through the Pipeline, and
// driving the RetryScheduler and SupplierTracker sweeps alongside it.
// Structured like the teacher's queue.Worker — a single run loop selecting
// on a stop channel, jittered idle sleep between empty polls.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/mail"
	"github.com/dropshiptriage/triage/internal/pipeline"
	"github.com/dropshiptriage/triage/internal/retry"
	"github.com/dropshiptriage/triage/internal/supplier"
)

// Worker owns the mail-polling loop and the lifecycle of the retry and
// supplier-reminder sweeps that run alongside it.
type Worker struct {
	source    mail.Source
	runner    *pipeline.Runner
	scheduler *retry.Scheduler
	tracker   *supplier.Tracker
	cfg       *config.Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Worker. tracker may be nil (supplier reminders disabled).
func New(source mail.Source, runner *pipeline.Runner, scheduler *retry.Scheduler, tracker *supplier.Tracker, cfg *config.Config) *Worker {
	return &Worker{
		source:    source,
		runner:    runner,
		scheduler: scheduler,
		tracker:   tracker,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start begins mail polling and the retry/supplier sweeps, each in its own
// goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.scheduler.Start(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	if w.tracker != nil {
		w.wg.Add(1)
		go w.supplierLoop(ctx)
	}
}

// Stop signals every loop to exit and waits for them to finish. Safe to
// call more than once.
func (w *Worker) Stop() {
	w.scheduler.Stop()
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("loop", "mail")
	log.Info("mail polling started")

	for {
		select {
		case <-w.stopCh:
			log.Info("mail polling stopping")
			return
		case <-ctx.Done():
			return
		default:
			n, err := w.pollAndProcess(ctx)
			if err != nil {
				var transient *mail.TransientError
				if errors.As(err, &transient) {
					log.Warn("mail source temporarily unavailable", "error", err)
				} else {
					log.Error("poll failed", "error", err)
				}
				w.sleep(w.pollInterval())
				continue
			}
			if n == 0 {
				w.sleep(w.pollInterval())
			}
		}
	}
}

// pollAndProcess lists new inbound messages and runs each through the
// Pipeline, marking every message consumed afterward regardless of
// outcome — ingest-side retry is the RetryScheduler's job from here, not
// MailSource's.
func (w *Worker) pollAndProcess(ctx context.Context) (int, error) {
	messages, err := w.source.ListNew(ctx)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		log := slog.With("source_message_id", msg.SourceMessageID)
		result, err := w.runner.Run(ctx, msg)
		if err != nil {
			log.Error("pipeline run failed", "error", err)
		} else if result.AlreadyProcessed {
			log.Debug("message already processed, skipping")
		} else if result.NoCaseOpened {
			log.Info("no ticket could be correlated or opened for this message")
		} else {
			log.Info("message processed", "ticket_number", result.TicketNumber)
		}

		if err := w.source.MarkConsumed(ctx, msg.SourceMessageID); err != nil {
			log.Error("failed to mark message consumed", "error", err)
		}
	}
	return len(messages), nil
}

func (w *Worker) supplierLoop(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("loop", "supplier-reminders")
	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tracker.Sweep(ctx); err != nil {
				log.Error("supplier sweep failed", "error", err)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the configured poll period with up to ±10% jitter,
// avoiding synchronized wakeups if multiple workers ever run side by side.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval()
	jitter := base / 10
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
