// Package retry implements the RetryScheduler (§4.10): two independent
// sweeps, one replaying ingest-side failures back through the Pipeline, one
// re-attempting failed outbound sends through the ApprovalQueue. Structured
// like the teacher's queue.Worker poll loop, minus session claiming — each
// sweep just lists due rows and works through them in order.
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/pipeline"
	"github.com/dropshiptriage/triage/internal/store"
)

// Scheduler runs the ingest and pending-send sweeps on independent tickers
// until Stop is called.
type Scheduler struct {
	store  *store.Store
	runner *pipeline.Runner
	queue  *approval.Queue
	cfg    *config.Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Scheduler.
func New(st *store.Store, runner *pipeline.Runner, queue *approval.Queue, cfg *config.Config) *Scheduler {
	return &Scheduler{store: st, runner: runner, queue: queue, cfg: cfg, stopCh: make(chan struct{})}
}

// Start begins both sweep loops in their own goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, "ingest", s.SweepIngest)
	go s.loop(ctx, "pending-sends", s.SweepPendingSends)
}

// Stop signals both loops to exit and waits for them to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, sweep func(context.Context) error) {
	defer s.wg.Done()
	log := slog.With("sweep", name)
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepIngest replays every due ingest retry through the Pipeline's
// Reprocess entry point (§4.10 ingest-side retry). Each item is handled
// independently; one failure does not block the rest of the batch.
func (s *Scheduler) SweepIngest(ctx context.Context) error {
	items, err := s.store.ListDueRetryItems(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, item := range items {
		var msg models.InboundMessage
		if err := unmarshalPayload(item.Payload, &msg); err != nil {
			slog.Default().Error("retry: dropping unreadable ingest payload", "source_message_id", item.SourceMessageID, "error", err)
			continue
		}
		if _, err := s.runner.Reprocess(ctx, msg); err != nil {
			slog.Default().Warn("retry: ingest reprocess failed, rescheduled", "source_message_id", item.SourceMessageID, "error", err)
		}
	}
	return nil
}

// SweepPendingSends re-attempts every failed PendingMessage whose
// next_attempt_at has passed, delegating to ApprovalQueue.Retry so the
// retry-cap/give-up logic lives in exactly one place (§4.10 send-side
// retry).
func (s *Scheduler) SweepPendingSends(ctx context.Context) error {
	items, err := s.store.ListDueRetries(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := s.queue.Retry(ctx, item.ID); err != nil {
			slog.Default().Warn("retry: pending send retry failed", "pending_message_id", item.ID, "error", err)
		}
	}
	return nil
}
