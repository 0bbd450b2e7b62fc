package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers publication sweeps on a cron schedule. Overlapping
// sweeps are harmless: the per-query dispatch lock makes the second run skip
// queries the first is still working on. Stop cancels the sweep context, so
// an in-flight sweep aborts at the next batch boundary instead of holding up
// shutdown until the dataset is exhausted.
type Scheduler struct {
	cron      *cron.Cron
	publisher *Publisher
	schedule  string
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler for the given cron expression
// (e.g. "@every 1m").
func NewScheduler(p *Publisher, schedule string) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		publisher: p,
		schedule:  schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	_, err := s.cron.AddFunc(s.schedule, func() {
		err := s.publisher.PublishAll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			slog.Info("publish sweep aborted by shutdown")
		default:
			slog.Error("publish sweep failed", "error", err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid publish schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	slog.Info("publish scheduler started", "schedule", s.schedule)
	return nil
}

// Stop cancels any running sweep and waits for it to wind down. Committed
// batches stay committed; the next sweep resumes from the recorded offset.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	slog.Info("publish scheduler stopped")
}
