// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerlite/ledgerlite/internal/domain/categorization"
)

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron   *cron.Cron
	catSvc *categorization.Service
	logger *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(catSvc *categorization.Service, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:   c,
		catSvc: catSvc,
		logger: logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	// Nightly sweep at 3:00 AM picks up transactions that earlier runs
	// skipped, e.g. after classifier outages.
	_, err := s.cron.AddFunc("0 3 * * *", s.sweepUncategorized)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers the categorization sweep (for testing/admin).
func (s *Scheduler) RunNow() {
	go s.sweepUncategorized()
}

// sweepUncategorized runs one categorization pass over everything still
// uncategorized.
func (s *Scheduler) sweepUncategorized() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s.logger.Info("starting nightly categorization sweep")

	batch, err := s.catSvc.CategorizeNew(ctx)
	if err != nil {
		s.logger.Error("nightly categorization sweep failed", slog.Any("error", err))
		return
	}

	s.logger.Info("nightly categorization sweep finished",
		slog.String("batchID", batch.ID.String()),
		slog.Int("transactions", batch.TransactionCount),
		slog.Int("ruleMatches", batch.RuleMatchCount),
		slog.Int("aiMatches", batch.AIMatchCount),
		slog.Int("skipped", batch.SkippedCount),
	)
}
