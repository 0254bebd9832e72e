package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerlite/ledgerlite/pkg/observability"
)

// BatchTracker manages the lifecycle of categorization run records.
// Transitions are pending -> running -> completed or failed; the
// repository refuses any other order, so a batch closes exactly once.
type BatchTracker struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

// NewBatchTracker creates a batch tracker
func NewBatchTracker(repo RepositoryAPI, logger *slog.Logger) *BatchTracker {
	return &BatchTracker{repo: repo, logger: logger}
}

// Begin records a new run and moves it to running
func (t *BatchTracker) Begin(ctx context.Context, transactionCount int) (*Batch, error) {
	batch := &Batch{Status: "pending", TransactionCount: transactionCount}
	if err := t.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}
	if err := t.repo.MarkBatchRunning(ctx, batch.ID); err != nil {
		return nil, err
	}
	batch.Status = "running"
	return batch, nil
}

// Complete closes a run as completed with its final counts
func (t *BatchTracker) Complete(ctx context.Context, batch *Batch, startedAt time.Time) {
	t.finish(ctx, batch, "completed", startedAt, nil)
}

// Fail closes a run as failed, keeping whatever counts were reached
func (t *BatchTracker) Fail(ctx context.Context, batch *Batch, startedAt time.Time, cause error) {
	msg := cause.Error()
	t.finish(ctx, batch, "failed", startedAt, &msg)
}

func (t *BatchTracker) finish(ctx context.Context, batch *Batch, status string, startedAt time.Time, errMsg *string) {
	elapsed := time.Since(startedAt)
	durationMs := elapsed.Milliseconds()

	batch.Status = status
	batch.DurationMs = &durationMs
	// A message set earlier in the run survives a completed close, so a
	// partial classifier failure stays visible on the batch record.
	if errMsg != nil {
		batch.ErrorMessage = errMsg
	}

	observability.BatchDuration.Observe(elapsed.Seconds())

	if err := t.repo.FinishBatch(ctx, batch); err != nil {
		t.logger.Error("failed to close categorization batch",
			"batchID", batch.ID, "status", status, "error", err)
	}
}
