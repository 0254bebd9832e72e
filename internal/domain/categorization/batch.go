package categorization

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlite/ledgerlite/pkg/observability"
)

// retryBackoff is the wait schedule between classifier attempts
var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// BatchOutcome is the aggregated result of classifying all chunks.
// Every input item lands in exactly one bucket.
type BatchOutcome struct {
	// Accepted predictions met the confidence threshold and name a
	// known category
	Accepted []Prediction
	// LowConfidence predictions fell below the threshold; their
	// transactions stay uncategorized
	LowConfidence []Prediction
	// InvalidCategory predictions named a category id outside the
	// provided set or carried a confidence outside [0, 1]
	InvalidCategory []Prediction
	// SkippedIDs are transactions the classifier response omitted
	SkippedIDs []uuid.UUID
	// FailedIDs are transactions whose chunk exhausted its retries or
	// was never attempted before the run was cancelled
	FailedIDs []uuid.UUID
	// FailedChunks counts chunks that exhausted their retries
	FailedChunks int
}

// BatchCategorizer drives the external classifier over chunks of
// uncategorized transactions. A chunk that keeps failing is skipped, not
// fatal: its transactions simply stay uncategorized for the next run.
type BatchCategorizer struct {
	classifier Classifier
	batchSize  int
	threshold  float64
	maxRetries int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewBatchCategorizer creates a batch categorizer
func NewBatchCategorizer(classifier Classifier, batchSize int, threshold float64, maxRetries int, timeout time.Duration, logger *slog.Logger) *BatchCategorizer {
	return &BatchCategorizer{
		classifier: classifier,
		batchSize:  batchSize,
		threshold:  threshold,
		maxRetries: maxRetries,
		timeout:    timeout,
		logger:     logger,
	}
}

// Run classifies all items in chunks of batchSize. Each classifier call
// runs under its own timeout, so a chunk that stalls or fails cannot
// poison the remaining chunks.
func (b *BatchCategorizer) Run(ctx context.Context, items []ClassifyItem, categories []Category) *BatchOutcome {
	outcome := &BatchOutcome{}
	if len(items) == 0 {
		return outcome
	}

	known := make(map[uuid.UUID]struct{}, len(categories))
	for _, c := range categories {
		known[c.ID] = struct{}{}
	}

	for start := 0; start < len(items); start += b.batchSize {
		end := start + b.batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		if ctx.Err() != nil {
			b.logger.Warn("categorization run cancelled, skipping remaining chunks",
				"remaining", len(items)-start)
			for _, item := range items[start:] {
				outcome.FailedIDs = append(outcome.FailedIDs, item.ID)
			}
			outcome.FailedChunks++
			break
		}

		predictions, err := b.classifyWithRetry(ctx, ClassifyRequest{Items: chunk, Categories: categories})
		if err != nil {
			outcome.FailedChunks++
			for _, item := range chunk {
				outcome.FailedIDs = append(outcome.FailedIDs, item.ID)
			}
			b.logger.Warn("chunk failed after retries, skipping its transactions",
				"size", len(chunk), "kind", string(KindOf(err)), "error", err)
			continue
		}

		b.bucket(chunk, predictions, known, outcome)
	}

	return outcome
}

// classifyWithRetry attempts one chunk up to maxRetries+1 times, each
// attempt under its own deadline. Every failure kind is retryable.
func (b *BatchCategorizer) classifyWithRetry(ctx context.Context, req ClassifyRequest) ([]Prediction, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBackoff[len(retryBackoff)-1]
			if attempt-1 < len(retryBackoff) {
				wait = retryBackoff[attempt-1]
			}
			observability.ClassifierRetries.Inc()

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &ClassifierError{Kind: FailureTimeout, Err: ctx.Err()}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		predictions, err := b.classifier.Classify(callCtx, req)
		cancel()
		if err == nil {
			observability.ClassifierCalls.WithLabelValues("ok").Inc()
			return predictions, nil
		}

		lastErr = err
		observability.ClassifierCalls.WithLabelValues(string(KindOf(err))).Inc()
	}

	return nil, lastErr
}

// bucket files each chunk item into the outcome based on its prediction
func (b *BatchCategorizer) bucket(chunk []ClassifyItem, predictions []Prediction, known map[uuid.UUID]struct{}, outcome *BatchOutcome) {
	byTx := make(map[uuid.UUID]Prediction, len(predictions))
	for _, p := range predictions {
		byTx[p.TransactionID] = p
	}

	for _, item := range chunk {
		p, ok := byTx[item.ID]
		if !ok {
			outcome.SkippedIDs = append(outcome.SkippedIDs, item.ID)
			continue
		}
		if _, valid := known[p.CategoryID]; !valid {
			b.logger.Warn("dropping prediction with unknown category",
				"transactionID", p.TransactionID, "categoryID", p.CategoryID)
			outcome.InvalidCategory = append(outcome.InvalidCategory, p)
			continue
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			b.logger.Warn("dropping prediction with out-of-range confidence",
				"transactionID", p.TransactionID, "confidence", p.Confidence)
			outcome.InvalidCategory = append(outcome.InvalidCategory, p)
			continue
		}
		if p.Confidence < b.threshold {
			outcome.LowConfidence = append(outcome.LowConfidence, p)
			continue
		}
		outcome.Accepted = append(outcome.Accepted, p)
	}
}
