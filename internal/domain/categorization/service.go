package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlite/ledgerlite/pkg/config"
	"github.com/ledgerlite/ledgerlite/pkg/money"
	"github.com/ledgerlite/ledgerlite/pkg/observability"
)

// maxRunSize bounds how many transactions one run picks up. Anything
// beyond it waits for the next run.
const maxRunSize = 5000

// maxClassifierTextLen caps the raw description sent to the classifier.
// Bank exports occasionally carry very long memo fields.
const maxClassifierTextLen = 200

// Bulk operation names accepted by BulkUpdate
const (
	BulkOpMarkReviewed = "mark_reviewed"
	BulkOpSetCategory  = "set_category"
	BulkOpAddNote      = "add_note"
)

// Service runs the two-stage categorization pipeline: learned rules
// first, then the external classifier for what the rules missed.
type Service struct {
	repo       RepositoryAPI
	classifier Classifier // nil when no API key is configured
	cfg        config.CategorizerConfig
	logger     *slog.Logger
	tracker    *BatchTracker
}

// NewService creates a categorization service. A nil classifier disables
// the AI stage; rule matching still runs.
func NewService(repo RepositoryAPI, classifier Classifier, cfg config.CategorizerConfig, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
		tracker:    NewBatchTracker(repo, logger),
	}
}

// RunOptions tweaks a single categorization run.
type RunOptions struct {
	// BatchSize overrides the configured classifier sub-batch size when
	// positive.
	BatchSize int
}

// CategorizeNew categorizes currently uncategorized transactions, up to
// maxRunSize per run, and returns the closed batch record. When more
// transactions exist, a later run picks them up. Classifier trouble
// never fails the run; affected transactions stay uncategorized for
// next time, counted under failure_count with an error message on the
// batch.
func (s *Service) CategorizeNew(ctx context.Context) (*Batch, error) {
	return s.CategorizeWith(ctx, RunOptions{})
}

// CategorizeWith is CategorizeNew with per-run overrides.
func (s *Service) CategorizeWith(ctx context.Context, opts RunOptions) (*Batch, error) {
	start := time.Now()

	txs, err := s.repo.ListUncategorized(ctx, maxRunSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load uncategorized transactions: %w", err)
	}
	if len(txs) == maxRunSize {
		s.logger.Warn("categorization run truncated, more uncategorized transactions remain",
			"limit", maxRunSize)
	}

	batch, err := s.tracker.Begin(ctx, len(txs))
	if err != nil {
		return nil, err
	}

	if len(txs) == 0 {
		s.tracker.Complete(ctx, batch, start)
		return batch, nil
	}

	remaining, err := s.applyRules(ctx, batch, txs)
	if err != nil {
		s.tracker.Fail(ctx, batch, start, err)
		return nil, err
	}

	if err := s.applyClassifier(ctx, batch, remaining, opts); err != nil {
		s.tracker.Fail(ctx, batch, start, err)
		return nil, err
	}

	batch.SuccessCount = batch.RuleMatchCount + batch.AIMatchCount
	s.tracker.Complete(ctx, batch, start)

	s.logger.Info("categorization run finished",
		"batchID", batch.ID,
		"transactions", batch.TransactionCount,
		"ruleMatches", batch.RuleMatchCount,
		"aiMatches", batch.AIMatchCount,
		"skipped", batch.SkippedCount,
		"failures", batch.FailureCount,
	)

	return batch, nil
}

// applyRules matches every transaction against the rule engine and
// writes the hits. Returns the transactions no rule covered.
func (s *Service) applyRules(ctx context.Context, batch *Batch, txs []Transaction) ([]Transaction, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	engine := NewEngine(rules)

	var assignments []Assignment
	var remaining []Transaction
	for _, tx := range txs {
		match := engine.Match(tx.NormalizedMerchant)
		if match == nil {
			remaining = append(remaining, tx)
			continue
		}
		assignments = append(assignments, Assignment{
			TransactionID: tx.ID,
			CategoryID:    match.CategoryID,
			Source:        "rule",
		})
	}

	applied, err := s.repo.ApplyAssignments(ctx, assignments)
	if err != nil {
		return nil, fmt.Errorf("failed to apply rule matches: %w", err)
	}

	batch.RuleMatchCount = applied
	observability.CategorizedTotal.WithLabelValues("rule").Add(float64(applied))
	return remaining, nil
}

// applyClassifier sends uncovered transactions through the external
// classifier and writes accepted predictions.
func (s *Service) applyClassifier(ctx context.Context, batch *Batch, txs []Transaction, opts RunOptions) error {
	if len(txs) == 0 {
		return nil
	}

	if s.classifier == nil {
		batch.SkippedCount = len(txs)
		observability.CategorizedTotal.WithLabelValues("skipped").Add(float64(len(txs)))
		return nil
	}

	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}

	items := make([]ClassifyItem, len(txs))
	for i, tx := range txs {
		text := tx.Description
		if runes := []rune(text); len(runes) > maxClassifierTextLen {
			text = string(runes[:maxClassifierTextLen])
		}
		items[i] = ClassifyItem{
			ID:        tx.ID,
			Merchant:  tx.NormalizedMerchant,
			Text:      text,
			IsExpense: money.IsExpense(tx.AmountMinor),
		}
	}

	batchSize := s.cfg.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	batcher := NewBatchCategorizer(
		s.classifier,
		batchSize,
		s.cfg.ConfidenceThreshold,
		s.cfg.MaxRetries,
		s.cfg.Timeout,
		s.logger,
	)
	outcome := batcher.Run(ctx, items, categories)

	assignments := make([]Assignment, 0, len(outcome.Accepted))
	for _, p := range outcome.Accepted {
		confidence := p.Confidence
		assignments = append(assignments, Assignment{
			TransactionID: p.TransactionID,
			CategoryID:    p.CategoryID,
			Source:        "ai",
			Confidence:    &confidence,
		})
	}

	applied, err := s.repo.ApplyAssignments(ctx, assignments)
	if err != nil {
		return fmt.Errorf("failed to apply classifier predictions: %w", err)
	}

	batch.AIMatchCount = applied
	batch.SkippedCount = len(outcome.LowConfidence) + len(outcome.SkippedIDs)
	batch.FailureCount = len(outcome.InvalidCategory) + len(outcome.FailedIDs)
	if outcome.FailedChunks > 0 {
		msg := fmt.Sprintf("classifier failed on %d chunk(s), %d transactions left uncategorized",
			outcome.FailedChunks, len(outcome.FailedIDs))
		batch.ErrorMessage = &msg
	}

	observability.CategorizedTotal.WithLabelValues("ai").Add(float64(applied))
	observability.CategorizedTotal.WithLabelValues("skipped").Add(float64(batch.SkippedCount))
	return nil
}

// CorrectCategory records a manual category decision and learns a rule
// from the transaction's merchant, so the same merchant categorizes
// automatically from now on. Returns the learned rule and how many other
// uncategorized transactions it backfilled.
func (s *Service) CorrectCategory(ctx context.Context, txID, categoryID uuid.UUID) (*Rule, int64, error) {
	merchant, err := s.repo.SetTransactionCategory(ctx, txID, categoryID, "manual")
	if err != nil {
		return nil, 0, err
	}

	if merchant == "" {
		return nil, 0, nil
	}

	rule, err := s.repo.UpsertRule(ctx, merchant, categoryID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to learn rule from correction: %w", err)
	}

	backfilled, err := s.repo.ApplyRuleBackfill(ctx, rule)
	if err != nil {
		s.logger.Warn("failed to backfill learned rule", "ruleID", rule.ID, "error", err)
		return rule, 0, nil
	}

	observability.CategorizedTotal.WithLabelValues("rule").Add(float64(backfilled))
	return rule, backfilled, nil
}

// CreateRule adds or repoints a rule, optionally applying it to existing
// uncategorized transactions. The pattern is lowercased and trimmed to
// match the normalized merchant form the engine and backfill compare
// against.
func (s *Service) CreateRule(ctx context.Context, merchantPattern string, categoryID uuid.UUID, applyToExisting bool) (*Rule, int64, error) {
	merchantPattern = strings.ToLower(strings.TrimSpace(merchantPattern))
	if merchantPattern == "" {
		return nil, 0, fmt.Errorf("merchant pattern must not be empty")
	}

	rule, err := s.repo.UpsertRule(ctx, merchantPattern, categoryID)
	if err != nil {
		return nil, 0, err
	}

	if !applyToExisting {
		return rule, 0, nil
	}

	backfilled, err := s.repo.ApplyRuleBackfill(ctx, rule)
	if err != nil {
		return rule, 0, fmt.Errorf("rule created but backfill failed: %w", err)
	}
	observability.CategorizedTotal.WithLabelValues("rule").Add(float64(backfilled))
	return rule, backfilled, nil
}

// ListRules returns all rules, newest first
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.repo.ListRules(ctx)
}

// DeleteRule removes a rule
func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteRule(ctx, id)
}

// ListCategories returns all categories
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// GetBatch returns one run record
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches returns recent run records
func (s *Service) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListBatches(ctx, limit)
}

// BulkUpdate applies one operation to a set of transactions
func (s *Service) BulkUpdate(ctx context.Context, op string, ids []uuid.UUID, categoryID *uuid.UUID, note string) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("no transaction ids given")
	}

	switch op {
	case BulkOpMarkReviewed:
		return s.repo.BulkMarkReviewed(ctx, ids)
	case BulkOpSetCategory:
		if categoryID == nil {
			return 0, fmt.Errorf("set_category requires a category_id")
		}
		return s.repo.BulkSetCategory(ctx, ids, *categoryID)
	case BulkOpAddNote:
		if note == "" {
			return 0, fmt.Errorf("add_note requires a note")
		}
		return s.repo.BulkAddNote(ctx, ids, note)
	default:
		return 0, fmt.Errorf("unknown bulk operation %q", op)
	}
}
