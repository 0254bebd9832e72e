// Package categorization assigns categories to imported transactions,
// first through learned merchant rules and then through an external
// classifier for whatever the rules do not cover.
package categorization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rule maps a merchant substring to a category. Rules are learned from
// manual corrections; when two rules match the same merchant the most
// recently created one wins.
type Rule struct {
	ID              uuid.UUID `json:"id"`
	MerchantPattern string    `json:"merchant_pattern"`
	CategoryID      uuid.UUID `json:"category_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Category is a spending category transactions are assigned to
type Category struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Transaction is the projection of a stored transaction the
// categorization run works on.
type Transaction struct {
	ID                 uuid.UUID
	Description        string
	NormalizedMerchant string
	AmountMinor        int64
}

// Assignment is one category decision ready to be written back
type Assignment struct {
	TransactionID uuid.UUID
	CategoryID    uuid.UUID
	Source        string // rule, ai, manual
	Confidence    *float64
}

// Batch is the persistent record of one categorization run
type Batch struct {
	ID               uuid.UUID  `json:"id"`
	Status           string     `json:"status"` // pending, running, completed, failed
	TransactionCount int        `json:"transaction_count"`
	SuccessCount     int        `json:"success_count"`
	FailureCount     int        `json:"failure_count"`
	RuleMatchCount   int        `json:"rule_match_count"`
	AIMatchCount     int        `json:"ai_match_count"`
	SkippedCount     int        `json:"skipped_count"`
	DurationMs       *int64     `json:"duration_ms,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// PgxPool is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it too.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RepositoryAPI defines persistence operations for categorization
type RepositoryAPI interface {
	ListRules(ctx context.Context) ([]Rule, error)
	UpsertRule(ctx context.Context, merchantPattern string, categoryID uuid.UUID) (*Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error

	ListCategories(ctx context.Context) ([]Category, error)
	ListUncategorized(ctx context.Context, limit int) ([]Transaction, error)

	ApplyAssignments(ctx context.Context, assignments []Assignment) (int, error)
	ApplyRuleBackfill(ctx context.Context, rule *Rule) (int64, error)
	SetTransactionCategory(ctx context.Context, txID, categoryID uuid.UUID, source string) (string, error)
	BulkMarkReviewed(ctx context.Context, ids []uuid.UUID) (int64, error)
	BulkSetCategory(ctx context.Context, ids []uuid.UUID, categoryID uuid.UUID) (int64, error)
	BulkAddNote(ctx context.Context, ids []uuid.UUID, note string) (int64, error)

	CreateBatch(ctx context.Context, batch *Batch) error
	MarkBatchRunning(ctx context.Context, id uuid.UUID) error
	FinishBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
}

// Repository handles database operations for categorization
type Repository struct {
	db PgxPool
}

// NewRepository creates a new categorization repository
func NewRepository(db PgxPool) *Repository {
	return &Repository{db: db}
}

// ListRules fetches all rules, newest first. Engine priority follows this
// order, so ties on created_at resolve by scan order.
func (r *Repository) ListRules(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT id, merchant_pattern, category_id, created_at
		FROM categorization_rules
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.MerchantPattern, &rule.CategoryID, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertRule creates a rule or repoints an existing pattern at a new
// category. A refreshed rule gets a fresh created_at, so it also becomes
// the most recent match for its pattern.
func (r *Repository) UpsertRule(ctx context.Context, merchantPattern string, categoryID uuid.UUID) (*Rule, error) {
	query := `
		INSERT INTO categorization_rules (merchant_pattern, category_id)
		VALUES ($1, $2)
		ON CONFLICT (merchant_pattern) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			created_at = NOW()
		RETURNING id, merchant_pattern, category_id, created_at
	`

	var rule Rule
	err := r.db.QueryRow(ctx, query, merchantPattern, categoryID).Scan(
		&rule.ID, &rule.MerchantPattern, &rule.CategoryID, &rule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert rule: %w", err)
	}
	return &rule, nil
}

// DeleteRule removes a rule
func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM categorization_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListCategories returns all categories
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListUncategorized returns transactions with no category yet, oldest first
func (r *Repository) ListUncategorized(ctx context.Context, limit int) ([]Transaction, error) {
	query := `
		SELECT id, description, COALESCE(normalized_merchant, ''), amount_minor
		FROM transactions
		WHERE category_id IS NULL
		ORDER BY posted_at, id
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncategorized transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.Description, &tx.NormalizedMerchant, &tx.AmountMinor); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ApplyAssignments writes category decisions in one transaction, so a
// partially applied batch never becomes visible.
func (r *Repository) ApplyAssignments(ctx context.Context, assignments []Assignment) (int, error) {
	if len(assignments) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE transactions
		SET category_id = $2, categorization_source = $3, confidence_score = $4
		WHERE id = $1 AND category_id IS NULL
	`

	applied := 0
	for _, a := range assignments {
		tag, err := tx.Exec(ctx, query, a.TransactionID, a.CategoryID, a.Source, a.Confidence)
		if err != nil {
			return 0, fmt.Errorf("failed to apply assignment for %s: %w", a.TransactionID, err)
		}
		applied += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit assignments: %w", err)
	}
	return applied, nil
}

// ApplyRuleBackfill applies a rule to already-imported uncategorized
// transactions whose merchant contains the rule's pattern.
func (r *Repository) ApplyRuleBackfill(ctx context.Context, rule *Rule) (int64, error) {
	query := `
		UPDATE transactions
		SET category_id = $1, categorization_source = 'rule', confidence_score = NULL
		WHERE category_id IS NULL
		  AND normalized_merchant LIKE '%' || $2 || '%'
	`

	tag, err := r.db.Exec(ctx, query, rule.CategoryID, rule.MerchantPattern)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill rule: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetTransactionCategory records a manual correction and returns the
// transaction's normalized merchant so the caller can learn a rule from it.
func (r *Repository) SetTransactionCategory(ctx context.Context, txID, categoryID uuid.UUID, source string) (string, error) {
	query := `
		UPDATE transactions
		SET category_id = $2, categorization_source = $3, confidence_score = NULL
		WHERE id = $1
		RETURNING COALESCE(normalized_merchant, '')
	`

	var merchant string
	err := r.db.QueryRow(ctx, query, txID, categoryID, source).Scan(&merchant)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("transaction %s not found", txID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to set transaction category: %w", err)
	}
	return merchant, nil
}

// BulkMarkReviewed marks the given transactions reviewed
func (r *Repository) BulkMarkReviewed(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET reviewed = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark reviewed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BulkSetCategory assigns a category to the given transactions as a
// manual decision
func (r *Repository) BulkSetCategory(ctx context.Context, ids []uuid.UUID, categoryID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET category_id = $2, categorization_source = 'manual', confidence_score = NULL
		WHERE id = ANY($1)`, ids, categoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to set category: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BulkAddNote appends a note to the given transactions
func (r *Repository) BulkAddNote(ctx context.Context, ids []uuid.UUID, note string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET notes = CASE WHEN notes IS NULL OR notes = '' THEN $2
		                 ELSE notes || E'\n' || $2 END
		WHERE id = ANY($1)`, ids, note)
	if err != nil {
		return 0, fmt.Errorf("failed to add note: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateBatch inserts a new pending batch record
func (r *Repository) CreateBatch(ctx context.Context, batch *Batch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = "pending"
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO categorization_batches (id, status, transaction_count)
		VALUES ($1, $2, $3)`, batch.ID, batch.Status, batch.TransactionCount)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// MarkBatchRunning transitions a pending batch to running
func (r *Repository) MarkBatchRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE categorization_batches SET status = 'running'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark batch running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s is not pending", id)
	}
	return nil
}

// FinishBatch closes a batch with its final counts. Only a running batch
// can be closed, so a batch completes exactly once.
func (r *Repository) FinishBatch(ctx context.Context, batch *Batch) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE categorization_batches SET
			status = $2, transaction_count = $3, success_count = $4,
			failure_count = $5, rule_match_count = $6, ai_match_count = $7,
			skipped_count = $8, duration_ms = $9, error_message = $10,
			completed_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		batch.ID, batch.Status, batch.TransactionCount, batch.SuccessCount,
		batch.FailureCount, batch.RuleMatchCount, batch.AIMatchCount,
		batch.SkippedCount, batch.DurationMs, batch.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s is not running", batch.ID)
	}
	return nil
}

// GetBatch returns a batch by ID, or nil when it does not exist
func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	var b Batch
	err := r.db.QueryRow(ctx, `
		SELECT id, status, transaction_count, success_count, failure_count,
		       rule_match_count, ai_match_count, skipped_count, duration_ms,
		       error_message, started_at, completed_at
		FROM categorization_batches WHERE id = $1`, id).Scan(
		&b.ID, &b.Status, &b.TransactionCount, &b.SuccessCount, &b.FailureCount,
		&b.RuleMatchCount, &b.AIMatchCount, &b.SkippedCount, &b.DurationMs,
		&b.ErrorMessage, &b.StartedAt, &b.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// ListBatches returns recent batches, newest first
func (r *Repository) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, status, transaction_count, success_count, failure_count,
		       rule_match_count, ai_match_count, skipped_count, duration_ms,
		       error_message, started_at, completed_at
		FROM categorization_batches
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(
			&b.ID, &b.Status, &b.TransactionCount, &b.SuccessCount, &b.FailureCount,
			&b.RuleMatchCount, &b.AIMatchCount, &b.SkippedCount, &b.DurationMs,
			&b.ErrorMessage, &b.StartedAt, &b.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
