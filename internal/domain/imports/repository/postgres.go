package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerlite/ledgerlite/internal/domain/imports/fingerprint"
)

// PgxPool is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it too.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool PgxPool
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

// GetMappingByFingerprint looks up a saved column mapping by header fingerprint
func (r *PostgresImportRepository) GetMappingByFingerprint(ctx context.Context, fp string) (*FileMapping, error) {
	query := `
		SELECT id, fingerprint, bank_name, delimiter, skip_lines, date_format,
		       date_col, desc_col, category_col, amount_col, debit_col, credit_col,
		       is_european, created_at, updated_at
		FROM file_mappings
		WHERE fingerprint = $1
	`

	var m FileMapping
	err := r.pool.QueryRow(ctx, query, fp).Scan(
		&m.ID, &m.Fingerprint, &m.BankName, &m.Delimiter, &m.SkipLines, &m.DateFormat,
		&m.DateCol, &m.DescCol, &m.CategoryCol, &m.AmountCol, &m.DebitCol, &m.CreditCol,
		&m.IsEuropean, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by fingerprint: %w", err)
	}

	return &m, nil
}

// SaveMapping upserts a column mapping for a header fingerprint
func (r *PostgresImportRepository) SaveMapping(ctx context.Context, mapping *FileMapping) error {
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	query := `
		INSERT INTO file_mappings (
			id, fingerprint, bank_name, delimiter, skip_lines, date_format,
			date_col, desc_col, category_col, amount_col, debit_col, credit_col, is_european
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (fingerprint) DO UPDATE SET
			bank_name = EXCLUDED.bank_name,
			delimiter = EXCLUDED.delimiter,
			skip_lines = EXCLUDED.skip_lines,
			date_format = EXCLUDED.date_format,
			date_col = EXCLUDED.date_col,
			desc_col = EXCLUDED.desc_col,
			category_col = EXCLUDED.category_col,
			amount_col = EXCLUDED.amount_col,
			debit_col = EXCLUDED.debit_col,
			credit_col = EXCLUDED.credit_col,
			is_european = EXCLUDED.is_european,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		mapping.ID, mapping.Fingerprint, mapping.BankName, mapping.Delimiter,
		mapping.SkipLines, mapping.DateFormat, mapping.DateCol, mapping.DescCol,
		mapping.CategoryCol, mapping.AmountCol, mapping.DebitCol, mapping.CreditCol,
		mapping.IsEuropean,
	)
	if err != nil {
		return fmt.Errorf("failed to save file mapping: %w", err)
	}

	return nil
}

// ListAccountFingerprints returns dedup projections for an account's transactions
func (r *PostgresImportRepository) ListAccountFingerprints(ctx context.Context, accountID uuid.UUID) ([]fingerprint.Existing, error) {
	query := `
		SELECT fingerprint, posted_at, amount_minor, original_description
		FROM transactions
		WHERE account_id = $1
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account fingerprints: %w", err)
	}
	defer rows.Close()

	var existing []fingerprint.Existing
	for rows.Next() {
		var e fingerprint.Existing
		if err := rows.Scan(&e.Fingerprint, &e.Date, &e.AmountMinor, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint row: %w", err)
		}
		existing = append(existing, e)
	}

	return existing, rows.Err()
}

// BulkInsertTransactions inserts parsed rows using COPY. New rows carry
// categorization_source = 'none'; the categorization run picks them up.
func (r *PostgresImportRepository) BulkInsertTransactions(ctx context.Context, accountID uuid.UUID, txs []*ParsedTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "account_id", "posted_at", "amount_minor", "description",
		"original_description", "normalized_merchant", "categorization_source", "fingerprint",
	}

	copyCount, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		columns,
		pgx.CopyFromSlice(len(txs), func(i int) ([]any, error) {
			tx := txs[i]
			return []any{
				uuid.New(),
				accountID,
				tx.Date,
				tx.AmountMinor,
				tx.Description,
				tx.OriginalDescription,
				tx.NormalizedMerchant,
				"none",
				tx.Fingerprint,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert transactions: %w", err)
	}

	return int(copyCount), nil
}

// GetAccountCurrency returns the currency code configured on the account
func (r *PostgresImportRepository) GetAccountCurrency(ctx context.Context, accountID uuid.UUID) (string, error) {
	var currency string
	err := r.pool.QueryRow(ctx,
		`SELECT currency_code FROM accounts WHERE id = $1`, accountID).Scan(&currency)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("account %s not found", accountID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get account currency: %w", err)
	}
	return currency, nil
}

// CreateImportJob creates a new import job record
func (r *PostgresImportRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = "running"
	}

	query := `
		INSERT INTO import_jobs (id, account_id, status, rows_total)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, job.ID, job.AccountID, job.Status, job.RowsTotal)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// FinishImportJob closes an import job with final counts
func (r *PostgresImportRepository) FinishImportJob(ctx context.Context, id uuid.UUID, status string, imported, skipped, failed int, errorMessage *string) error {
	query := `
		UPDATE import_jobs SET
			status = $2, rows_imported = $3, rows_skipped = $4, rows_failed = $5,
			rows_total = $3 + $4 + $5, error_message = $6, finished_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, status, imported, skipped, failed, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}
