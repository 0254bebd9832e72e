// Package repository defines persistence for the import pipeline.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlite/ledgerlite/internal/domain/imports/fingerprint"
)

// ParsedTransaction is a canonical row produced by the import parser,
// ready for insertion.
type ParsedTransaction struct {
	Date                time.Time
	Description         string
	OriginalDescription string
	NormalizedMerchant  string
	AmountMinor         int64
	Fingerprint         string
	Category            string // raw category column value, if the file had one
}

// FileMapping is a persisted column mapping keyed by header fingerprint,
// reused when the same bank export format is uploaded again.
type FileMapping struct {
	ID          uuid.UUID
	Fingerprint string
	BankName    *string
	Delimiter   string
	SkipLines   int
	DateFormat  string
	DateCol     int
	DescCol     int
	CategoryCol *int
	AmountCol   *int
	DebitCol    *int
	CreditCol   *int
	IsEuropean  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ImportJob tracks one import run
type ImportJob struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Status       string // running, succeeded, failed
	RowsTotal    int
	RowsImported int
	RowsSkipped  int
	RowsFailed   int
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// ImportRepository defines persistence operations for imports
type ImportRepository interface {
	GetMappingByFingerprint(ctx context.Context, fp string) (*FileMapping, error)
	SaveMapping(ctx context.Context, mapping *FileMapping) error

	// ListAccountFingerprints returns the dedup projections of every
	// transaction already stored for the account.
	ListAccountFingerprints(ctx context.Context, accountID uuid.UUID) ([]fingerprint.Existing, error)

	BulkInsertTransactions(ctx context.Context, accountID uuid.UUID, txs []*ParsedTransaction) (int, error)

	GetAccountCurrency(ctx context.Context, accountID uuid.UUID) (string, error)

	CreateImportJob(ctx context.Context, job *ImportJob) error
	FinishImportJob(ctx context.Context, id uuid.UUID, status string, imported, skipped, failed int, errorMessage *string) error
}
