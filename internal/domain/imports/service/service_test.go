package service

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlite/ledgerlite/internal/domain/imports/fingerprint"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/repository"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/sniffer"
)

// fakeRepo is an in-memory ImportRepository
type fakeRepo struct {
	mappings     map[string]*repository.FileMapping
	transactions []*repository.ParsedTransaction
	accountID    uuid.UUID
	jobs         map[uuid.UUID]*repository.ImportJob
	insertErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		mappings:  make(map[string]*repository.FileMapping),
		accountID: uuid.New(),
		jobs:      make(map[uuid.UUID]*repository.ImportJob),
	}
}

func (f *fakeRepo) GetMappingByFingerprint(_ context.Context, fp string) (*repository.FileMapping, error) {
	return f.mappings[fp], nil
}

func (f *fakeRepo) SaveMapping(_ context.Context, mapping *repository.FileMapping) error {
	f.mappings[mapping.Fingerprint] = mapping
	return nil
}

func (f *fakeRepo) ListAccountFingerprints(_ context.Context, accountID uuid.UUID) ([]fingerprint.Existing, error) {
	var existing []fingerprint.Existing
	for _, tx := range f.transactions {
		existing = append(existing, fingerprint.Existing{
			Fingerprint: tx.Fingerprint,
			Date:        tx.Date,
			AmountMinor: tx.AmountMinor,
			Description: tx.Description,
		})
	}
	return existing, nil
}

func (f *fakeRepo) BulkInsertTransactions(_ context.Context, _ uuid.UUID, txs []*repository.ParsedTransaction) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.transactions = append(f.transactions, txs...)
	return len(txs), nil
}

func (f *fakeRepo) GetAccountCurrency(_ context.Context, accountID uuid.UUID) (string, error) {
	if accountID != f.accountID {
		return "", fmt.Errorf("account %s not found", accountID)
	}
	return "USD", nil
}

func (f *fakeRepo) CreateImportJob(_ context.Context, job *repository.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = "running"
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeRepo) FinishImportJob(_ context.Context, id uuid.UUID, status string, imported, skipped, failed int, errorMessage *string) error {
	job := f.jobs[id]
	job.Status = status
	job.RowsImported = imported
	job.RowsSkipped = skipped
	job.RowsFailed = failed
	job.ErrorMessage = errorMessage
	return nil
}

func newTestService(repo *fakeRepo) *ImportService {
	return NewImportService(repo, slog.New(slog.DiscardHandler))
}

const sampleCSV = `Date,Description,Amount
03/15/2024,POS DEBIT 1234 STARBUCKS #55 SEATTLE WA,-12.50
03/16/2024,WHOLE FOODS MKT 10293,-42.00
03/17/2024,PAYROLL ACME CORP,2500.00
`

func TestImport_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	result, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowsTotal)
	assert.Equal(t, 3, result.RowsImported)
	assert.Zero(t, result.RowsSkipped)
	assert.Zero(t, result.RowsFailed)
	assert.Empty(t, result.Errors)
	require.Len(t, repo.transactions, 3)

	first := repo.transactions[0]
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, int64(-1250), first.AmountMinor)
	assert.Equal(t, "starbucks", first.NormalizedMerchant)
	assert.NotEmpty(t, first.Fingerprint)

	job := repo.jobs[result.JobID]
	require.NotNil(t, job)
	assert.Equal(t, "succeeded", job.Status)
	assert.Equal(t, 3, job.RowsImported)
}

func TestImport_ReimportSkipsEverything(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{})
	require.NoError(t, err)

	result, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowsTotal)
	assert.Zero(t, result.RowsImported)
	assert.Equal(t, 3, result.RowsSkipped)
	assert.Len(t, repo.transactions, 3)
}

func TestImport_IntraFileDuplicate(t *testing.T) {
	csv := `Date,Description,Amount
03/15/2024,STARBUCKS #55,-12.50
03/15/2024,STARBUCKS #55,-12.50
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	result, err := svc.Import(context.Background(), repo.accountID, []byte(csv), nil, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsImported)
	assert.Equal(t, 1, result.RowsSkipped)
}

func TestImport_ForceLinesIncludesDuplicate(t *testing.T) {
	csv := `Date,Description,Amount
03/15/2024,STARBUCKS #55,-12.50
03/15/2024,STARBUCKS #55,-12.50
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	// line 3 is the duplicate row (line 1 header, line 2 first copy)
	result, err := svc.Import(context.Background(), repo.accountID, []byte(csv), nil, ImportOptions{ForceLines: []int{3}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowsImported)
	assert.Zero(t, result.RowsSkipped)
}

func TestImport_NearDuplicateWarnsButImports(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	first := `Date,Description,Amount
03/15/2024,STARBUCKS STORE 55 SEATTLE,-12.50
`
	_, err := svc.Import(context.Background(), repo.accountID, []byte(first), nil, ImportOptions{})
	require.NoError(t, err)

	second := `Date,Description,Amount
03/15/2024,STARBUCKS STORE 55,-12.50
`
	result, err := svc.Import(context.Background(), repo.accountID, []byte(second), nil, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsImported)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 2, result.Warnings[0].LineNum)
	assert.Contains(t, result.Warnings[0].Message, "possible duplicate")
}

func TestImport_BadRowsAreCountedNotFatal(t *testing.T) {
	csv := `Date,Description,Amount
03/15/2024,STARBUCKS #55,-12.50
not-a-date,SOMETHING,-1.00
03/17/2024,,-3.00
03/18/2024,LIDL,abc
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	result, err := svc.Import(context.Background(), repo.accountID, []byte(csv), nil, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, result.RowsTotal)
	assert.Equal(t, 1, result.RowsImported)
	assert.Equal(t, 3, result.RowsFailed)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "line 3")
	assert.Contains(t, result.Errors[0], "invalid date")
}

func TestImport_UnknownAccount(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Import(context.Background(), uuid.New(), []byte(sampleCSV), nil, ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve account")
}

func TestImport_UnmappableColumnsFails(t *testing.T) {
	csv := `Foo,Bar,Baz
a,b,c
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Import(context.Background(), repo.accountID, []byte(csv), nil, ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not infer column mapping")
}

func TestImport_ExplicitMappingOverridesDetection(t *testing.T) {
	// headers carry no usable names, caller supplies positions
	csv := `c0;c1;c2
15/03/2024;PINGO DOCE LISBOA;-8,20
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	mapping := &sniffer.ColumnMapping{
		DateCol:     0,
		DescCol:     1,
		CategoryCol: -1,
		AmountCol:   2,
		DebitCol:    -1,
		CreditCol:   -1,
		DateFormat:  "DD/MM/YYYY",
		IsEuropean:  true,
	}

	result, err := svc.Import(context.Background(), repo.accountID, []byte(csv), mapping, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsImported)

	tx := repo.transactions[0]
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, int64(-820), tx.AmountMinor)
}

func TestImport_SplitDebitCreditColumns(t *testing.T) {
	csv := `Date,Description,Debit,Credit
03/15/2024,STARBUCKS #55,12.50,
03/20/2024,PAYROLL ACME,,2500.00
`
	repo := newFakeRepo()
	svc := newTestService(repo)

	result, err := svc.Import(context.Background(), repo.accountID, []byte(csv), nil, ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsImported)

	assert.Equal(t, int64(-1250), repo.transactions[0].AmountMinor)
	assert.Equal(t, int64(250000), repo.transactions[1].AmountMinor)
}

func TestImport_SaveMappingPersistsFingerprint(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{
		SaveMapping: true,
		BankName:    "Chase",
	})
	require.NoError(t, err)
	require.Len(t, repo.mappings, 1)

	for _, m := range repo.mappings {
		assert.Equal(t, "Chase", *m.BankName)
		assert.Equal(t, 0, m.DateCol)
		assert.Equal(t, 1, m.DescCol)
		require.NotNil(t, m.AmountCol)
		assert.Equal(t, 2, *m.AmountCol)
	}
}

func TestImport_SavedMappingIsReused(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	analyze, err := svc.AnalyzeFile(context.Background(), []byte(sampleCSV))
	require.NoError(t, err)

	amountCol := 2
	repo.mappings[analyze.FileConfig.Fingerprint] = &repository.FileMapping{
		Fingerprint: analyze.FileConfig.Fingerprint,
		Delimiter:   ",",
		DateFormat:  "MM/DD/YYYY",
		DateCol:     0,
		DescCol:     1,
		AmountCol:   &amountCol,
	}

	result, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsImported)
}

func TestImport_InsertFailureFailsJob(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = fmt.Errorf("disk full")
	svc := newTestService(repo)

	_, err := svc.Import(context.Background(), repo.accountID, []byte(sampleCSV), nil, ImportOptions{})
	require.Error(t, err)

	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, "failed", job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Contains(t, *job.ErrorMessage, "disk full")
	}
}

func TestAnalyzeFile(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	result, err := svc.AnalyzeFile(context.Background(), []byte(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, ',', int32(result.FileConfig.Delimiter))
	assert.True(t, result.Inferred.Usable)
	assert.True(t, result.CanAutoImport)
	assert.Nil(t, result.SavedMapping)
	assert.Equal(t, 0, result.Inferred.Mapping.DateCol)
	assert.Equal(t, sniffer.AmountModeSingle, result.Inferred.Mapping.AmountMode)
}
