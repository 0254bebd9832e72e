// Package service provides the import orchestration logic.
package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ledgerlite/ledgerlite/internal/domain/imports/fingerprint"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/normalizer"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/parser"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/repository"
	"github.com/ledgerlite/ledgerlite/internal/domain/imports/sniffer"
	"github.com/ledgerlite/ledgerlite/pkg/money"
	"github.com/ledgerlite/ledgerlite/pkg/observability"
)

const importBatchSize = 500

// AnalyzeResult contains the result of analyzing an uploaded file
type AnalyzeResult struct {
	FileConfig    *sniffer.FileConfig
	Inferred      *sniffer.MappingResult
	SavedMapping  *repository.FileMapping
	CanAutoImport bool
}

// RowWarning flags a row that was imported (or skipped) with a caveat
type RowWarning struct {
	LineNum int    `json:"line_num"`
	Message string `json:"message"`
}

// ImportResult contains the honest summary of an import operation.
// RowsImported + RowsSkipped + RowsFailed always equals RowsTotal.
type ImportResult struct {
	JobID        uuid.UUID    `json:"job_id"`
	RowsTotal    int          `json:"rows_total"`
	RowsImported int          `json:"rows_imported"`
	RowsSkipped  int          `json:"rows_skipped"`
	RowsFailed   int          `json:"rows_failed"`
	Warnings     []RowWarning `json:"warnings,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
}

// ImportOptions allows callers to override detected file settings.
type ImportOptions struct {
	// BankName labels the saved mapping when SaveMapping is set.
	BankName string
	// SaveMapping persists the resolved mapping under the file's
	// header fingerprint for future auto-imports.
	SaveMapping bool
	// Timezone is the IANA zone dates are parsed in. Empty means UTC.
	Timezone string
	// ForceLines are 1-indexed line numbers to import even when they
	// are exact duplicates of existing transactions.
	ForceLines []int
}

// ImportService orchestrates file analysis and import operations
type ImportService struct {
	repo   repository.ImportRepository
	logger *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, logger *slog.Logger) *ImportService {
	return &ImportService{repo: repo, logger: logger}
}

// AnalyzeFile inspects an uploaded file and reports its detected structure,
// the inferred column mapping, and whether a saved mapping already covers it.
func (s *ImportService) AnalyzeFile(ctx context.Context, fileData []byte) (*AnalyzeResult, error) {
	normalized, err := normalizeUpload(fileData)
	if err != nil {
		return nil, err
	}

	config, err := sniffer.DetectConfig(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze file: %w", err)
	}

	inferred := sniffer.InferMapping(config)

	saved, err := s.repo.GetMappingByFingerprint(ctx, config.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup mapping: %w", err)
	}

	return &AnalyzeResult{
		FileConfig:    config,
		Inferred:      inferred,
		SavedMapping:  saved,
		CanAutoImport: saved != nil || inferred.Usable,
	}, nil
}

// Import processes a file into the account's transactions. The mapping
// argument overrides detection; when nil, a saved mapping for the file's
// fingerprint is used, then automatic inference.
func (s *ImportService) Import(ctx context.Context, accountID uuid.UUID, fileData []byte, mapping *sniffer.ColumnMapping, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()
	defer func() {
		observability.ImportDuration.Observe(time.Since(start).Seconds())
	}()

	normalized, err := normalizeUpload(fileData)
	if err != nil {
		return nil, err
	}

	config, err := sniffer.DetectConfig(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file config: %w", err)
	}

	resolved, err := s.resolveMapping(ctx, config, mapping)
	if err != nil {
		return nil, err
	}

	loc := resolveLocation(opts.Timezone)

	currency, err := s.repo.GetAccountCurrency(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	existing, err := s.repo.ListAccountFingerprints(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing transactions: %w", err)
	}
	index := fingerprint.NewIndex(existing)

	job := &repository.ImportJob{AccountID: accountID, Status: "running"}
	if err := s.repo.CreateImportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	result := &ImportResult{JobID: job.ID}
	forced := make(map[int]bool, len(opts.ForceLines))
	for _, line := range opts.ForceLines {
		forced[line] = true
	}

	// Skip metadata lines and the header row. The skip counts physical
	// lines because csv.Reader silently drops blank lines and preambles
	// often contain them.
	body, ok := skipPhysicalLines(normalized, config.SkipLines+1)
	if !ok {
		msg := "file has no data rows"
		s.finishJob(ctx, job.ID, "failed", result, &msg)
		return nil, fmt.Errorf("file has no data rows")
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.Comma = config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	batch := make([]*repository.ParsedTransaction, 0, importBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := s.repo.BulkInsertTransactions(ctx, accountID, batch)
		if err != nil {
			return err
		}
		result.RowsImported += inserted
		batch = batch[:0]
		return nil
	}

	var netMinor int64

	// Line numbers are 1-indexed positions in the uploaded file, reported
	// in errors and warnings and matched against opts.ForceLines.
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errLine := config.SkipLines + 2
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				errLine = config.SkipLines + 1 + parseErr.Line
			}
			result.RowsTotal++
			result.RowsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", errLine, err))
			observability.RowsImported.WithLabelValues("error").Inc()
			continue
		}
		if isBlankRecord(record) {
			continue
		}

		line, _ := reader.FieldPos(0)
		lineNum := config.SkipLines + 1 + line

		result.RowsTotal++

		tx, parseErr := parseRow(record, resolved, loc)
		if parseErr != nil {
			result.RowsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, parseErr))
			observability.RowsImported.WithLabelValues("error").Inc()
			continue
		}

		class, fp := index.Classify(accountID, tx.Date, tx.Description, tx.AmountMinor)
		tx.Fingerprint = fp

		switch {
		case class == fingerprint.Duplicate && !forced[lineNum]:
			result.RowsSkipped++
			observability.RowsImported.WithLabelValues("duplicate").Inc()
			continue
		case class == fingerprint.NearDuplicate:
			result.Warnings = append(result.Warnings, RowWarning{
				LineNum: lineNum,
				Message: fmt.Sprintf("possible duplicate of an existing transaction on %s for the same amount", tx.Date.Format("2006-01-02")),
			})
		}

		tx.NormalizedMerchant = normalizer.Normalize(tx.OriginalDescription)
		batch = append(batch, tx)
		netMinor += tx.AmountMinor
		observability.RowsImported.WithLabelValues("imported").Inc()

		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				msg := err.Error()
				s.finishJob(ctx, job.ID, "failed", result, &msg)
				return nil, fmt.Errorf("failed to insert transactions: %w", err)
			}
		}
	}

	if err := flush(); err != nil {
		msg := err.Error()
		s.finishJob(ctx, job.ID, "failed", result, &msg)
		return nil, fmt.Errorf("failed to insert transactions: %w", err)
	}

	s.finishJob(ctx, job.ID, "succeeded", result, nil)

	if opts.SaveMapping {
		if err := s.persistMapping(ctx, config, resolved, opts.BankName); err != nil {
			s.logger.Warn("failed to save column mapping", "fingerprint", config.Fingerprint, "error", err)
		}
	}

	s.logger.Info("import finished",
		"jobID", job.ID,
		"accountID", accountID,
		"total", result.RowsTotal,
		"imported", result.RowsImported,
		"skipped", result.RowsSkipped,
		"failed", result.RowsFailed,
		"net", money.Format(netMinor, currency),
	)

	return result, nil
}

func (s *ImportService) finishJob(ctx context.Context, jobID uuid.UUID, status string, result *ImportResult, errMsg *string) {
	if err := s.repo.FinishImportJob(ctx, jobID, status, result.RowsImported, result.RowsSkipped, result.RowsFailed, errMsg); err != nil {
		s.logger.Warn("failed to finish import job", "jobID", jobID, "error", err)
	}
}

// resolveMapping picks the effective column mapping: explicit, then saved
// by fingerprint, then inferred. An unusable inference is an error so that
// rows are never parsed against guessed columns.
func (s *ImportService) resolveMapping(ctx context.Context, config *sniffer.FileConfig, explicit *sniffer.ColumnMapping) (sniffer.ColumnMapping, error) {
	if explicit != nil {
		if explicit.DateCol < 0 || explicit.DescCol < 0 {
			return sniffer.ColumnMapping{}, fmt.Errorf("mapping must set date and description columns")
		}
		if explicit.AmountMode == "" {
			if explicit.AmountCol >= 0 {
				explicit.AmountMode = sniffer.AmountModeSingle
			} else if explicit.DebitCol >= 0 && explicit.CreditCol >= 0 {
				explicit.AmountMode = sniffer.AmountModeSplit
			} else {
				return sniffer.ColumnMapping{}, fmt.Errorf("mapping must set an amount column or debit and credit columns")
			}
		}
		if explicit.DateFormat == "" {
			inferred := sniffer.InferMapping(config)
			explicit.DateFormat = inferred.Mapping.DateFormat
		}
		return *explicit, nil
	}

	saved, err := s.repo.GetMappingByFingerprint(ctx, config.Fingerprint)
	if err != nil {
		return sniffer.ColumnMapping{}, fmt.Errorf("failed to lookup mapping: %w", err)
	}
	if saved != nil {
		return mappingFromSaved(saved), nil
	}

	inferred := sniffer.InferMapping(config)
	if !inferred.Usable {
		return sniffer.ColumnMapping{}, fmt.Errorf("could not infer column mapping: %s", strings.Join(inferred.Ambiguities, "; "))
	}
	return inferred.Mapping, nil
}

func (s *ImportService) persistMapping(ctx context.Context, config *sniffer.FileConfig, m sniffer.ColumnMapping, bankName string) error {
	saved := &repository.FileMapping{
		Fingerprint: config.Fingerprint,
		Delimiter:   string(config.Delimiter),
		SkipLines:   config.SkipLines,
		DateFormat:  m.DateFormat,
		DateCol:     m.DateCol,
		DescCol:     m.DescCol,
		IsEuropean:  m.IsEuropean,
	}
	if bankName != "" {
		saved.BankName = &bankName
	}
	if m.CategoryCol >= 0 {
		col := m.CategoryCol
		saved.CategoryCol = &col
	}
	if m.AmountMode == sniffer.AmountModeSplit {
		debit, credit := m.DebitCol, m.CreditCol
		saved.DebitCol = &debit
		saved.CreditCol = &credit
	} else {
		col := m.AmountCol
		saved.AmountCol = &col
	}
	return s.repo.SaveMapping(ctx, saved)
}

func mappingFromSaved(saved *repository.FileMapping) sniffer.ColumnMapping {
	m := sniffer.ColumnMapping{
		DateCol:     saved.DateCol,
		DescCol:     saved.DescCol,
		CategoryCol: -1,
		AmountCol:   -1,
		DebitCol:    -1,
		CreditCol:   -1,
		DateFormat:  saved.DateFormat,
		IsEuropean:  saved.IsEuropean,
	}
	if saved.CategoryCol != nil {
		m.CategoryCol = *saved.CategoryCol
	}
	if saved.AmountCol != nil {
		m.AmountCol = *saved.AmountCol
		m.AmountMode = sniffer.AmountModeSingle
	} else if saved.DebitCol != nil && saved.CreditCol != nil {
		m.DebitCol = *saved.DebitCol
		m.CreditCol = *saved.CreditCol
		m.AmountMode = sniffer.AmountModeSplit
	}
	return m
}

// parseRow converts a CSV record into a ParsedTransaction
func parseRow(record []string, mapping sniffer.ColumnMapping, loc *time.Location) (*repository.ParsedTransaction, error) {
	maxCol := len(record) - 1
	if mapping.DateCol > maxCol || mapping.DescCol > maxCol {
		return nil, fmt.Errorf("column index out of bounds")
	}

	dateStr := strings.TrimSpace(record[mapping.DateCol])
	if dateStr == "" {
		return nil, fmt.Errorf("empty date field")
	}
	date, err := normalizer.ParseFlexibleDate(dateStr, mapping.DateFormat, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date '%s': %w", dateStr, err)
	}

	original := strings.TrimSpace(record[mapping.DescCol])
	description := normalizer.CleanDescription(original)
	if description == "" {
		return nil, fmt.Errorf("empty description")
	}

	var amountMinor int64
	if mapping.AmountMode == sniffer.AmountModeSplit {
		if mapping.DebitCol > maxCol || mapping.CreditCol > maxCol {
			return nil, fmt.Errorf("debit/credit column index out of bounds")
		}
		amountMinor, err = normalizer.NormalizeDebitCredit(record[mapping.DebitCol], record[mapping.CreditCol], mapping.IsEuropean)
	} else {
		if mapping.AmountCol > maxCol {
			return nil, fmt.Errorf("amount column index out of bounds")
		}
		amountMinor, err = normalizer.ParseAmount(record[mapping.AmountCol], mapping.IsEuropean)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	var category string
	if mapping.CategoryCol >= 0 && mapping.CategoryCol < len(record) {
		category = normalizer.CleanDescription(record[mapping.CategoryCol])
	}

	return &repository.ParsedTransaction{
		Date:                date,
		Description:         description,
		OriginalDescription: original,
		AmountMinor:         amountMinor,
		Category:            category,
	}, nil
}

// normalizeUpload converts any supported upload into clean UTF-8 CSV bytes.
func normalizeUpload(data []byte) ([]byte, error) {
	if parser.IsXLSX(data) {
		csvBytes, err := parser.XLSXToCSV(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to convert workbook: %w", err)
		}
		return csvBytes, nil
	}

	data = stripUTF8BOM(data)
	if utf8.Valid(data) {
		return data, nil
	}
	return decodeLatin1(data), nil
}

// skipPhysicalLines drops the first n lines of data. Returns false when the
// input has no content after them.
func skipPhysicalLines(data []byte, n int) ([]byte, bool) {
	rest := data
	for i := 0; i < n; i++ {
		idx := bytes.IndexByte(rest, '\n')
		if idx == -1 {
			return nil, false
		}
		rest = rest[idx+1:]
	}
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil, false
	}
	return rest, true
}

func stripUTF8BOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func resolveLocation(timezone string) *time.Location {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil
	}
	return loc
}
