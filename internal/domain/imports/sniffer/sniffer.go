// Package sniffer provides automatic detection of bank CSV/TSV structure.
// It identifies delimiters, header rows, column roles and date formats, and
// generates fingerprints so a confirmed mapping can be reused on re-upload.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"

	"github.com/ledgerlite/ledgerlite/internal/domain/imports/normalizer"
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find data headers")
	ErrInvalidDelimiter = errors.New("could not detect valid delimiter")
)

// Header keywords that mark a line as the probable header row
var headerKeywords = []string{
	"date", "posted", "description", "memo", "payee", "merchant", "narrative",
	"amount", "total", "debit", "credit", "withdrawal", "deposit",
	"balance", "category", "type",
}

// Synonym sets for column role detection
var (
	dateSynonyms        = []string{"date", "posted date", "post date", "transaction date", "trans date", "booking date", "value date"}
	descriptionSynonyms = []string{"description", "memo", "payee", "merchant", "narrative", "details", "name", "transaction details"}
	amountSynonyms      = []string{"amount", "total", "value", "transaction amount"}
	debitSynonyms       = []string{"debit", "withdrawal", "withdrawals", "money out", "paid out", "outflow"}
	creditSynonyms      = []string{"credit", "deposit", "deposits", "money in", "paid in", "inflow"}
	categorySynonyms    = []string{"category", "categorization"}
)

// AmountMode distinguishes a single signed amount column from split
// debit/credit columns.
type AmountMode string

const (
	AmountModeSingle AmountMode = "single"
	AmountModeSplit  AmountMode = "split"
)

// FileConfig holds the detected raw structure of a CSV/TSV file
type FileConfig struct {
	Delimiter   rune       // The field delimiter (';', ',', '\t', '|')
	SkipLines   int        // Number of metadata lines before headers
	Headers     []string   // Detected header names
	Fingerprint string     // SHA256 hash of normalized headers
	SampleRows  [][]string // First few data rows for preview
}

// DetectOptions allows callers to override header row or delimiter detection.
type DetectOptions struct {
	// HeaderRowIndex is a 0-based index for the header row. Set to -1 to auto-detect.
	HeaderRowIndex int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
}

// ColumnMapping maps semantic fields to column indices. A value of -1 means
// the field was not located.
type ColumnMapping struct {
	DateCol     int
	DescCol     int
	CategoryCol int
	AmountMode  AmountMode
	AmountCol   int // valid when AmountMode == single
	DebitCol    int // valid when AmountMode == split
	CreditCol   int
	DateFormat  string
	IsEuropean  bool
}

// MappingResult is the outcome of mapping inference. When Usable is false
// the required fields could not be located and the caller must collect a
// mapping from the user; no rows are ever discarded because of this.
type MappingResult struct {
	Mapping     ColumnMapping
	Usable      bool
	Ambiguities []string
}

// DetectConfig analyzes a CSV/TSV file and returns its structure
func DetectConfig(data []byte) (*FileConfig, error) {
	return DetectConfigWithOptions(data, nil)
}

// DetectConfigWithOptions analyzes a CSV/TSV file with optional overrides.
func DetectConfigWithOptions(data []byte, opts *DetectOptions) (*FileConfig, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	var (
		delimiter rune
		skipLines int
		err       error
	)
	if opts != nil && opts.HeaderRowIndex >= 0 {
		if opts.HeaderRowIndex >= len(lines) {
			return nil, ErrNoHeadersFound
		}
		skipLines = opts.HeaderRowIndex
		if opts.Delimiter != 0 {
			delimiter = opts.Delimiter
		} else {
			line := cleanLine(lines[skipLines], skipLines == 0)
			delimiter, _ = detectDelimiter(line)
			if delimiter == 0 {
				return nil, ErrInvalidDelimiter
			}
		}
	} else {
		delimiter, skipLines, err = findHeaderRow(lines)
		if err != nil {
			return nil, err
		}
	}

	headerLine := cleanLine(lines[skipLines], skipLines == 0)
	reader := csv.NewReader(strings.NewReader(headerLine))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}

	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
		SampleRows:  getSampleRows(data, delimiter, skipLines+1, 5),
	}, nil
}

// InferMapping produces a best-effort column mapping from detected headers
// and sample rows, reporting ambiguity instead of guessing silently.
func InferMapping(config *FileConfig) *MappingResult {
	m := ColumnMapping{
		DateCol:     -1,
		DescCol:     -1,
		CategoryCol: -1,
		AmountCol:   -1,
		DebitCol:    -1,
		CreditCol:   -1,
	}

	for i, header := range config.Headers {
		h := strings.ToLower(strings.TrimSpace(header))
		switch {
		case m.DateCol == -1 && matchesSynonym(h, dateSynonyms):
			m.DateCol = i
		case m.DescCol == -1 && matchesSynonym(h, descriptionSynonyms):
			m.DescCol = i
		case m.DebitCol == -1 && matchesSynonym(h, debitSynonyms):
			m.DebitCol = i
		case m.CreditCol == -1 && matchesSynonym(h, creditSynonyms):
			m.CreditCol = i
		case m.AmountCol == -1 && matchesSynonym(h, amountSynonyms):
			m.AmountCol = i
		case m.CategoryCol == -1 && matchesSynonym(h, categorySynonyms):
			m.CategoryCol = i
		}
	}

	result := &MappingResult{}

	switch {
	case m.AmountCol >= 0:
		m.AmountMode = AmountModeSingle
	case m.DebitCol >= 0 && m.CreditCol >= 0:
		m.AmountMode = AmountModeSplit
	default:
		result.Ambiguities = append(result.Ambiguities,
			"no amount column found (need a single amount column or both debit and credit columns)")
	}

	if m.DateCol == -1 {
		result.Ambiguities = append(result.Ambiguities, "no date column found")
	}
	if m.DescCol == -1 {
		result.Ambiguities = append(result.Ambiguities, "no description column found")
	}

	// Date format from sample values
	if m.DateCol >= 0 {
		guess := normalizer.DetectDateFormat(collectSamples(config.SampleRows, m.DateCol))
		m.DateFormat = guess.Format
		if guess.Ambiguous {
			result.Ambiguities = append(result.Ambiguities,
				"date format is ambiguous (all sampled day/month values <= 12); confirm "+guess.Format)
		}
	}

	// Regional amount format: probe the amount samples when a column was
	// located; a semicolon delimiter alone is a strong European signal
	// even when the headers could not be mapped.
	m.IsEuropean = config.Delimiter == ';'
	amountIdx := m.AmountCol
	if m.AmountMode == AmountModeSplit {
		amountIdx = m.DebitCol
	}
	if amountIdx >= 0 {
		if european, ok := probeEuropeanFormat(config.SampleRows, amountIdx); ok {
			m.IsEuropean = european
		}
	}

	result.Mapping = m
	result.Usable = m.DateCol >= 0 && m.DescCol >= 0 && m.AmountMode != ""
	return result
}

func matchesSynonym(header string, synonyms []string) bool {
	for _, s := range synonyms {
		if header == s || strings.Contains(header, s) {
			return true
		}
	}
	return false
}

// probeEuropeanFormat inspects amount samples for the decimal separator.
// Returns ok=false when the samples are uninformative.
func probeEuropeanFormat(sampleRows [][]string, amountIdx int) (bool, bool) {
	europeanHints := 0
	usHints := 0

	for _, row := range sampleRows {
		if amountIdx >= len(row) {
			continue
		}
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
				return r
			}
			return -1
		}, row[amountIdx])
		cleaned = strings.TrimPrefix(cleaned, "-")
		if cleaned == "" {
			continue
		}

		hasComma := strings.Contains(cleaned, ",")
		hasDot := strings.Contains(cleaned, ".")

		switch {
		case hasComma && hasDot:
			if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
				europeanHints++
			} else {
				usHints++
			}
		case hasComma:
			if hasDecimalSuffix(cleaned, ',') {
				europeanHints++
			}
		case hasDot:
			if hasDecimalSuffix(cleaned, '.') {
				usHints++
			}
		}
	}

	if europeanHints == usHints {
		return false, false
	}
	return europeanHints > usHints, true
}

func hasDecimalSuffix(value string, sep rune) bool {
	idx := strings.LastIndex(value, string(sep))
	if idx == -1 || idx == len(value)-1 {
		return false
	}
	return len(value)-idx-1 <= 2
}

func collectSamples(rows [][]string, col int) []string {
	if col < 0 {
		return nil
	}
	samples := make([]string, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			if value := strings.TrimSpace(row[col]); value != "" {
				samples = append(samples, value)
			}
		}
	}
	return samples
}

// findHeaderRow locates the header row and its delimiter
func findHeaderRow(lines []string) (rune, int, error) {
	keywordIndex := -1
	keywordDelimiter := rune(0)
	keywordCount := 0
	keywordScore := 0

	fallbackIndex := -1
	fallbackDelimiter := rune(0)
	fallbackCount := 0

	for i, line := range lines {
		if i > 20 { // Don't search more than 20 lines
			break
		}

		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}
		lineLower := strings.ToLower(line)

		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		keywordMatches := 0
		for _, kw := range headerKeywords {
			if strings.Contains(lineLower, kw) {
				keywordMatches++
			}
		}

		if keywordMatches > 0 {
			// Real headers have many columns; metadata lines have few
			score := count*10 + keywordMatches
			if keywordIndex == -1 || score > keywordScore {
				keywordScore = score
				keywordCount = count
				keywordDelimiter = delimiter
				keywordIndex = i
			}
		} else if count > fallbackCount {
			fallbackCount = count
			fallbackDelimiter = delimiter
			fallbackIndex = i
		}
	}

	if keywordIndex >= 0 && keywordCount >= 2 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackCount >= 2 {
		return fallbackDelimiter, fallbackIndex, nil
	}

	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

// generateFingerprint creates a stable hash from normalized header names so
// a confirmed mapping can be recalled for the same bank export format.
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	joined := strings.Join(normalized, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

// getSampleRows returns the first N data rows after the header. The skip
// counts physical lines, not csv records, because csv.Reader silently drops
// blank lines and metadata preambles often contain them.
func getSampleRows(data []byte, delimiter rune, startLine, maxRows int) [][]string {
	lines := strings.Split(string(data), "\n")
	if startLine >= len(lines) {
		return nil
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[startLine:], "\n")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		rows = append(rows, record)
		if len(rows) >= maxRows {
			break
		}
	}

	return rows
}
