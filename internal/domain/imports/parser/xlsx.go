// Package parser converts spreadsheet uploads into rows the import
// pipeline can treat like CSV input.
package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSXRows reads the transaction sheet of an XLSX workbook and
// returns its cells row by row.
func ReadXLSXRows(reader io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetName := findTransactionSheet(f)
	if sheetName == "" {
		return nil, fmt.Errorf("no suitable sheet found")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}

	return rows, nil
}

// XLSXToCSV renders the workbook's transaction sheet as CSV bytes so the
// structure sniffer and row parser see one input shape.
func XLSXToCSV(reader io.Reader) ([]byte, error) {
	rows, err := ReadXLSXRows(reader)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}

// IsXLSX reports whether the payload starts with a ZIP local file header,
// which every XLSX workbook does.
func IsXLSX(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte{0x50, 0x4B, 0x03, 0x04})
}

// findTransactionSheet prefers a sheet named like "transactions",
// falling back to the first sheet.
func findTransactionSheet(f *excelize.File) string {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ""
	}

	for _, name := range sheets {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "transaction") || strings.Contains(lower, "movements") {
			return name
		}
	}

	return sheets[0]
}
