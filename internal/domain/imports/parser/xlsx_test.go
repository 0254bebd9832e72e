package parser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheet string, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestReadXLSXRows(t *testing.T) {
	data := buildWorkbook(t, "Transactions", [][]any{
		{"Date", "Description", "Amount"},
		{"03/15/2024", "STARBUCKS #55", "-12.50"},
		{"03/16/2024", "WHOLE FOODS", "-42.00"},
	})

	rows, err := ReadXLSXRows(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Date", "Description", "Amount"}, rows[0])
	assert.Equal(t, "STARBUCKS #55", rows[1][1])
}

func TestReadXLSXRows_FallsBackToFirstSheet(t *testing.T) {
	data := buildWorkbook(t, "Sheet1", [][]any{
		{"Date", "Description", "Amount"},
		{"03/15/2024", "LIDL", "-8.20"},
	})

	rows, err := ReadXLSXRows(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "LIDL", rows[1][1])
}

func TestReadXLSXRows_InvalidFile(t *testing.T) {
	_, err := ReadXLSXRows(bytes.NewReader([]byte("not a workbook")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open Excel file")
}

func TestXLSXToCSV(t *testing.T) {
	data := buildWorkbook(t, "Transactions", [][]any{
		{"Date", "Description", "Amount"},
		{"03/15/2024", "STARBUCKS, PIKE PLACE", "-12.50"},
	})

	csvBytes, err := XLSXToCSV(bytes.NewReader(data))
	require.NoError(t, err)

	out := string(csvBytes)
	assert.Contains(t, out, "Date,Description,Amount")
	// embedded comma stays quoted
	assert.Contains(t, out, `"STARBUCKS, PIKE PLACE"`)
}

func TestIsXLSX(t *testing.T) {
	data := buildWorkbook(t, "Sheet1", [][]any{{"Date"}})
	assert.True(t, IsXLSX(data))
	assert.False(t, IsXLSX([]byte("Date,Description,Amount\n")))
	assert.False(t, IsXLSX([]byte{0x50, 0x4B}))
}
