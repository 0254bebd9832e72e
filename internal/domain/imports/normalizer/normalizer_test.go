package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		isEuropean bool
		want       int64
	}{
		{"us decimal", "4.50", false, 450},
		{"us negative", "-4.50", false, -450},
		{"us thousands separator", "1,234.56", false, 123456},
		{"us whole number", "25", false, 2500},
		{"european decimal comma", "8,20", true, 820},
		{"european negative", "-8,20", true, -820},
		{"european thousands separator", "1.234,56", true, 123456},
		{"currency symbol stripped", "$4.50", false, 450},
		{"euro symbol stripped", "2.500,00 €", true, 250000},
		{"parenthesized noise stripped", "(4.50)", false, 450},
		{"empty string is zero", "", false, 0},
		{"whitespace only is zero", "   ", false, 0},
		{"bare minus is zero", "-", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.raw, tt.isEuropean)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("non-numeric content is an error", func(t *testing.T) {
		_, err := ParseAmount("abc", false)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = ParseAmount("N/A", false)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestNormalizeDebitCredit(t *testing.T) {
	t.Run("debit becomes negative", func(t *testing.T) {
		got, err := NormalizeDebitCredit("4.50", "", false)
		require.NoError(t, err)
		assert.Equal(t, int64(-450), got)
	})

	t.Run("already negative debit stays negative", func(t *testing.T) {
		got, err := NormalizeDebitCredit("-4.50", "", false)
		require.NoError(t, err)
		assert.Equal(t, int64(-450), got)
	})

	t.Run("credit stays positive", func(t *testing.T) {
		got, err := NormalizeDebitCredit("", "2500.00", false)
		require.NoError(t, err)
		assert.Equal(t, int64(250000), got)
	})

	t.Run("populated debit wins over credit", func(t *testing.T) {
		got, err := NormalizeDebitCredit("4.50", "2500.00", false)
		require.NoError(t, err)
		assert.Equal(t, int64(-450), got)
	})

	t.Run("zero debit falls through to credit", func(t *testing.T) {
		got, err := NormalizeDebitCredit("0.00", "2500.00", false)
		require.NoError(t, err)
		assert.Equal(t, int64(250000), got)
	})

	t.Run("both empty is zero", func(t *testing.T) {
		got, err := NormalizeDebitCredit("", "", false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("european split columns", func(t *testing.T) {
		got, err := NormalizeDebitCredit("8,20", "", true)
		require.NoError(t, err)
		assert.Equal(t, int64(-820), got)
	})
}

func TestParseFlexibleDate(t *testing.T) {
	t.Run("preferred format wins for ambiguous values", func(t *testing.T) {
		// 01/02 is Feb 1st under DD/MM, Jan 2nd under the fallback list
		got, err := ParseFlexibleDate("01/02/2024", "DD/MM/YYYY", time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("falls back to known formats", func(t *testing.T) {
		got, err := ParseFlexibleDate("2024-01-15", "", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("dotted european date", func(t *testing.T) {
		got, err := ParseFlexibleDate("15.01.2024", "", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("parses in the given location", func(t *testing.T) {
		lisbon, err := time.LoadLocation("Europe/Lisbon")
		require.NoError(t, err)

		got, err := ParseFlexibleDate("2024-01-15", "", lisbon)
		require.NoError(t, err)
		assert.Equal(t, lisbon, got.Location())
	})

	t.Run("unparseable date", func(t *testing.T) {
		_, err := ParseFlexibleDate("not a date", "", nil)
		assert.ErrorIs(t, err, ErrInvalidDate)
	})

	t.Run("empty date", func(t *testing.T) {
		_, err := ParseFlexibleDate("", "", nil)
		assert.ErrorIs(t, err, ErrInvalidDate)
	})
}

func TestDetectDateFormat(t *testing.T) {
	t.Run("iso dates are unambiguous", func(t *testing.T) {
		guess := DetectDateFormat([]string{"2024-01-15", "2024-01-16"})
		assert.Equal(t, "YYYY-MM-DD", guess.Format)
		assert.False(t, guess.Ambiguous)
	})

	t.Run("day over twelve means day first", func(t *testing.T) {
		guess := DetectDateFormat([]string{"01/05/2024", "15/01/2024"})
		assert.Equal(t, "DD/MM/YYYY", guess.Format)
		assert.False(t, guess.Ambiguous)
	})

	t.Run("second value over twelve means month first", func(t *testing.T) {
		guess := DetectDateFormat([]string{"01/15/2024", "01/16/2024"})
		assert.Equal(t, "MM/DD/YYYY", guess.Format)
		assert.False(t, guess.Ambiguous)
	})

	t.Run("all values at most twelve is ambiguous", func(t *testing.T) {
		guess := DetectDateFormat([]string{"01/02/2024", "03/04/2024"})
		assert.Equal(t, "MM/DD/YYYY", guess.Format)
		assert.True(t, guess.Ambiguous)
	})

	t.Run("preserves the separator", func(t *testing.T) {
		guess := DetectDateFormat([]string{"15.01.2024"})
		assert.Equal(t, "DD.MM.YYYY", guess.Format)
	})

	t.Run("no samples", func(t *testing.T) {
		guess := DetectDateFormat(nil)
		assert.True(t, guess.Ambiguous)
	})
}

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "STARBUCKS STORE 55", CleanDescription("  STARBUCKS   STORE\t55  "))
	assert.Equal(t, "", CleanDescription("   "))
}
