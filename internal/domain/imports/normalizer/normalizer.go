// Package normalizer handles regional money and date parsing plus merchant
// name normalization. It converts heterogeneous bank statement values into
// LedgerLite's canonical representation.
package normalizer

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
)

// ParseAmount converts a string amount to signed minor units.
// Supports both European (1.234,56) and American (1,234.56) formats.
func ParseAmount(raw string, isEuropean bool) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}

	// Keep digits, separators and minus; drop currency symbols and spaces
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)

	// A non-empty cell with no digits at all ("abc", "N/A") is garbage,
	// not a zero amount
	if cleaned == "" || cleaned == "-" {
		if strings.ContainsFunc(raw, unicode.IsLetter) {
			return 0, ErrInvalidAmount
		}
		return 0, nil
	}

	isNegative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	if isEuropean {
		// 1.234,56 -> 1234.56
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		// 1,234.56 -> 1234.56
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	val, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	minor := val.Mul(decimal.New(1, 2)).Round(0).IntPart()
	if isNegative {
		minor = -minor
	}

	return minor, nil
}

// NormalizeDebitCredit merges separate debit and credit columns into a
// single signed amount. Debit = negative (money out), credit = positive.
// A populated debit column wins over credit.
func NormalizeDebitCredit(debitStr, creditStr string, isEuropean bool) (int64, error) {
	debitStr = strings.TrimSpace(debitStr)
	creditStr = strings.TrimSpace(creditStr)

	if debitStr != "" {
		amount, err := ParseAmount(debitStr, isEuropean)
		if err != nil {
			return 0, err
		}
		if amount != 0 {
			if amount > 0 {
				amount = -amount
			}
			return amount, nil
		}
	}

	if creditStr != "" {
		amount, err := ParseAmount(creditStr, isEuropean)
		if err != nil {
			return 0, err
		}
		if amount < 0 {
			amount = -amount
		}
		return amount, nil
	}

	return 0, nil
}

// Common date formats used by banks worldwide
var dateFormats = []string{
	// ISO (YYYY-MM-DD)
	"2006-01-02",
	"2006/01/02",

	// American (MM/DD/YYYY variants)
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",

	// European (DD/MM/YYYY variants)
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",

	// With time
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	"01/02/2006 15:04",
}

// ParseFlexibleDate attempts to parse a date using the preferred format
// first, falling back to the known set.
func ParseFlexibleDate(raw string, preferredFormat string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if loc == nil {
		loc = time.UTC
	}

	if preferredFormat != "" {
		goFormat := convertDateFormat(preferredFormat)
		if t, err := time.ParseInLocation(goFormat, raw, loc); err == nil {
			return t, nil
		}
	}

	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, raw, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

// convertDateFormat converts user-facing format strings to Go layouts,
// e.g. "DD/MM/YYYY" -> "02/01/2006".
func convertDateFormat(format string) string {
	replacements := []struct{ pattern, layout string }{
		{"YYYY", "2006"},
		{"YY", "06"},
		{"MM", "01"},
		{"M", "1"},
		{"DD", "02"},
		{"D", "2"},
	}

	result := format
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.pattern, r.layout)
	}
	return result
}

var (
	dmyPattern = regexp.MustCompile(`^\d{1,2}[-/.]\d{1,2}[-/.]\d{4}$`)
	isoPattern = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`)
)

// DateFormatGuess is the result of inferring a date format from samples.
// Ambiguous is true when every sampled day/month value was <= 12, in which
// case Format is a best guess the caller should surface for confirmation.
type DateFormatGuess struct {
	Format    string
	Ambiguous bool
}

// DetectDateFormat guesses the date format from sample values. It inspects
// every sample: a single day value > 12 disambiguates DD/MM vs MM/DD.
func DetectDateFormat(samples []string) DateFormatGuess {
	if len(samples) == 0 {
		return DateFormatGuess{Format: "YYYY-MM-DD", Ambiguous: true}
	}

	sep := "/"
	sawDMY := false
	firstGT12 := false
	secondGT12 := false

	for _, raw := range samples {
		sample := strings.TrimSpace(raw)
		if sample == "" {
			continue
		}

		if isoPattern.MatchString(sample) {
			if strings.Contains(sample, "/") {
				return DateFormatGuess{Format: "YYYY/MM/DD"}
			}
			return DateFormatGuess{Format: "YYYY-MM-DD"}
		}

		if !dmyPattern.MatchString(sample) {
			continue
		}
		sawDMY = true
		if strings.Contains(sample, "-") {
			sep = "-"
		} else if strings.Contains(sample, ".") {
			sep = "."
		}

		parts := strings.FieldsFunc(sample, func(r rune) bool {
			return r == '-' || r == '/' || r == '.'
		})
		if len(parts) >= 2 {
			first, _ := strconv.Atoi(parts[0])
			second, _ := strconv.Atoi(parts[1])
			if first > 12 {
				firstGT12 = true
			}
			if second > 12 {
				secondGT12 = true
			}
		}
	}

	if !sawDMY {
		return DateFormatGuess{Format: "YYYY-MM-DD", Ambiguous: true}
	}

	switch {
	case firstGT12 && !secondGT12:
		return DateFormatGuess{Format: "DD" + sep + "MM" + sep + "YYYY"}
	case secondGT12 && !firstGT12:
		return DateFormatGuess{Format: "MM" + sep + "DD" + sep + "YYYY"}
	default:
		// All values <= 12: undecidable from data, default American
		return DateFormatGuess{Format: "MM" + sep + "DD" + sep + "YYYY", Ambiguous: true}
	}
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanDescription trims and collapses internal whitespace. This is the
// lightweight cleanup applied before fingerprinting; full merchant noise
// stripping happens in Normalize.
func CleanDescription(raw string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(raw, " "))
}
