// merchant.go handles merchant name normalization: stripping bank noise
// tokens from raw statement descriptions to produce the matching key used
// by rules and the AI classifier.
package normalizer

import (
	"regexp"
	"strings"
)

// Transaction-type prefixes banks prepend to the merchant name. Longest
// prefixes first so "POS DEBIT" wins over "POS".
var noisePrefixes = []string{
	"POS DEBIT ",
	"POS PURCHASE ",
	"POS ",
	"CHECKCARD ",
	"CHECK CARD ",
	"DEBIT CARD PURCHASE ",
	"DEBIT CARD ",
	"DEBIT ",
	"ACH WITHDRAWAL ",
	"ACH DEBIT ",
	"ACH CREDIT ",
	"ACH ",
	"ELECTRONIC WITHDRAWAL ",
	"ONLINE PAYMENT ",
	"RECURRING PAYMENT ",
	"CARD PURCHASE ",
	"PURCHASE ",
	"PAYMENT ",
	"WITHDRAWAL ",
	"VISA ",
	"MASTERCARD ",
}

var (
	// Card-reference digit runs: standalone groups of 4+ digits anywhere
	refDigitsPattern = regexp.MustCompile(`(^|\s)\d{4,}(\s|$)`)
	// Store numbers like "#55" or "NO. 1234"
	storeNumberPattern = regexp.MustCompile(`\s+(#|NO\.?\s*)\d+\b`)
	// Trailing ZIP codes
	zipPattern = regexp.MustCompile(`\s+\d{5}(-\d{4})?$`)
	// Trailing date fragments like "12/01"
	trailingDatePattern = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}/?$`)
	// Trailing city + uppercase state code, e.g. "SEATTLE WA". Case
	// sensitive so an already-lowercased output is never re-stripped.
	cityStatePattern = regexp.MustCompile(`\s+[A-Za-z.']+\s+[A-Z]{2}$`)
	statePattern     = regexp.MustCompile(`\s+[A-Z]{2}$`)
)

// Normalize produces the clean merchant string for a raw bank description.
// It is deterministic and idempotent: Normalize(Normalize(s)) == Normalize(s).
// When stripping would destroy the whole description it returns the
// cleaned-but-otherwise-unmodified input instead of an empty string.
func Normalize(raw string) string {
	cleaned := CleanDescription(raw)
	if cleaned == "" {
		return ""
	}

	result := cleaned

	// Strip transaction-type prefixes (repeat: "POS DEBIT CHECKCARD X")
	for {
		upper := strings.ToUpper(result)
		stripped := false
		for _, prefix := range noisePrefixes {
			if strings.HasPrefix(upper, prefix) {
				result = strings.TrimSpace(result[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped || result == "" {
			break
		}
	}

	// The pattern consumes the separating whitespace, so adjacent digit
	// runs need repeated passes until nothing changes.
	for {
		stripped := refDigitsPattern.ReplaceAllString(result, " ")
		if stripped == result {
			break
		}
		result = stripped
	}
	// Re-collapse before the $-anchored patterns: the digit strip can leave
	// trailing whitespace that would defeat them.
	result = CleanDescription(result)
	result = storeNumberPattern.ReplaceAllString(result, "")
	result = trailingDatePattern.ReplaceAllString(result, "")
	result = zipPattern.ReplaceAllString(result, "")

	// Location fragments: only strip a trailing state code when at least
	// one merchant token would survive.
	if loc := cityStatePattern.FindStringIndex(result); loc != nil && loc[0] > 0 {
		result = result[:loc[0]]
	} else if loc := statePattern.FindStringIndex(result); loc != nil && loc[0] > 0 {
		result = result[:loc[0]]
	}

	result = CleanDescription(result)
	if result == "" {
		// Nothing confidently extractable; fall back to the cleaned input
		result = cleaned
	}

	return strings.ToLower(result)
}
