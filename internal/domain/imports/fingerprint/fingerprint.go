// Package fingerprint computes duplicate-detection keys for candidate
// import rows and classifies them against already-imported transactions.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Classification of a candidate row against the existing transaction set.
type Classification string

const (
	// Fresh rows have no matching fingerprint and insert normally.
	Fresh Classification = "fresh"
	// Duplicate rows match an existing fingerprint exactly. The
	// classification is advisory: callers may force inclusion for
	// legitimate repeated charges.
	Duplicate Classification = "duplicate"
	// NearDuplicate rows share date and amount with an existing
	// transaction and have a very similar description. Imported, but
	// flagged as a warning.
	NearDuplicate Classification = "near_duplicate"
)

// Compute derives the stable dedup key for a row. The description is
// lower-cased and whitespace-collapsed first, so the key is independent of
// the column mapping the row came through.
func Compute(accountID uuid.UUID, date time.Time, description string, amountMinor int64) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(description), " "))
	payload := fmt.Sprintf("%s|%s|%s|%d",
		accountID, date.Format("2006-01-02"), normalized, amountMinor)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// Index answers membership queries for one account's existing transactions.
type Index struct {
	seen map[string]struct{}
	// descriptions by "date|amount" for near-duplicate detection
	siblings map[string][]string
}

// NewIndex builds an index over the fingerprints already stored for the
// target account plus the normalized descriptions backing them.
func NewIndex(existing []Existing) *Index {
	idx := &Index{
		seen:     make(map[string]struct{}, len(existing)),
		siblings: make(map[string][]string),
	}
	for _, e := range existing {
		idx.seen[e.Fingerprint] = struct{}{}
		key := siblingKey(e.Date, e.AmountMinor)
		idx.siblings[key] = append(idx.siblings[key], normalizeDesc(e.Description))
	}
	return idx
}

// Existing is the minimal projection of a stored transaction the index needs.
type Existing struct {
	Fingerprint string
	Date        time.Time
	AmountMinor int64
	Description string
}

// Classify determines whether the row duplicates a transaction already in
// the index, then records it so later rows in the same file are checked
// against it too (an identical file re-import must yield zero inserts).
func (idx *Index) Classify(accountID uuid.UUID, date time.Time, description string, amountMinor int64) (Classification, string) {
	fp := Compute(accountID, date, description, amountMinor)
	if _, ok := idx.seen[fp]; ok {
		return Duplicate, fp
	}

	class := Fresh
	key := siblingKey(date, amountMinor)
	norm := normalizeDesc(description)
	for _, sibling := range idx.siblings[key] {
		if isNearMatch(norm, sibling) {
			class = NearDuplicate
			break
		}
	}

	idx.seen[fp] = struct{}{}
	idx.siblings[key] = append(idx.siblings[key], norm)
	return class, fp
}

func siblingKey(date time.Time, amountMinor int64) string {
	return fmt.Sprintf("%s|%d", date.Format("2006-01-02"), amountMinor)
}

func normalizeDesc(description string) string {
	return strings.ToLower(strings.Join(strings.Fields(description), " "))
}

// isNearMatch reports whether two normalized descriptions are close enough
// to warn about. Substring containment or a small edit distance counts.
func isNearMatch(a, b string) bool {
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	rank := fuzzy.RankMatchNormalizedFold(a, b)
	return rank >= 0 && rank <= 3
}
