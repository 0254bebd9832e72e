package categorization

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"
)

// RuleMatch is the winning rule for one merchant string
type RuleMatch struct {
	RuleID     uuid.UUID
	Pattern    string
	CategoryID uuid.UUID
	priority   int
}

// Engine matches merchant strings against all rules in a single pass
// using the Aho-Corasick algorithm. Matching cost is O(text + matches)
// regardless of how many rules exist.
type Engine struct {
	matcher  *ahocorasick.Matcher
	metadata []RuleMatch // indexed like the matcher's patterns
	mu       sync.RWMutex
}

// NewEngine builds an engine from rules ordered newest first, the order
// ListRules returns them in. When several rules match the same merchant
// the most recently created one wins.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Build(rules)
	return e
}

// Build reconstructs the matcher. Call it after the rule set changes.
func (e *Engine) Build(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(rules) == 0 {
		e.matcher = nil
		e.metadata = nil
		return
	}

	patterns := make([][]byte, 0, len(rules))
	metadata := make([]RuleMatch, 0, len(rules))

	// rules arrive newest first; earlier index means higher priority
	for i, rule := range rules {
		pattern := strings.ToLower(strings.TrimSpace(rule.MerchantPattern))
		if pattern == "" {
			continue
		}
		patterns = append(patterns, []byte(pattern))
		metadata = append(metadata, RuleMatch{
			RuleID:     rule.ID,
			Pattern:    rule.MerchantPattern,
			CategoryID: rule.CategoryID,
			priority:   len(rules) - i,
		})
	}

	e.metadata = metadata
	if len(patterns) > 0 {
		e.matcher = ahocorasick.NewMatcher(patterns)
	} else {
		e.matcher = nil
	}
}

// Match returns the winning rule for a normalized merchant string, or nil
// when no rule's pattern occurs in it.
func (e *Engine) Match(merchant string) *RuleMatch {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.matcher == nil || merchant == "" {
		return nil
	}

	matches := e.matcher.Match([]byte(strings.ToLower(merchant)))
	if len(matches) == 0 {
		return nil
	}

	var best *RuleMatch
	for _, idx := range matches {
		if idx < 0 || idx >= len(e.metadata) {
			continue
		}
		m := &e.metadata[idx]
		if best == nil || m.priority > best.priority {
			copied := *m
			best = &copied
		}
	}
	return best
}

// MatchBatch matches many merchants. The result slice is index-aligned
// with the input; unmatched entries are nil.
func (e *Engine) MatchBatch(merchants []string) []*RuleMatch {
	results := make([]*RuleMatch, len(merchants))
	for i, merchant := range merchants {
		results[i] = e.Match(merchant)
	}
	return results
}
