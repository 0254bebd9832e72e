package categorization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FailureKind distinguishes why a classifier call failed. All kinds are
// retryable; the label feeds metrics and logs.
type FailureKind string

const (
	// FailureTransport covers network and HTTP-level errors
	FailureTransport FailureKind = "transport"
	// FailureTimeout covers deadline and cancellation errors
	FailureTimeout FailureKind = "timeout"
	// FailureInvocation covers unusable responses: empty output,
	// malformed JSON, wrong shape
	FailureInvocation FailureKind = "invocation"
)

// ClassifierError wraps a classifier failure with its kind
type ClassifierError struct {
	Kind FailureKind
	Err  error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier %s failure: %v", e.Kind, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain, defaulting to
// transport for errors that did not come from a classifier.
func KindOf(err error) FailureKind {
	var ce *ClassifierError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	return FailureTransport
}

// ClassifyItem is one transaction sent to the classifier
type ClassifyItem struct {
	ID        uuid.UUID `json:"id"`
	Merchant  string    `json:"normalized_merchant"`
	Text      string    `json:"description"`
	IsExpense bool      `json:"is_expense"`
}

// ClassifyRequest is one classifier call: a chunk of transactions plus
// the closed set of categories predictions must come from.
type ClassifyRequest struct {
	Items      []ClassifyItem `json:"transactions"`
	Categories []Category     `json:"categories"`
}

// Prediction is the classifier's category decision for one transaction
type Prediction struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	CategoryID    uuid.UUID `json:"category_id"`
	Confidence    float64   `json:"confidence"`
}

// Classifier assigns categories to transactions the rules missed
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) ([]Prediction, error)
}

// parsePredictions decodes the model's response text. Models sometimes
// wrap JSON in Markdown fences despite instructions, so the text is
// cleaned first.
func parsePredictions(raw string) ([]Prediction, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, &ClassifierError{Kind: FailureInvocation, Err: errors.New("empty response from model")}
	}

	var predictions []Prediction
	if err := json.Unmarshal([]byte(clean), &predictions); err != nil {
		return nil, &ClassifierError{Kind: FailureInvocation, Err: fmt.Errorf("unmarshal predictions: %w", err)}
	}
	return predictions, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost JSON array if junk surrounds it
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
