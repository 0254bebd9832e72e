package categorization

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClassifier plays one scripted response per call, repeating the
// last script once the list runs out
type fakeClassifier struct {
	calls     int
	responses []func(req ClassifyRequest) ([]Prediction, error)
}

func (f *fakeClassifier) Classify(_ context.Context, req ClassifyRequest) ([]Prediction, error) {
	script := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		script = f.responses[f.calls]
	}
	f.calls++
	return script(req)
}

func answerAll(confidence float64) func(req ClassifyRequest) ([]Prediction, error) {
	return func(req ClassifyRequest) ([]Prediction, error) {
		predictions := make([]Prediction, len(req.Items))
		for i, item := range req.Items {
			predictions[i] = Prediction{
				TransactionID: item.ID,
				CategoryID:    req.Categories[0].ID,
				Confidence:    confidence,
			}
		}
		return predictions, nil
	}
}

func failWith(kind FailureKind) func(req ClassifyRequest) ([]Prediction, error) {
	return func(ClassifyRequest) ([]Prediction, error) {
		return nil, &ClassifierError{Kind: kind, Err: errors.New("scripted failure")}
	}
}

// stallingClassifier blocks on its first call until the call context
// expires, then answers every later chunk confidently
type stallingClassifier struct {
	calls    int
	category uuid.UUID
}

func (s *stallingClassifier) Classify(ctx context.Context, req ClassifyRequest) ([]Prediction, error) {
	s.calls++
	if s.calls == 1 {
		<-ctx.Done()
		return nil, &ClassifierError{Kind: FailureTimeout, Err: ctx.Err()}
	}
	predictions := make([]Prediction, len(req.Items))
	for i, item := range req.Items {
		predictions[i] = Prediction{
			TransactionID: item.ID,
			CategoryID:    s.category,
			Confidence:    0.9,
		}
	}
	return predictions, nil
}

func fastBackoff(t *testing.T) {
	t.Helper()
	saved := retryBackoff
	retryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { retryBackoff = saved })
}

func makeItems(n int) []ClassifyItem {
	items := make([]ClassifyItem, n)
	for i := range items {
		items[i] = ClassifyItem{ID: uuid.New(), Merchant: "starbucks", IsExpense: true}
	}
	return items
}

func newBatcher(c Classifier, batchSize int) *BatchCategorizer {
	return NewBatchCategorizer(c, batchSize, 0.7, 3, time.Minute, slog.New(slog.DiscardHandler))
}

func TestBatchCategorizer_Run(t *testing.T) {
	categories := []Category{{ID: uuid.New(), Name: "Coffee"}}

	t.Run("accepts confident predictions", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.9)}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(3), categories)

		assert.Len(t, outcome.Accepted, 3)
		assert.Empty(t, outcome.LowConfidence)
		assert.Empty(t, outcome.SkippedIDs)
		assert.Zero(t, outcome.FailedChunks)
	})

	t.Run("gates low confidence predictions", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.5)}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(2), categories)

		assert.Empty(t, outcome.Accepted)
		assert.Len(t, outcome.LowConfidence, 2)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.7)}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(1), categories)

		assert.Len(t, outcome.Accepted, 1)
	})

	t.Run("splits items into chunks", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.9)}}
		outcome := newBatcher(fake, 2).Run(context.Background(), makeItems(5), categories)

		assert.Equal(t, 3, fake.calls)
		assert.Len(t, outcome.Accepted, 5)
	})

	t.Run("retries a failing chunk then succeeds", func(t *testing.T) {
		fastBackoff(t)
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
			failWith(FailureTransport),
			failWith(FailureTimeout),
			answerAll(0.9),
		}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(2), categories)

		assert.Equal(t, 3, fake.calls)
		assert.Len(t, outcome.Accepted, 2)
		assert.Zero(t, outcome.FailedChunks)
	})

	t.Run("skips a chunk after exhausting retries", func(t *testing.T) {
		fastBackoff(t)
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
			failWith(FailureInvocation),
		}}
		items := makeItems(3)
		outcome := newBatcher(fake, 50).Run(context.Background(), items, categories)

		// initial attempt plus three retries
		assert.Equal(t, 4, fake.calls)
		assert.Equal(t, 1, outcome.FailedChunks)
		assert.Len(t, outcome.FailedIDs, 3)
		assert.Empty(t, outcome.SkippedIDs)
		assert.Empty(t, outcome.Accepted)
	})

	t.Run("one bad chunk does not stop the others", func(t *testing.T) {
		fastBackoff(t)
		fail := failWith(FailureTransport)
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
			fail, fail, fail, fail, // first chunk exhausts its retries
			answerAll(0.9), // second chunk succeeds
		}}
		outcome := newBatcher(fake, 2).Run(context.Background(), makeItems(4), categories)

		assert.Equal(t, 1, outcome.FailedChunks)
		assert.Len(t, outcome.FailedIDs, 2)
		assert.Len(t, outcome.Accepted, 2)
	})

	t.Run("rejects predictions for unknown categories", func(t *testing.T) {
		rogue := uuid.New()
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
			func(req ClassifyRequest) ([]Prediction, error) {
				return []Prediction{{
					TransactionID: req.Items[0].ID,
					CategoryID:    rogue,
					Confidence:    0.99,
				}}, nil
			},
		}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(1), categories)

		assert.Empty(t, outcome.Accepted)
		require.Len(t, outcome.InvalidCategory, 1)
		assert.Equal(t, rogue, outcome.InvalidCategory[0].CategoryID)
	})

	t.Run("items missing from the response are skipped", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
			func(req ClassifyRequest) ([]Prediction, error) {
				// answer only the first item
				return []Prediction{{
					TransactionID: req.Items[0].ID,
					CategoryID:    req.Categories[0].ID,
					Confidence:    0.9,
				}}, nil
			},
		}}
		outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(3), categories)

		assert.Len(t, outcome.Accepted, 1)
		assert.Len(t, outcome.SkippedIDs, 2)
	})

	t.Run("a stalled call only fails its own chunk", func(t *testing.T) {
		stall := &stallingClassifier{category: categories[0].ID}
		batcher := NewBatchCategorizer(stall, 1, 0.7, 0, 50*time.Millisecond, slog.New(slog.DiscardHandler))

		outcome := batcher.Run(context.Background(), makeItems(4), categories)

		// every chunk still gets its own classifier call
		assert.Equal(t, 4, stall.calls)
		assert.Equal(t, 1, outcome.FailedChunks)
		assert.Len(t, outcome.FailedIDs, 1)
		assert.Len(t, outcome.Accepted, 3)
	})

	t.Run("cancelled run records remaining chunks as failed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.9)}}
		outcome := newBatcher(fake, 2).Run(ctx, makeItems(4), categories)

		assert.Zero(t, fake.calls)
		assert.Len(t, outcome.FailedIDs, 4)
		assert.Empty(t, outcome.Accepted)
	})

	t.Run("no items is a no-op", func(t *testing.T) {
		fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){answerAll(0.9)}}
		outcome := newBatcher(fake, 50).Run(context.Background(), nil, categories)

		assert.Zero(t, fake.calls)
		assert.Empty(t, outcome.Accepted)
	})
}

func TestBatchCategorizer_OutOfRangeConfidenceDropped(t *testing.T) {
	categories := []Category{{ID: uuid.New(), Name: "Coffee"}}
	fake := &fakeClassifier{responses: []func(ClassifyRequest) ([]Prediction, error){
		answerAll(1.5),
	}}

	outcome := newBatcher(fake, 50).Run(context.Background(), makeItems(2), categories)

	assert.Empty(t, outcome.Accepted)
	assert.Len(t, outcome.InvalidCategory, 2)
}
