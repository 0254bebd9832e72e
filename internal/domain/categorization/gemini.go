package categorization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ledgerlite/ledgerlite/pkg/config"
)

const classifyPrompt = "You are a personal-finance transaction classifier.\n\n" +
	"Task:\n" +
	"- Assign each transaction below to exactly one of the predefined categories.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a JSON array of objects, one per transaction.\n\n" +
	"Each object must have these fields:\n" +
	"- \"transaction_id\": string, copied verbatim from the input\n" +
	"- \"category_id\": string, the id of the chosen category\n" +
	"- \"confidence\": number between 0 and 1\n\n" +
	"Rules:\n" +
	"- Use only category ids from the provided list.\n" +
	"- Judge primarily by the normalized merchant; use the description as backup.\n" +
	"- is_expense tells you whether money went out (true) or came in (false).\n" +
	"- Lower the confidence when the merchant is unfamiliar or generic.\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// GeminiClassifier classifies transaction chunks with the Gemini API
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiClassifier creates a classifier backed by Gemini. The rate
// limiter keeps bursts of chunks inside the API quota.
func NewGeminiClassifier(ctx context.Context, cfg config.GeminiConfig) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 15
	}

	return &GeminiClassifier{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// Classify sends one chunk of transactions to the model and returns its
// predictions. Errors carry a FailureKind for retry accounting.
func (g *GeminiClassifier) Classify(ctx context.Context, req ClassifyRequest) ([]Prediction, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &ClassifierError{Kind: FailureTimeout, Err: err}
	}

	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, &ClassifierError{Kind: FailureInvocation, Err: fmt.Errorf("marshal request: %w", err)}
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: classifyPrompt},
				{Text: string(payload)},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &ClassifierError{Kind: FailureTimeout, Err: err}
		}
		return nil, &ClassifierError{Kind: FailureTransport, Err: err}
	}

	return parsePredictions(resp.Text())
}
