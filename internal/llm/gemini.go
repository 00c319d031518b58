package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient generates text through the Gemini API with moderate safety
// thresholds. A safety-triggered block surfaces as ErrBlockedBySafety.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing genai client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Model() string {
	return g.model
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
		},
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason == genai.BlockedReasonSafety {
		return "", ErrBlockedBySafety
	}
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", ErrBlockedBySafety
	}

	text := result.Text()
	if text == "" {
		return "", &ProviderError{Err: fmt.Errorf("empty response from %s", g.model)}
	}
	return text, nil
}

// retryDelayRe matches the retry hint Gemini embeds in 429 error payloads,
// e.g. `"retryDelay":"14s"`.
var retryDelayRe = regexp.MustCompile(`retryDelay"?\s*:?\s*"?(\d+(?:\.\d+)?)s`)

func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") {
		if m := retryDelayRe.FindStringSubmatch(err.Error()); m != nil {
			if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil {
				return &RateLimitError{RetryAfter: time.Duration(secs * float64(time.Second))}
			}
		}
		// 429 without a usable hint falls back to generic backoff.
		return &ProviderError{Err: err}
	}

	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") {
		return &ProviderError{Err: err}
	}

	return err
}
