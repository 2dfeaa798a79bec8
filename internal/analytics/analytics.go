// Package analytics extracts sentiment and interest from a finished turn.
// The extraction is a secondary, fire-and-forget LLM call; its results feed
// backend logging and the local journal but never gate the conversation.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumora/murmel/pkg/provider/llm"
)

const extractionPrompt = `You analyze one utterance from a child talking to a toy companion.
Respond with a single JSON object, nothing else, in exactly this shape:
{"sentiment":"<one word, e.g. happy, sad, curious, angry, neutral>","sentiment_intensity":<integer 0-10>,"interest":"<main topic, at most two words, or empty string>","interest_intensity":<integer 0-10>}`

// Result is one extraction outcome.
type Result struct {
	Sentiment          string `json:"sentiment"`
	SentimentIntensity int    `json:"sentiment_intensity"`
	Interest           string `json:"interest"`
	InterestIntensity  int    `json:"interest_intensity"`
}

// Extractor runs the extraction call.
type Extractor struct {
	provider llm.Provider
	log      *slog.Logger
}

// New creates an extractor.
func New(provider llm.Provider, log *slog.Logger) (*Extractor, error) {
	if provider == nil {
		return nil, errors.New("analytics: llm provider must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{provider: provider, log: log}, nil
}

// Extract analyzes the child's utterance. Malformed model output is an
// error; callers drop the result rather than guessing.
func (e *Extractor) Extract(ctx context.Context, userText string) (*Result, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionPrompt,
		Messages:     []llm.Message{{Role: "user", Content: userText}},
		Temperature:  0.1,
		MaxTokens:    128,
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: extraction call: %w", err)
	}
	res, err := parseResult(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	return res, nil
}

// parseResult decodes the model's JSON strictly. Code fences some models
// insist on wrapping the object in are tolerated; anything else is not.
func parseResult(content string) (*Result, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	var res Result
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("malformed extraction output %q: %w", content, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data in extraction output %q", content)
	}

	if res.Sentiment == "" {
		return nil, fmt.Errorf("extraction output %q has empty sentiment", content)
	}
	if res.SentimentIntensity < 0 || res.SentimentIntensity > 10 {
		return nil, fmt.Errorf("sentiment intensity %d out of range [0, 10]", res.SentimentIntensity)
	}
	if res.InterestIntensity < 0 || res.InterestIntensity > 10 {
		return nil, fmt.Errorf("interest intensity %d out of range [0, 10]", res.InterestIntensity)
	}
	if len(strings.Fields(res.Interest)) > 2 {
		return nil, fmt.Errorf("interest %q has more than two words", res.Interest)
	}
	return &res, nil
}
