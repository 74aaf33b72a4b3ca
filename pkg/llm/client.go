// Package llm provides a narrow, testable interface over the LLM vendor
// call that the dedup, conflict, and distillation stages all share, plus
// the one production implementation backed by the Anthropic API.
package llm

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// Classifier is the single method every pipeline stage that calls out to
// an LLM actually needs: send a system instruction and a user prompt, get
// back the model's raw text response. Narrowing the dependency to one
// method keeps every caller trivially fakeable in tests.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AnthropicClassifier implements Classifier against the Anthropic Messages
// API, wrapped in a circuit breaker so a vendor outage fails fast instead
// of piling up latency on every pipeline stage that depends on it.
type AnthropicClassifier struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicClassifier builds a classifier for model using apiKey,
// bounding every call to timeout and tripping its breaker after 5
// consecutive failures.
func NewAnthropicClassifier(apiKey, model string, timeout time.Duration) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic-classifier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &AnthropicClassifier{
		client:  client,
		model:   anthropic.Model(model),
		timeout: timeout,
		breaker: breaker,
	}
}

// Classify sends a single-turn message and returns the concatenated text
// of the model's reply.
func (c *AnthropicClassifier) Classify(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 512,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			return "", err
		}
		return concatText(msg), nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out
}
