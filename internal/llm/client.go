// Package llm provides the text-completion client used by content
// generation. Every call runs inside the budget guard: exhausted budget
// skips the call instead of failing the caller's pipeline, and real
// token usage from the API response is recorded against the daily spend.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openpostops/postgate/internal/budget"
	"github.com/openpostops/postgate/pkg/models"
)

// Completion is the result of a guarded model call. Skipped is set when
// the budget guard prevented the call from being attempted.
type Completion struct {
	Text    string
	Usage   *models.UsageRecord
	Skipped bool
	Reason  string
}

// completer matches the slice of the OpenAI client the package uses,
// kept narrow so tests can stub it.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is a budget-guarded chat-completion client.
type Client struct {
	api   completer
	guard *budget.Guard
	model string
}

// NewClient creates a Client for the given API key and model.
func NewClient(apiKey, model string, guard *budget.Guard) *Client {
	return &Client{api: openai.NewClient(apiKey), guard: guard, model: model}
}

// Complete runs a chat completion under the budget guard. intent is a
// free-text label recorded with the usage (e.g. "hook generation").
func (c *Client) Complete(ctx context.Context, intent, system, prompt string, maxTokens int) (*Completion, error) {
	resp, skip, err := budget.Wrap(ctx, c.guard, intent, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			MaxTokens: maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("llm: completion for %q: %w", intent, err)
	}
	if skip != nil {
		return &Completion{Skipped: true, Reason: skip.Reason}, nil
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: completion for %q returned no choices", intent)
	}

	usage := c.usageRecord(intent, resp)
	c.guard.RecordUsage(ctx, usage)
	usage.Recorded = true

	return &Completion{Text: resp.Choices[0].Message.Content, Usage: usage}, nil
}

// usageRecord builds the ledger record from the API's usage block. Cost
// comes from the price table; an unknown model is recorded at zero cost
// with the pricing error noted in the metadata, so the audit trail keeps
// the call even when pricing is misconfigured.
func (c *Client) usageRecord(intent string, resp openai.ChatCompletionResponse) *models.UsageRecord {
	cost, err := c.guard.EstimateCost(models.CostEstimateInput{
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	})

	meta := map[string]interface{}{
		"response_id": resp.ID,
		"created":     resp.Created,
	}
	if err != nil {
		meta["pricing_error"] = err.Error()
	}
	rawMeta, _ := json.Marshal(meta)

	return &models.UsageRecord{
		ID:               uuid.New().String(),
		Model:            c.model,
		Intent:           intent,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          cost,
		RawResponseMeta:  rawMeta,
		Timestamp:        time.Now().UTC(),
	}
}
