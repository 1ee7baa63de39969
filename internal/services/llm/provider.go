package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
)

// Provider wraps the Claude chat model with native tool calling. Unlike the
// teacher's ClaudeService (which converts every turn to a flat text
// message), the agent's tool-call loop needs tool_use/tool_result content
// blocks to stay in the conversation, so Provider speaks anthropic-sdk-go's
// native message types directly rather than a lowest-common-denominator
// Message struct.
type Provider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	retry       *RetryConfig
	logger      arbor.ILogger
}

// NewProvider creates a Claude tool-calling provider.
func NewProvider(apiKey, model string, maxTokens int, temperature float32, timeout time.Duration, logger arbor.ILogger) *Provider {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Provider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		retry:       NewDefaultRetryConfig(),
		logger:      logger,
	}
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolOutcome is the caller-supplied result of executing one ToolCall, fed
// back to the model as a tool_result content block.
type ToolOutcome struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// CompletionRequest is one turn of the tool-call loop.
type CompletionRequest struct {
	System   string
	Messages []anthropic.MessageParam
	Tools    []anthropic.ToolUnionParam
}

// CompletionResult is the canonical {text_blocks, tool_calls, finish_reason}
// shape spec.md §4.5.5 requires of the provider boundary, plus the raw
// message needed to append this turn back onto the conversation.
type CompletionResult struct {
	Message      *anthropic.Message
	TextBlocks   []string
	ToolCalls    []ToolCall
	FinishReason string
}

// Complete runs one model turn, retrying transient rate-limit/overload
// errors with the backoff schedule in retry.go.
func (p *Provider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  req.Messages,
		Tools:     req.Tools,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.temperature))
	}

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retry.CalculateBackoff(attempt-1, ExtractRetryDelay(lastErr))
			p.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying claude completion")
			select {
			case <-time.After(delay):
			case <-timeoutCtx.Done():
				return nil, timeoutCtx.Err()
			}
		}

		resp, err := p.client.Messages.New(timeoutCtx, params)
		if err != nil {
			lastErr = err
			if IsRateLimitError(err) && attempt < p.retry.MaxRetries {
				continue
			}
			return nil, fmt.Errorf("claude completion failed: %w", err)
		}
		return toResult(resp), nil
	}
	return nil, fmt.Errorf("claude completion failed after %d retries: %w", p.retry.MaxRetries, lastErr)
}

func toResult(resp *anthropic.Message) *CompletionResult {
	result := &CompletionResult{Message: resp, FinishReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.TextBlocks = append(result.TextBlocks, block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	return result
}

// AssistantParam converts a completed turn back into the MessageParam the
// next turn's conversation history must include.
func AssistantParam(result *CompletionResult) anthropic.MessageParam {
	return result.Message.ToParam()
}

// ToolResultsParam builds the user-role message carrying tool_result blocks
// for every outcome, in the order the model expects them.
func ToolResultsParam(outcomes []ToolOutcome) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(outcomes))
	for _, o := range outcomes {
		blocks = append(blocks, anthropic.NewToolResultBlock(o.ToolUseID, o.Content, o.IsError))
	}
	return anthropic.NewUserMessage(blocks...)
}
