// Package vision implements the vision extractor of spec.md §4.4: a
// stateless caller that sends the browser session's latest screenshot to a
// vision-capable chat model with a fixed, infrastructure-level prompt and
// returns the resulting markdown table. Grounded in the teacher's
// internal/services/llm/claude_service.go request-building style.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/services/markdowntable"
)

// fixedPrompt is intentionally not agent-supplied (spec.md §4.4): the
// orchestrator never lets the model choose what to ask the vision model.
const fixedPrompt = `Return a markdown table containing exactly the leftmost row-label column plus the three newest data columns visible in this screenshot of a financial statement.

Rules:
- Preserve every column header exactly as shown.
- Preserve numeric formatting, including parentheses for negative values and a dash for blank cells.
- Do not round or abbreviate any number (no "B"/"M"/"K" suffixes) - write every digit.
- Output only the markdown table, nothing else.`

// Client is the vision extractor. Stateless; safe to share across tickers.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    arbor.ILogger
}

var _ interfaces.VisionExtractor = (*Client)(nil)

// New creates a vision extractor client against the Claude vision model.
// maxTokens defaults to 16000 if unset, comfortably above spec.md §6's
// "at least 12,000" floor for large tables.
func New(apiKey, model string, maxTokens int, timeout time.Duration, logger arbor.ILogger) *Client {
	if maxTokens <= 0 {
		maxTokens = 16000
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}
}

// ExtractTable sends screenshot with the fixed prompt and returns the raw
// markdown table text plus a short data-source identifier for provenance.
func (c *Client) ExtractTable(ctx context.Context, screenshot []byte) (string, string, error) {
	if len(screenshot) == 0 {
		return "", "", fmt.Errorf("%w: no screenshot captured yet", interfaces.ErrExtractionFailed)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	imageBlock := anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(screenshot))
	textBlock := anthropic.NewTextBlock(fixedPrompt)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(imageBlock, textBlock),
		},
	}

	resp, err := c.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", "", fmt.Errorf("%w: vision model call failed: %v", interfaces.ErrExtractionFailed, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", "", fmt.Errorf("%w: empty vision model response", interfaces.ErrExtractionFailed)
	}

	rows, err := markdowntable.RowCount(text.String())
	if err != nil {
		return "", "", err
	}

	dataSource := fmt.Sprintf("vision:%s", c.model)
	c.logger.Debug().Int("markdown_bytes", text.Len()).Int("table_rows", rows).Msg("vision extraction complete")
	return text.String(), dataSource, nil
}
