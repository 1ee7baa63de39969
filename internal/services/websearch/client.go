// Package websearch implements the web-search fallback of spec.md §4.4: a
// Gemini client configured with the built-in Google Search grounding tool,
// used when the vision extractor cannot find a figure on the statement page
// itself (e.g. a footnote-only disclosure). Grounded in the teacher's
// internal/services/llm gemini request-building pattern.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
)

// systemInstruction keeps every answer grounded and fully spelled out, since
// the agent writes these figures straight into spreadsheet cells.
const systemInstruction = `Answer with the specific financial figure requested, citing your source. Write every number fully (no "B"/"M"/"K" abbreviations). If you cannot find a confident answer, say so plainly.`

// jsonFence matches a fenced or bare JSON object trailing the answer text,
// which some grounded responses append summarizing their own citations.
var jsonFence = regexp.MustCompile(`(?s)\{.*\}`)

// Client is the web-search fallback client.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

var _ interfaces.WebSearchClient = (*Client)(nil)

// New creates a client against the given Gemini model.
func New(ctx context.Context, apiKey, model string, timeout time.Duration, logger arbor.ILogger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: client, model: model, timeout: timeout, logger: logger}, nil
}

// Search asks the grounded model query and returns its answer text plus any
// citation URLs from the grounding metadata.
func (c *Client) Search(ctx context.Context, query string) (*interfaces.SearchResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	resp, err := c.client.Models.GenerateContent(timeoutCtx, c.model, genai.Text(query), config)
	if err != nil {
		return nil, fmt.Errorf("%w: web search: %v", interfaces.ErrExtractionFailed, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: empty web search response", interfaces.ErrExtractionFailed)
	}

	result := &interfaces.SearchResult{AnswerText: resp.Text()}

	cand := resp.Candidates[0]
	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				result.Citations = append(result.Citations, chunk.Web.URI)
			}
		}
	}

	// Grounding metadata is sometimes thin; fall back to any trailing JSON
	// block the model appended, repairing common formatting slips (trailing
	// commas, missing quotes) before decoding it.
	if len(result.Citations) == 0 {
		if extra := extractCitationsFromText(result.AnswerText); len(extra) > 0 {
			result.Citations = extra
		}
	}

	c.logger.Debug().Str("query", query).Int("citations", len(result.Citations)).Msg("web search complete")
	return result, nil
}

// Close releases the underlying client. genai.Client has no explicit
// teardown; present for interface symmetry with the other service clients.
func (c *Client) Close() error { return nil }

type citationPayload struct {
	Citations []string `json:"citations"`
}

func extractCitationsFromText(text string) []string {
	match := jsonFence.FindString(text)
	if match == "" {
		return nil
	}

	repaired, err := jsonrepair.RepairJSON(match)
	if err != nil {
		repaired = match
	}

	var payload citationPayload
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return nil
	}

	var cleaned []string
	for _, c := range payload.Citations {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return cleaned
}
