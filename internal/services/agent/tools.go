// Package agent implements the orchestrator of spec.md §4.5: the per-ticker
// control flow, the fixed toolset bound to components 1-4, and the
// bounded tool-call loop against the chat LLM. Grounded in the teacher's
// internal/services/chat/agent_loop.go control-flow shape and
// internal/services/mcp tool-dispatch pattern, retargeted at native
// Anthropic tool_use blocks instead of the teacher's regex-parsed tool
// calls (llm.Provider already returns a canonical
// {text_blocks, tool_calls, finish_reason} shape, so there is nothing left
// to parse here).
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// Tool names, used both for the schema list published to the model and for
// dispatch in the tool loop.
const (
	ToolAnalyzeExcel           = "analyze_excel"
	ToolBrowseStockAnalysis    = "browse_stockanalysis"
	ToolExtractPageWithVision  = "extract_page_with_vision"
	ToolWebSearch              = "web_search"
	ToolNoteFinding            = "note_finding"
	ToolInsertNewPeriodColumn  = "insert_new_period_column"
	ToolUpdateExcelCell        = "update_excel_cell"
	ToolSaveAllFiles           = "save_all_files"
)

// Tool input payloads. Schemas are derived from these structs via
// invopop/jsonschema so the wire contract and the Go type can never drift.
type analyzeExcelInput struct{}

type browseStockAnalysisInput struct {
	DataType string `json:"data_type" jsonschema:"enum=as-reported,description=Must be 'as-reported'."`
}

type extractPageWithVisionInput struct{}

type webSearchInput struct {
	Query string `json:"query" jsonschema:"description=Free-form search query."`
}

type noteFindingInput struct {
	Category string `json:"category" jsonschema:"enum=data_gathered,enum=empty_cells,enum=validation,enum=decision,enum=error,enum=file_skipped,enum=file_completed"`
	Text     string `json:"text"`
}

type insertNewPeriodColumnInput struct {
	Sheet        string `json:"sheet"`
	DateHeader   string `json:"date_header" jsonschema:"description=Overridden server-side by fiscal_period_end/report_date; still required in the schema so the model reasons about it."`
	PeriodHeader string `json:"period_header" jsonschema:"description=e.g. 'Q4 2026'. Drives the Q4 gate for annual files."`
}

type updateExcelCellInput struct {
	Sheet string `json:"sheet"`
	Cell  string `json:"cell" jsonschema:"description=A1-style cell reference, e.g. 'B7'."`
	Value string `json:"value" jsonschema:"description=Fully written absolute integer, no abbreviations."`
}

type saveAllFilesInput struct{}

var reflector = &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}

func schemaFor(v any) json.RawMessage {
	s := reflector.Reflect(v)
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

// ToolDefinitions returns the fixed toolset published to the chat LLM
// (spec.md §4.5.1), as native Anthropic tool params.
func ToolDefinitions() []anthropic.ToolUnionParam {
	def := func(name, description string, input any) anthropic.ToolUnionParam {
		properties, required := schemaProperties(schemaFor(input))
		return anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String(description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}

	return []anthropic.ToolUnionParam{
		def(ToolAnalyzeExcel, "Returns the per-sheet structure of the current file only. Read-only; does not widen scope to other files.", analyzeExcelInput{}),
		def(ToolBrowseStockAnalysis, "Logs in if needed, navigates to the current file's statement page, selects raw units, and screenshots it.", browseStockAnalysisInput{}),
		def(ToolExtractPageWithVision, "Sends the latest screenshot to the vision model and returns a markdown table. No agent-supplied prompt.", extractPageWithVisionInput{}),
		def(ToolWebSearch, "Calls the secondary search API. Use sparingly, for validation or filling gaps only.", webSearchInput{}),
		def(ToolNoteFinding, "Appends a note to the scratchpad. Does not alter the workbook.", noteFindingInput{}),
		def(ToolInsertNewPeriodColumn, "Performs the structural leftmost-column insert in the current file. date_header is overridden server-side.", insertNewPeriodColumnInput{}),
		def(ToolUpdateExcelCell, "Writes one cell in the current file. Rejected if the target cell was non-empty on load.", updateExcelCellInput{}),
		def(ToolSaveAllFiles, "No-op sentinel; the real save/upload happens after the loop exits.", saveAllFilesInput{}),
	}
}

// schemaProperties extracts the "properties"/"required" sub-object from a
// reflected struct schema, since anthropic.ToolInputSchemaParam takes the
// properties map directly rather than a full schema document.
func schemaProperties(full json.RawMessage) (any, []string) {
	var doc map[string]any
	if err := json.Unmarshal(full, &doc); err != nil {
		return map[string]any{}, nil
	}
	var required []string
	if list, ok := doc["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	if props, ok := doc["properties"]; ok {
		return props, required
	}
	return map[string]any{}, required
}

// Dispatcher executes one tool call against the live collaborators of a
// single ticker run. One Dispatcher per ticker; CurrentFile and the active
// mutator are swapped in by the orchestrator between files.
type Dispatcher struct {
	ctx             *models.AgentContext
	mutators        map[string]interfaces.SpreadsheetMutator // bucket -> open workbook
	currentBucket   string
	browser         interfaces.BrowserSession
	vision          interfaces.VisionExtractor
	search          interfaces.WebSearchClient
	numericFloor    int64
}

// NewDispatcher creates a tool dispatcher bound to one ticker's live
// collaborators.
func NewDispatcher(
	agentCtx *models.AgentContext,
	mutators map[string]interfaces.SpreadsheetMutator,
	browser interfaces.BrowserSession,
	vision interfaces.VisionExtractor,
	search interfaces.WebSearchClient,
	numericFloor int64,
) *Dispatcher {
	return &Dispatcher{
		ctx:          agentCtx,
		mutators:     mutators,
		browser:      browser,
		vision:       vision,
		search:       search,
		numericFloor: numericFloor,
	}
}

// SetCurrentFile tells the dispatcher which bucket's mutator and browse
// params subsequent tool calls target.
func (d *Dispatcher) SetCurrentFile(bucket string) {
	d.currentBucket = bucket
}

// toolResultPayload is the structured JSON string every dispatch returns,
// whether success or a recoverable error (spec.md §4.5.1: "marshals the
// result back as a JSON-serialized string").
type toolResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (p toolResultPayload) marshal() string {
	b, err := json.Marshal(p)
	if err != nil {
		return `{"ok":false,"error":"internal: failed to marshal tool result"}`
	}
	return string(b)
}

func errPayload(err error) string {
	return toolResultPayload{OK: false, Error: err.Error()}.marshal()
}

func okPayload(data any) string {
	return toolResultPayload{OK: true, Data: data}.marshal()
}

// Dispatch runs one tool call. The returned string is always valid JSON and
// is never itself an error - recoverable failures are encoded in the
// payload per spec.md §7, "recoverable errors are surfaced to the model as
// tool results". The returned error is always nil: every failure, including
// ErrLoginFailed from the browse tool (login happens inside that tool, not
// before the tool loop), is returned to the model in the payload and does
// not end the ticker run.
func (d *Dispatcher) Dispatch(ctx context.Context, file models.TargetFile, call ToolCallLike) (string, error) {
	switch call.Name() {
	case ToolAnalyzeExcel:
		return d.analyzeExcel(), nil
	case ToolBrowseStockAnalysis:
		return d.browseStockAnalysis(ctx, file), nil
	case ToolExtractPageWithVision:
		return d.extractPageWithVision(ctx), nil
	case ToolWebSearch:
		return d.webSearch(ctx, call.Input()), nil
	case ToolNoteFinding:
		return d.noteFinding(call.Input()), nil
	case ToolInsertNewPeriodColumn:
		return d.insertNewPeriodColumn(file, call.Input()), nil
	case ToolUpdateExcelCell:
		return d.updateExcelCell(call.Input()), nil
	case ToolSaveAllFiles:
		return okPayload("save deferred to end of file loop"), nil
	default:
		return errPayload(fmt.Errorf("unknown tool %q", call.Name())), nil
	}
}

// ToolCallLike abstracts llm.ToolCall so tools.go does not import llm,
// keeping the dependency direction orchestrator -> llm, not the reverse.
type ToolCallLike interface {
	Name() string
	Input() json.RawMessage
}

func (d *Dispatcher) currentMutator() (interfaces.SpreadsheetMutator, error) {
	m, ok := d.mutators[d.currentBucket]
	if !ok {
		return nil, fmt.Errorf("no open workbook for bucket %q", d.currentBucket)
	}
	return m, nil
}

func (d *Dispatcher) analyzeExcel() string {
	m, err := d.currentMutator()
	if err != nil {
		return errPayload(err)
	}

	structures := make(map[string]*interfaces.SheetStructure)
	for _, sheet := range m.Sheets() {
		s, err := m.ReadStructure(sheet)
		if err != nil {
			return errPayload(err)
		}
		structures[sheet] = s
	}
	return okPayload(structures)
}

func (d *Dispatcher) browseStockAnalysis(ctx context.Context, file models.TargetFile) string {
	var input browseStockAnalysisInput
	_ = input // schema-only; data_type is constrained to as-reported regardless of agent input

	if err := d.browser.EnsureLoggedIn(ctx); err != nil {
		return errPayload(err)
	}

	params := interfaces.BrowseParams{
		Ticker:    d.ctx.Job.Ticker,
		Statement: file.Statement,
		Period:    file.Period,
		DataType:  "as-reported",
	}
	if err := d.browser.NavigateToFinancials(ctx, params); err != nil {
		return errPayload(err)
	}
	if err := d.browser.SelectRawUnits(ctx); err != nil {
		return errPayload(err)
	}
	shot, err := d.browser.Screenshot(ctx)
	if err != nil {
		return errPayload(err)
	}
	return okPayload(fmt.Sprintf("captured screenshot (%d bytes)", len(shot)))
}

func (d *Dispatcher) extractPageWithVision(ctx context.Context) string {
	shot := d.browser.LatestScreenshot()
	markdown, dataSource, err := d.vision.ExtractTable(ctx, shot)
	if err != nil {
		return errPayload(err)
	}
	d.ctx.AddDataSource(dataSource)
	d.ctx.AddNote(models.NoteDataGathered, d.currentBucket, "vision extraction: "+dataSource)
	return okPayload(map[string]string{"markdown_table": markdown, "data_source": dataSource})
}

func (d *Dispatcher) webSearch(ctx context.Context, raw json.RawMessage) string {
	var input webSearchInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return errPayload(fmt.Errorf("invalid web_search input: %w", err))
	}
	result, err := d.search.Search(ctx, input.Query)
	if err != nil {
		return errPayload(err)
	}
	for _, c := range result.Citations {
		d.ctx.AddDataSource(c)
	}
	d.ctx.AddNote(models.NoteDataGathered, d.currentBucket, "web search: "+input.Query)
	return okPayload(result)
}

func (d *Dispatcher) noteFinding(raw json.RawMessage) string {
	var input noteFindingInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return errPayload(fmt.Errorf("invalid note_finding input: %w", err))
	}
	d.ctx.AddNote(models.NoteCategory(input.Category), d.currentBucket, input.Text)
	return okPayload("noted")
}

func (d *Dispatcher) insertNewPeriodColumn(file models.TargetFile, raw json.RawMessage) string {
	var input insertNewPeriodColumnInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return errPayload(fmt.Errorf("invalid insert_new_period_column input: %w", err))
	}

	if d.ctx.ColumnAlreadyInserted(file.Bucket) {
		return errPayload(fmt.Errorf("%w: %s", interfaces.ErrAlreadyInserted, file.Bucket))
	}

	m, err := d.currentMutator()
	if err != nil {
		return errPayload(err)
	}

	// The agent's date_header is ignored per spec.md §4.5.1: the orchestrator
	// overrides it with fiscal_period_end (or report_date fallback).
	dateHeader := d.ctx.Job.EffectiveFiscalPeriodEnd().Format("2006-01-02")

	rowMap, err := m.InsertLeftmostPeriodColumn(input.Sheet, dateHeader, input.PeriodHeader)
	if err != nil {
		return errPayload(err)
	}

	d.ctx.RecordColumnInsertion(file, input.PeriodHeader)
	d.ctx.AddNote(models.NoteDecision, file.Bucket, fmt.Sprintf("inserted period column %s/%s", dateHeader, input.PeriodHeader))

	return okPayload(map[string]any{
		"date_header":   dateHeader,
		"period_header": input.PeriodHeader,
		"row_map":       rowMap,
	})
}

func (d *Dispatcher) updateExcelCell(raw json.RawMessage) string {
	var input updateExcelCellInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return errPayload(fmt.Errorf("invalid update_excel_cell input: %w", err))
	}

	if warning := checkNumericFormat(input.Value, d.numericFloor); warning != "" {
		d.ctx.AddNote(models.NoteValidation, d.currentBucket, warning)
	}

	m, err := d.currentMutator()
	if err != nil {
		return errPayload(err)
	}

	if err := m.UpdateCell(input.Sheet, input.Cell, input.Value); err != nil {
		return errPayload(err)
	}

	d.ctx.RecordCellWritten(d.currentBucket)
	return okPayload(fmt.Sprintf("wrote %s!%s", input.Sheet, input.Cell))
}
