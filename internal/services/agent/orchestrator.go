package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/common"
	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
	"github.com/kestrelfin/ledgersync/internal/services/llm"
)

// BrowserFactory creates a fresh browser session for one ticker run. A
// fresh session per ticker, never shared, per spec.md §5's
// "no sharing across tickers" rule.
type BrowserFactory func() interfaces.BrowserSession

// Orchestrator is the per-ticker controller of spec.md §4.5: downloads the
// six target files, runs the bounded tool-call loop per file, gates annual
// files on the detected quarter, and reports the terminal callback.
type Orchestrator struct {
	objectStore    interfaces.ObjectStore
	loader         interfaces.SpreadsheetLoader
	browserFactory BrowserFactory
	vision         interfaces.VisionExtractor
	search         interfaces.WebSearchClient
	llmProvider    *llm.Provider
	callback       interfaces.CallbackPoster
	status         interfaces.StatusBroadcaster

	cfg    common.AgentConfig
	logger arbor.ILogger
}

// NewOrchestrator wires the orchestrator to its live collaborators.
func NewOrchestrator(
	objectStore interfaces.ObjectStore,
	loader interfaces.SpreadsheetLoader,
	browserFactory BrowserFactory,
	vision interfaces.VisionExtractor,
	search interfaces.WebSearchClient,
	llmProvider *llm.Provider,
	callback interfaces.CallbackPoster,
	status interfaces.StatusBroadcaster,
	cfg common.AgentConfig,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		objectStore:    objectStore,
		loader:         loader,
		browserFactory: browserFactory,
		vision:         vision,
		search:         search,
		llmProvider:    llmProvider,
		callback:       callback,
		status:         status,
		cfg:            cfg,
		logger:         logger,
	}
}

// Run executes one ticker end to end and posts the terminal callback. The
// returned RunResult's Err is non-nil only when the caller (e.g. the ingress fan-out)
// needs to know the run failed; the callback itself has already been
// attempted regardless.
func (o *Orchestrator) Run(ctx context.Context, job models.TickerJob) models.RunResult {
	start := time.Now()
	runID := common.NewRunID()

	tickerTimeout := common.ParseDurationOrDefault(o.cfg.TickerTimeout, 30*time.Minute)
	runCtx, cancel := context.WithTimeout(ctx, tickerTimeout)
	defer cancel()

	workDir := filepath.Join(o.cfg.WorkDir, runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return o.finish(ctx, job, models.NewAgentContext(job, workDir), start, nil,
			fmt.Errorf("creating working directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	agentCtx := models.NewAgentContext(job, workDir)
	browser := o.browserFactory()
	defer browser.Close()

	mutators := make(map[string]interfaces.SpreadsheetMutator)
	defer func() {
		for _, m := range mutators {
			m.Close()
		}
	}()

	if err := o.downloadAll(runCtx, job, agentCtx, mutators); err != nil {
		return o.finish(ctx, job, agentCtx, start, nil, err)
	}

	dispatcher := NewDispatcher(agentCtx, mutators, browser, o.vision, o.search, o.cfg.NumericFloor)

	uploaded := make([]string, 0, len(models.FileOrder))
	for _, file := range models.FileOrder {
		select {
		case <-runCtx.Done():
			return o.finish(ctx, job, agentCtx, start, uploaded, fmt.Errorf("%w: %v", interfaces.ErrTimeoutExceeded, runCtx.Err()))
		default:
		}

		m, ok := mutators[file.Bucket]
		if !ok {
			continue // already recorded as missing during downloadAll
		}

		if shouldSkipAnnual(file, agentCtx) {
			agentCtx.AddNote(models.NoteFileSkipped, file.Bucket, "annual file skipped: detected quarter is not Q4")
			o.publish(ctx, runID, job.Ticker, file.Bucket, "file_skipped")
			continue
		}

		agentCtx.CurrentFile = file.Bucket
		dispatcher.SetCurrentFile(file.Bucket)
		o.publish(ctx, runID, job.Ticker, file.Bucket, "file_started")

		structures := make(map[string]*interfaces.SheetStructure)
		for _, sheet := range m.Sheets() {
			s, err := m.ReadStructure(sheet)
			if err != nil {
				agentCtx.AddNote(models.NoteError, file.Bucket, "reading structure: "+err.Error())
				continue
			}
			structures[sheet] = s
		}

		if err := o.runFileLoop(runCtx, job, file, agentCtx, dispatcher, structures); err != nil {
			agentCtx.AddNote(models.NoteError, file.Bucket, "tool loop error: "+err.Error())
		}

		if agentCtx.CellsWrittenCount(file.Bucket) > 0 {
			data, err := m.Save()
			if err != nil {
				agentCtx.AddNote(models.NoteError, file.Bucket, "serializing workbook: "+err.Error())
				continue
			}
			if err := o.objectStore.Upload(runCtx, file.Bucket, file.ObjectKey(job.Ticker), data); err != nil {
				agentCtx.AddNote(models.NoteError, file.Bucket, "upload failed: "+err.Error())
				continue
			}
			uploaded = append(uploaded, file.Bucket)
			agentCtx.AddNote(models.NoteFileCompleted, file.Bucket, "uploaded")
			o.publish(ctx, runID, job.Ticker, file.Bucket, "file_completed")
		} else {
			o.logger.Warn().Str("ticker", job.Ticker).Str("file", file.Bucket).Msg("no cells written, skipping upload")
		}
	}

	return o.finish(ctx, job, agentCtx, start, uploaded, nil)
}

// downloadAll fetches each of the six target files in the fixed order.
// A missing file is recorded as skipped and processing continues; a
// transport error is fatal for the whole ticker (spec.md §4.1).
func (o *Orchestrator) downloadAll(ctx context.Context, job models.TickerJob, agentCtx *models.AgentContext, mutators map[string]interfaces.SpreadsheetMutator) error {
	for _, file := range models.FileOrder {
		key := file.ObjectKey(job.Ticker)
		data, err := o.objectStore.Download(ctx, file.Bucket, key)
		if errors.Is(err, interfaces.ErrResourceMissing) {
			agentCtx.AddNote(models.NoteFileSkipped, file.Bucket, "not found in object store")
			continue
		}
		if err != nil {
			return fmt.Errorf("downloading %s: %w", file.Bucket, err)
		}

		m, err := o.loader.Load(data)
		if err != nil {
			return fmt.Errorf("opening %s: %w", file.Bucket, err)
		}
		mutators[file.Bucket] = m
	}
	return nil
}

// runFileLoop is the bounded tool-call loop of spec.md §4.5.2/§9: each
// iteration sends history + toolset to the model; tool calls are
// dispatched in order and their results appended before the next call; no
// tool calls means the model is done with this file.
func (o *Orchestrator) runFileLoop(
	ctx context.Context,
	job models.TickerJob,
	file models.TargetFile,
	agentCtx *models.AgentContext,
	dispatcher *Dispatcher,
	structures map[string]*interfaces.SheetStructure,
) error {
	systemPrompt := buildSystemPrompt(job, file, agentCtx)
	tools := ToolDefinitions()

	messages := []anthropicMessageParam{newUserTextMessage(buildFirstUserMessage(structures))}

	maxIterations := o.cfg.MaxIterationsPerFile
	if maxIterations <= 0 {
		maxIterations = 15
	}

	for iter := 0; iter < maxIterations; iter++ {
		result, err := o.llmProvider.Complete(ctx, llm.CompletionRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return err
		}

		messages = append(messages, llm.AssistantParam(result))

		if len(result.ToolCalls) == 0 {
			agentCtx.AddNote(models.NoteFileCompleted, file.Bucket, "model ended turn without further tool calls")
			return nil
		}

		insertedThisTurn := false
		var lastRowMap []models.RowMapEntry

		outcomes := make([]llm.ToolOutcome, 0, len(result.ToolCalls))
		for _, call := range result.ToolCalls {
			payload, _ := dispatcher.Dispatch(ctx, file, toolCallView{call})
			outcomes = append(outcomes, llm.ToolOutcome{ToolUseID: call.ID, Content: payload, IsError: payloadIsError(payload)})

			if call.Name == ToolInsertNewPeriodColumn && !payloadIsError(payload) {
				insertedThisTurn = true
				lastRowMap = decodeRowMap(payload)
			}
		}
		messages = append(messages, llm.ToolResultsParam(outcomes))

		if insertedThisTurn {
			messages = append(messages, newUserTextMessage(buildPostInsertReminder(lastRowMap)))
		}
	}

	agentCtx.AddNote(models.NoteFileSkipped, file.Bucket,
		fmt.Sprintf("%v: stopped after %d iterations", interfaces.ErrIterationBudgetExceeded, maxIterations))
	return nil
}

func payloadIsError(payload string) bool {
	var decoded struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return true
	}
	return !decoded.OK
}

func decodeRowMap(payload string) []models.RowMapEntry {
	var decoded struct {
		Data struct {
			RowMap []models.RowMapEntry `json:"row_map"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil
	}
	return decoded.Data.RowMap
}

func (o *Orchestrator) publish(ctx context.Context, runID, ticker, file, eventType string) {
	if o.status == nil {
		return
	}
	o.status.Publish(ctx, runID, interfaces.StatusEvent{Type: eventType, Ticker: ticker, File: file})
}

// finish builds the terminal callback payload and posts it. Status is
// completed whenever runErr is nil, even if no file was uploaded; it is
// failed whenever runErr is non-nil, even if some files were uploaded.
func (o *Orchestrator) finish(ctx context.Context, job models.TickerJob, agentCtx *models.AgentContext, start time.Time, uploaded []string, runErr error) models.RunResult {
	payload := models.NewCallbackPayload(job)
	payload.DataSourcesUsed = agentCtx.DataSourcesUsed
	if payload.DataSourcesUsed == nil {
		payload.DataSourcesUsed = []string{}
	}
	payload.FilesUpdated = len(uploaded)

	if runErr != nil {
		payload.Status = models.StatusFailed
		payload.ErrorMessage = runErr.Error()
		o.logger.Error().Err(runErr).Str("ticker", job.Ticker).Msg("ticker run failed")
	} else {
		payload.Status = models.StatusCompleted
	}

	if err := o.callback.Post(ctx, job.CallbackURL, payload); err != nil {
		o.logger.Error().Err(err).Str("ticker", job.Ticker).Msg("callback delivery error (already retried)")
	}

	return models.RunResult{
		FilesUpdated:    uploaded,
		DataSourcesUsed: payload.DataSourcesUsed,
		Err:             runErr,
		Duration:        time.Since(start),
	}
}

// anthropicMessageParam is a local alias so the tool loop's message slice
// reads clearly; llm.Provider speaks anthropic-sdk-go's native types
// directly (see internal/services/llm/provider.go).
type anthropicMessageParam = anthropic.MessageParam

func newUserTextMessage(text string) anthropicMessageParam {
	return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
}

// toolCallView adapts an llm.ToolCall to the Dispatcher's ToolCallLike
// contract without tools.go importing the llm package, keeping the
// dependency direction orchestrator -> llm one-way.
type toolCallView struct {
	call llm.ToolCall
}

func (v toolCallView) Name() string              { return v.call.Name }
func (v toolCallView) Input() json.RawMessage    { return v.call.Input }
