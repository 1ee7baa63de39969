package models

import (
	"sync"
	"time"
)

// NoteCategory tags a scratchpad entry so later file prompts can summarize
// by kind (spec.md §3, "Agent context").
type NoteCategory string

const (
	NoteDataGathered  NoteCategory = "data_gathered"
	NoteEmptyCells    NoteCategory = "empty_cells"
	NoteValidation    NoteCategory = "validation"
	NoteDecision      NoteCategory = "decision"
	NoteError         NoteCategory = "error"
	NoteFileSkipped   NoteCategory = "file_skipped"
	NoteFileCompleted NoteCategory = "file_completed"
)

// Note is one append-only scratchpad entry.
type Note struct {
	Category  NoteCategory `json:"category"`
	Text      string       `json:"text"`
	File      string       `json:"file,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RowMapEntry identifies one row a newly-inserted column expects a value
// for (spec.md §3, "Row map").
type RowMapEntry struct {
	RowNumber     int    `json:"row_number"`
	Label         string `json:"label"`
	CellReference string `json:"cell_reference"` // e.g. "B7"
}

// AgentContext is the mutable per-ticker record carried through the
// orchestrator's control flow (spec.md §3, "Agent context").
//
// The browser session and the open workbooks are not held here:
// Orchestrator.Run owns them and closes them when it returns.
type AgentContext struct {
	mu sync.Mutex

	Job          TickerJob
	WorkDir      string
	CurrentFile  string
	FilesWritten map[string]bool // bucket -> at least one cell written
	CellsWritten map[string]int  // bucket -> cells_written_count
	ColumnInserted map[string]bool // bucket -> insert_new_period_column already called this run

	DetectedQuarter string // set by the first quarterly insertion's period_header
	HasDetectedQuarter bool

	Notes          []Note
	DataSourcesUsed []string
}

// NewAgentContext creates an empty context for one ticker run.
func NewAgentContext(job TickerJob, workDir string) *AgentContext {
	return &AgentContext{
		Job:            job,
		WorkDir:        workDir,
		FilesWritten:   make(map[string]bool),
		CellsWritten:   make(map[string]int),
		ColumnInserted: make(map[string]bool),
	}
}

// AddNote appends a scratchpad entry. Safe for concurrent use, though within
// one ticker the orchestrator is single-threaded (spec.md §5).
func (c *AgentContext) AddNote(category NoteCategory, file, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notes = append(c.Notes, Note{Category: category, Text: text, File: file, Timestamp: time.Now()})
}

// AddDataSource records a data-source identifier surfaced by the vision or
// web-search clients, deduplicated.
func (c *AgentContext) AddDataSource(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.DataSourcesUsed {
		if s == source {
			return
		}
	}
	c.DataSourcesUsed = append(c.DataSourcesUsed, source)
}

// RecordCellWritten increments the per-file write counter used by the
// upload-gate invariant (spec.md §8, property 2).
func (c *AgentContext) RecordCellWritten(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CellsWritten[bucket]++
	c.FilesWritten[bucket] = true
}

// CellsWrittenCount returns how many cells were written to bucket so far.
func (c *AgentContext) CellsWrittenCount(bucket string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CellsWritten[bucket]
}

// RecordColumnInsertion sets the idempotency guard and, the first time this
// happens for a quarterly file, latches the run's detected quarter
// (spec.md §4.5.4, the Q4 gate).
func (c *AgentContext) RecordColumnInsertion(file TargetFile, periodHeader string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ColumnInserted[file.Bucket] = true
	if file.Period == PeriodQuarterly && !c.HasDetectedQuarter {
		c.DetectedQuarter = periodHeader
		c.HasDetectedQuarter = true
	}
}

// ColumnAlreadyInserted reports whether insert_new_period_column already ran
// for this bucket during the current run (the idempotency guard).
func (c *AgentContext) ColumnAlreadyInserted(bucket string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ColumnInserted[bucket]
}

// SummarizeNotes renders the scratchpad for inclusion in the next file's
// system prompt (spec.md §4.5.2).
func (c *AgentContext) SummarizeNotes() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Notes) == 0 {
		return "(no notes yet)"
	}
	out := ""
	for _, n := range c.Notes {
		out += "- [" + string(n.Category) + "] "
		if n.File != "" {
			out += n.File + ": "
		}
		out += n.Text + "\n"
	}
	return out
}
