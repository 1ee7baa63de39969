// Package interfaces defines the narrow contracts between the agent
// orchestrator and its collaborators, mirroring the component boundaries of
// spec.md §4.
package interfaces

import (
	"context"

	"github.com/kestrelfin/ledgersync/internal/models"
)

// ObjectStore is the stateless object-store client (spec.md §4.1).
type ObjectStore interface {
	// Download fetches bucket/key via the public-read path.
	// Returns ErrResourceMissing if the object does not exist.
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	// Upload writes bucket/key via the authenticated path.
	Upload(ctx context.Context, bucket, key string, data []byte) error
}

// CellValue is the sentinel-aware read of one spreadsheet cell.
type CellValue struct {
	Raw     string
	IsEmpty bool // distinguishes "blank" from a zero value
}

// SheetStructure is the read-only inspection result for one sheet
// (spec.md §4.2, "Read structure").
type SheetStructure struct {
	Name       string
	RowCount   int
	ColCount   int
	Row1       []CellValue // period end dates
	Row2       []CellValue // period labels
	ColumnA    []CellValue // row labels
	Grid       [][]CellValue
}

// SpreadsheetMutator owns one open workbook and exposes the narrow mutation
// contract of spec.md §4.2. One instance per downloaded file.
type SpreadsheetMutator interface {
	// Sheets lists the sheet names in the workbook.
	Sheets() []string
	// ReadStructure returns the per-sheet inspection grid.
	ReadStructure(sheet string) (*SheetStructure, error)
	// IsEmpty reports whether cellRef held no value at load time or since.
	IsEmpty(sheet, cellRef string) (bool, error)
	// UpdateCell writes value to cellRef. Returns ErrCellConflict if the
	// cell was non-empty when the workbook was opened.
	UpdateCell(sheet, cellRef, value string) error
	// InsertLeftmostPeriodColumn shifts data right by one column, writes
	// the new headers, and returns the row map of cells the caller must
	// fill. Returns ErrAlreadyInserted on a second call for the same sheet.
	InsertLeftmostPeriodColumn(sheet, dateHeader, periodHeader string) ([]models.RowMapEntry, error)
	// Save serializes the workbook to bytes for upload.
	Save() ([]byte, error)
	// Close releases the underlying workbook.
	Close() error
}

// SpreadsheetLoader opens a SpreadsheetMutator from downloaded bytes.
type SpreadsheetLoader interface {
	Load(data []byte) (SpreadsheetMutator, error)
}

// BrowseParams selects the financial-data page to capture
// (spec.md §4.3, "Navigate to financials").
type BrowseParams struct {
	Ticker    string
	Statement models.StatementType
	Period    models.Period
	DataType  string // "as-reported" only, per spec.md §4.5.1
}

// BrowserSession is the long-lived headless-browser wrapper of spec.md §4.3.
// Owned exclusively by one AgentContext; never shared across tickers.
type BrowserSession interface {
	// EnsureLoggedIn logs in once, retrying twice before returning
	// ErrLoginFailed.
	EnsureLoggedIn(ctx context.Context) error
	// NavigateToFinancials builds the statement URL and waits for the
	// data table.
	NavigateToFinancials(ctx context.Context, params BrowseParams) error
	// SelectRawUnits opens the units dropdown and chooses "Raw".
	SelectRawUnits(ctx context.Context) error
	// Screenshot captures and caches the latest full-page screenshot.
	Screenshot(ctx context.Context) ([]byte, error)
	// LatestScreenshot returns the most recently captured screenshot bytes.
	LatestScreenshot() []byte
	// Close tears down the browser. Safe to call multiple times.
	Close() error
}

// VisionExtractor sends the session's latest screenshot to a vision model
// with a fixed, infrastructure-level prompt (spec.md §4.4).
type VisionExtractor interface {
	ExtractTable(ctx context.Context, screenshot []byte) (markdown string, dataSource string, err error)
}

// SearchResult is the web-search client's response shape (spec.md §4.4).
type SearchResult struct {
	AnswerText string
	Citations  []string
}

// WebSearchClient issues a textual query to a financially-grounded search
// API (spec.md §4.4).
type WebSearchClient interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// CallbackPoster delivers the terminal status callback (spec.md §4.5.6).
type CallbackPoster interface {
	Post(ctx context.Context, url string, payload models.CallbackPayload) error
}

// StatusBroadcaster streams intermediate agent activity to an optional
// live subscriber; a no-op implementation is always safe to use.
type StatusBroadcaster interface {
	Publish(ctx context.Context, runID string, event StatusEvent)
}

// StatusEvent is one live status update for a run. The orchestrator
// publishes file-level types: file_started, file_skipped, file_completed.
type StatusEvent struct {
	Type    string `json:"type"`
	Ticker  string `json:"ticker"`
	File    string `json:"file,omitempty"`
	Content string `json:"content"`
}
