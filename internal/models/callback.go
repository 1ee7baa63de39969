package models

import "time"

// CallbackStatus is the terminal state reported to the dispatcher.
type CallbackStatus string

const (
	StatusCompleted CallbackStatus = "completed"
	StatusFailed    CallbackStatus = "failed"
)

// CallbackPayload is posted to TickerJob.CallbackURL on terminal state
// (spec.md §4.5.6 / §6 "Egress - status callback").
type CallbackPayload struct {
	Ticker         string         `json:"ticker"`
	ReportDate     string         `json:"report_date"` // RFC3339 date, echoes the invocation verbatim
	Timing         Timing         `json:"timing"`
	Status         CallbackStatus `json:"status"`
	FilesUpdated   int            `json:"files_updated"`
	DataSourcesUsed []string      `json:"data_sources_used"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// NewCallbackPayload builds the echo fields from the originating job.
func NewCallbackPayload(job TickerJob) CallbackPayload {
	return CallbackPayload{
		Ticker:          job.Ticker,
		ReportDate:      job.ReportDate.Format("2006-01-02"),
		Timing:          job.Timing,
		DataSourcesUsed: []string{},
	}
}

// RunResult is the internal summary the orchestrator accumulates before
// rendering it into a CallbackPayload.
type RunResult struct {
	FilesUpdated    []string
	DataSourcesUsed []string
	Err             error
	Duration        time.Duration
}
