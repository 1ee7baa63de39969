// Package models holds the data model shared across ledgersync's services:
// the ticker job envelope, target-file identifiers, the per-run agent
// context, and the outbound callback payload.
package models

import "time"

// Timing indicates whether an earnings release happened before market open
// or after market close.
type Timing string

const (
	TimingPremarket Timing = "premarket"
	TimingAfterhours Timing = "afterhours"
)

// TickerJob is one unit of work handed to the orchestrator: a ticker symbol,
// the earnings release date, the fiscal period it covers, and where to post
// the terminal result.
//
// Invariant: (Ticker, ReportDate, Timing) is the external identity and must
// be echoed verbatim in the callback.
type TickerJob struct {
	Ticker          string    `json:"ticker" validate:"required,uppercase,max=10"`
	ReportDate      time.Time `json:"report_date" validate:"required"`
	FiscalPeriodEnd time.Time `json:"fiscal_period_end"` // zero value means "absent"; ReportDate substitutes
	Timing          Timing    `json:"timing" validate:"required,oneof=premarket afterhours"`
	CallbackURL     string    `json:"callback_url" validate:"required,url"`
}

// EffectiveFiscalPeriodEnd returns FiscalPeriodEnd if set, else ReportDate,
// per spec.md's "date-header override" rule.
func (j TickerJob) EffectiveFiscalPeriodEnd() time.Time {
	if j.FiscalPeriodEnd.IsZero() {
		return j.ReportDate
	}
	return j.FiscalPeriodEnd
}

// Period distinguishes quarterly from annual statement files.
type Period string

const (
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
)

// StatementType is the financial statement a target file represents.
type StatementType string

const (
	StatementIncome   StatementType = "income"
	StatementBalance  StatementType = "balance"
	StatementCashflow StatementType = "cashflow"
)

// TargetFile identifies one of the six spreadsheet templates and the browse
// parameters needed to refresh it.
type TargetFile struct {
	Bucket    string        // e.g. "financials-quarterly-income"
	Statement StatementType
	Period    Period
	DataType  string // browser tool's data_type enum; always "as-reported" per spec.md §4.5.1
}

// FileOrder is the fixed processing order from spec.md §3: quarterly files
// first (income, balance, cashflow), then annual files in the same order.
// Annual files are gated on the detected quarter (see shouldSkipAnnual in
// internal/services/agent).
var FileOrder = []TargetFile{
	{Bucket: "financials-quarterly-income", Statement: StatementIncome, Period: PeriodQuarterly, DataType: "as-reported"},
	{Bucket: "financials-quarterly-balance", Statement: StatementBalance, Period: PeriodQuarterly, DataType: "as-reported"},
	{Bucket: "financials-quarterly-cashflow", Statement: StatementCashflow, Period: PeriodQuarterly, DataType: "as-reported"},
	{Bucket: "financials-annual-income", Statement: StatementIncome, Period: PeriodAnnual, DataType: "as-reported"},
	{Bucket: "financials-annual-balance", Statement: StatementBalance, Period: PeriodAnnual, DataType: "as-reported"},
	{Bucket: "financials-annual-cashflow", Statement: StatementCashflow, Period: PeriodAnnual, DataType: "as-reported"},
}

// ObjectKey returns the download/upload key for this ticker's file:
// "{TICKER}.xlsx", uppercased per spec.md §6.
func (f TargetFile) ObjectKey(ticker string) string {
	return upper(ticker) + ".xlsx"
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
