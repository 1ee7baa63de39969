package agent

import (
	"fmt"
	"strings"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// workflowRules is the fixed workflow contract from spec.md §4.5.3,
// included verbatim in every per-file system prompt.
const workflowRules = `Workflow rules for this file:
- Never overwrite a non-empty cell. You may only populate empty cells, or cells in a newly inserted column.
- Every value you write must be a fully written absolute integer (e.g. 394328000000, never 394.3 or "394.3B").
- Match row labels carefully against the extracted markdown table. If you cannot make a confident match, leave the cell blank.
- When inserting a new column, set period_header from the leftmost data-column header of the extracted markdown table. date_header is ignored; the system supplies it.
- The vision-extracted markdown table is your primary source. Use web_search only to validate a figure or fill a gap it left blank.
- Call save_all_files once you believe the file is complete; it is a sentinel only, the real save happens automatically after you stop calling tools.`

// buildSystemPrompt assembles the per-file system message (spec.md §4.5.2):
// file identifier, ticker, dates, browse params, scratchpad summary, and
// the workflow rules.
func buildSystemPrompt(job models.TickerJob, file models.TargetFile, agentCtx *models.AgentContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are updating the %s statement spreadsheet for %s.\n", file.Statement, job.Ticker)
	fmt.Fprintf(&b, "File: %s (period=%s, data_type=%s)\n", file.Bucket, file.Period, file.DataType)
	fmt.Fprintf(&b, "Report date: %s. Fiscal period end: %s. Timing: %s.\n",
		job.ReportDate.Format("2006-01-02"), job.EffectiveFiscalPeriodEnd().Format("2006-01-02"), job.Timing)
	b.WriteString("\nNotes from files already processed in this run:\n")
	b.WriteString(agentCtx.SummarizeNotes())
	b.WriteString("\n")
	b.WriteString(workflowRules)
	return b.String()
}

// buildFirstUserMessage assembles the first user turn: the full grid of the
// current file, with each empty cell marked inline as "<blank>"; no
// separate list of empty cell references is included. When a
// column insertion is anticipated (i.e. none has happened yet this file),
// the empty-cells reminder is left broad; callers restrict it to column B
// only once an insertion has occurred via buildPostInsertReminder.
func buildFirstUserMessage(structures map[string]*interfaces.SheetStructure) string {
	var b strings.Builder
	b.WriteString("Current workbook contents:\n\n")
	for sheet, s := range structures {
		fmt.Fprintf(&b, "Sheet %q (%d rows x %d cols):\n", sheet, s.RowCount, s.ColCount)
		b.WriteString(renderGrid(s))
		b.WriteString("\n")
	}
	b.WriteString("\nEmpty cells (reported as distinct from zero values) are listed per row above as \"<blank>\". ")
	b.WriteString("Use analyze_excel again any time you need a fresh read after writing.\n")
	return b.String()
}

// buildPostInsertReminder restricts the empty-cells reminder to column B
// only and tells the model to ignore historical empty cells, as spec.md
// §4.5.2 requires once a column is about to be (or has been) inserted.
func buildPostInsertReminder(rowMap []models.RowMapEntry) string {
	var b strings.Builder
	b.WriteString("A new leftmost period column was inserted. Ignore all historical empty cells in older columns; ")
	b.WriteString("only the following column-B cells are expected to be filled:\n")
	for _, entry := range rowMap {
		fmt.Fprintf(&b, "- row %d (%q): %s\n", entry.RowNumber, entry.Label, entry.CellReference)
	}
	return b.String()
}

func renderGrid(s *interfaces.SheetStructure) string {
	var b strings.Builder
	for rowIdx, row := range s.Grid {
		fmt.Fprintf(&b, "row %d:", rowIdx+1)
		for _, cell := range row {
			if cell.IsEmpty {
				b.WriteString(" <blank>")
			} else {
				b.WriteString(" " + cell.Raw)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
