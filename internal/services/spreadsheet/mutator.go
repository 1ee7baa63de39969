// Package spreadsheet implements the mutator of spec.md §4.2: it owns one
// open workbook, exposes read-only inspection, single-cell updates, and the
// structural "insert new leftmost data column" operation, all while
// preserving styled formatting. Built on github.com/xuri/excelize/v2, the
// one dependency in this repository with no home in the retrieval pack
// (see DESIGN.md) since no example repo manipulates spreadsheet XML.
package spreadsheet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// Loader opens workbooks from downloaded bytes.
type Loader struct{}

// NewLoader creates a spreadsheet loader.
func NewLoader() *Loader { return &Loader{} }

var _ interfaces.SpreadsheetLoader = (*Loader)(nil)

// Load parses data as an xlsx workbook and captures the non-empty-cell
// baseline used to enforce the no-overwrite invariant.
func (l *Loader) Load(data []byte) (interfaces.SpreadsheetMutator, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}

	m := &Mutator{
		file:     f,
		baseline: make(map[string]map[string]bool),
		inserted: make(map[string]bool),
	}
	for _, sheet := range f.GetSheetList() {
		m.baseline[sheet] = captureBaseline(f, sheet)
	}
	return m, nil
}

// Mutator is one open workbook. Not safe for concurrent use; the
// orchestrator holds at most one goroutine per file at a time
// (spec.md §5).
type Mutator struct {
	file     *excelize.File
	baseline map[string]map[string]bool // sheet -> cellRef -> had a value at load (or since)
	inserted map[string]bool            // sheet -> insertion already performed this run
}

var _ interfaces.SpreadsheetMutator = (*Mutator)(nil)

func captureBaseline(f *excelize.File, sheet string) map[string]bool {
	baseline := make(map[string]bool)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return baseline
	}
	for rowIdx, row := range rows {
		for colIdx, val := range row {
			if strings.TrimSpace(val) == "" {
				continue
			}
			colName, err := excelize.ColumnNumberToName(colIdx + 1)
			if err != nil {
				continue
			}
			baseline[fmt.Sprintf("%s%d", colName, rowIdx+1)] = true
		}
	}
	return baseline
}

// Sheets lists the workbook's sheet names.
func (m *Mutator) Sheets() []string {
	return m.file.GetSheetList()
}

// ReadStructure returns the per-sheet inspection grid, reporting empty
// cells as a distinct sentinel so callers can tell "blank" from "zero".
func (m *Mutator) ReadStructure(sheet string) (*interfaces.SheetStructure, error) {
	rows, err := m.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	structure := &interfaces.SheetStructure{Name: sheet, RowCount: len(rows)}
	for _, row := range rows {
		if len(row) > structure.ColCount {
			structure.ColCount = len(row)
		}
	}

	toCell := func(v string) interfaces.CellValue {
		return interfaces.CellValue{Raw: v, IsEmpty: strings.TrimSpace(v) == ""}
	}

	if len(rows) > 0 {
		for _, v := range rows[0] {
			structure.Row1 = append(structure.Row1, toCell(v))
		}
	}
	if len(rows) > 1 {
		for _, v := range rows[1] {
			structure.Row2 = append(structure.Row2, toCell(v))
		}
	}
	for _, row := range rows {
		if len(row) > 0 {
			structure.ColumnA = append(structure.ColumnA, toCell(row[0]))
		} else {
			structure.ColumnA = append(structure.ColumnA, toCell(""))
		}
	}

	structure.Grid = make([][]interfaces.CellValue, len(rows))
	for i, row := range rows {
		gridRow := make([]interfaces.CellValue, structure.ColCount)
		for j := 0; j < structure.ColCount; j++ {
			if j < len(row) {
				gridRow[j] = toCell(row[j])
			} else {
				gridRow[j] = toCell("")
			}
		}
		structure.Grid[i] = gridRow
	}

	return structure, nil
}

// IsEmpty reports whether cellRef has never held a value: neither at load
// time nor from a write the mutator itself performed since.
func (m *Mutator) IsEmpty(sheet, cellRef string) (bool, error) {
	if _, _, err := excelize.CellNameToCoordinates(cellRef); err != nil {
		return false, fmt.Errorf("%w: %s", interfaces.ErrInvalidReference, cellRef)
	}
	return !m.baseline[sheet][cellRef], nil
}

// UpdateCell writes value to cellRef, refusing to overwrite a cell that was
// non-empty at load (spec.md §4.2 invariant). A write to column B clones
// the format from the same row's column C first.
func (m *Mutator) UpdateCell(sheet, cellRef, value string) error {
	col, _, err := excelize.CellNameToCoordinates(cellRef)
	if err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidReference, cellRef)
	}

	empty, err := m.IsEmpty(sheet, cellRef)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %s!%s", interfaces.ErrCellConflict, sheet, cellRef)
	}

	if col == 2 { // column B
		if err := m.cloneRowStyle(sheet, cellRef, "C"); err != nil {
			return err
		}
	}

	if err := m.file.SetCellValue(sheet, cellRef, value); err != nil {
		return fmt.Errorf("writing %s!%s: %w", sheet, cellRef, err)
	}
	m.markNonEmpty(sheet, cellRef)
	return nil
}

// InsertLeftmostPeriodColumn shifts existing data right by one column,
// writes the new B1/B2 headers, clones the shifted C1/C2 style back onto
// them, and returns the row map of cells the caller must fill
// (spec.md §4.2).
func (m *Mutator) InsertLeftmostPeriodColumn(sheet, dateHeader, periodHeader string) ([]models.RowMapEntry, error) {
	if m.inserted[sheet] {
		return nil, fmt.Errorf("%w: sheet %q", interfaces.ErrAlreadyInserted, sheet)
	}

	rows, err := m.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	// Snapshot pre-shift column B: after the shift it lands at column C,
	// and its non-empty rows are exactly the row map this call must return.
	type snapshot struct{ value string }
	oldB := make(map[int]snapshot, len(rows))
	for rowIdx := range rows {
		ref := fmt.Sprintf("B%d", rowIdx+1)
		val, _ := m.file.GetCellValue(sheet, ref)
		oldB[rowIdx+1] = snapshot{value: val}
	}

	if err := m.file.InsertCols(sheet, "B", 1); err != nil {
		return nil, fmt.Errorf("inserting column on sheet %q: %w", sheet, err)
	}

	// The shift moved what used to be column B (and beyond) one column
	// right; re-key the baseline so the no-overwrite invariant keeps
	// protecting the same cells under their new addresses.
	m.baseline[sheet] = shiftBaselineRight(m.baseline[sheet])

	// Clone the now-shifted C1/C2 style onto the new B1/B2 so the new
	// headers look identical to the previous ones.
	for _, row := range []int{1, 2} {
		cRef := fmt.Sprintf("C%d", row)
		bRef := fmt.Sprintf("B%d", row)
		styleID, err := m.file.GetCellStyle(sheet, cRef)
		if err != nil {
			return nil, fmt.Errorf("reading style %s!%s: %w", sheet, cRef, err)
		}
		if err := m.file.SetCellStyle(sheet, bRef, bRef, styleID); err != nil {
			return nil, fmt.Errorf("cloning header style onto %s!%s: %w", sheet, bRef, err)
		}
	}

	if err := m.file.SetCellValue(sheet, "B1", dateHeader); err != nil {
		return nil, fmt.Errorf("writing B1: %w", err)
	}
	if err := m.file.SetCellValue(sheet, "B2", periodHeader); err != nil {
		return nil, fmt.Errorf("writing B2: %w", err)
	}
	m.markNonEmpty(sheet, "B1")
	m.markNonEmpty(sheet, "B2")

	var rowMap []models.RowMapEntry
	for rowIdx := 3; rowIdx <= len(rows); rowIdx++ {
		if strings.TrimSpace(oldB[rowIdx].value) == "" {
			continue
		}
		label, _ := m.file.GetCellValue(sheet, fmt.Sprintf("A%d", rowIdx))
		rowMap = append(rowMap, models.RowMapEntry{
			RowNumber:     rowIdx,
			Label:         label,
			CellReference: fmt.Sprintf("B%d", rowIdx),
		})
	}

	m.inserted[sheet] = true
	return rowMap, nil
}

// Save serializes the workbook to bytes for upload.
func (m *Mutator) Save() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.file.Write(&buf); err != nil {
		return nil, fmt.Errorf("serializing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the underlying workbook. Safe to call on all exit paths.
func (m *Mutator) Close() error {
	if m.file == nil {
		return nil
	}
	return m.file.Close()
}

func (m *Mutator) cloneRowStyle(sheet, destRef, srcCol string) error {
	_, row, err := excelize.CellNameToCoordinates(destRef)
	if err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidReference, destRef)
	}
	srcRef := fmt.Sprintf("%s%d", srcCol, row)
	styleID, err := m.file.GetCellStyle(sheet, srcRef)
	if err != nil {
		return fmt.Errorf("reading style %s!%s: %w", sheet, srcRef, err)
	}
	if err := m.file.SetCellStyle(sheet, destRef, destRef, styleID); err != nil {
		return fmt.Errorf("cloning style onto %s!%s: %w", sheet, destRef, err)
	}
	return nil
}

func (m *Mutator) markNonEmpty(sheet, ref string) {
	if m.baseline[sheet] == nil {
		m.baseline[sheet] = make(map[string]bool)
	}
	m.baseline[sheet][ref] = true
}

func shiftBaselineRight(old map[string]bool) map[string]bool {
	shifted := make(map[string]bool, len(old))
	for ref, v := range old {
		col, row, err := excelize.CellNameToCoordinates(ref)
		if err != nil {
			continue
		}
		if col >= 2 {
			col++
		}
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			continue
		}
		shifted[fmt.Sprintf("%s%d", name, row)] = v
	}
	return shifted
}
