package spreadsheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
)

// buildWorkbook creates a minimal three-period workbook matching
// spec.md §3's "Workbook grid": row 1 dates, row 2 labels, column A line
// items, columns B/C/D periods newest-to-oldest.
func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := "Sheet1"

	rows := [][]string{
		{"", "2025-10-31", "2025-07-31", "2025-04-30"},
		{"", "Q3 2026", "Q2 2026", "Q1 2026"},
		{"Revenue", "1000", "900", "800"},
		{"Total Assets", "5000", "4800", "4600"},
		{"Notes Payable", "", "", ""}, // historically blank row
	}
	for r, row := range rows {
		for c, val := range row {
			ref, _ := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, f.SetCellValue(sheet, ref, val))
		}
	}

	var buf []byte
	w := newBufferWriter(&buf)
	require.NoError(t, f.Write(w))
	return buf
}

// newBufferWriter adapts a []byte pointer to io.Writer without importing
// bytes.Buffer twice across the test file.
func newBufferWriter(buf *[]byte) *bufWriter { return &bufWriter{buf: buf} }

type bufWriter struct{ buf *[]byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func TestNoOverwriteInvariant(t *testing.T) {
	data := buildWorkbook(t)
	loader := NewLoader()
	m, err := loader.Load(data)
	require.NoError(t, err)
	defer m.Close()

	// B3 (Revenue, newest period) already has a value -> must be rejected.
	err = m.UpdateCell("Sheet1", "B3", "1234")
	require.Error(t, err)
	require.True(t, errors.Is(err, interfaces.ErrCellConflict))

	// B5 (Notes Payable) was blank -> may be written.
	require.NoError(t, m.UpdateCell("Sheet1", "B5", "42"))

	// A second write to the same cell must now also be rejected.
	err = m.UpdateCell("Sheet1", "B5", "99")
	require.Error(t, err)
	require.True(t, errors.Is(err, interfaces.ErrCellConflict))
}

func TestInsertLeftmostPeriodColumn(t *testing.T) {
	data := buildWorkbook(t)
	loader := NewLoader()
	m, err := loader.Load(data)
	require.NoError(t, err)
	defer m.Close()

	rowMap, err := m.InsertLeftmostPeriodColumn("Sheet1", "2026-01-31", "Q4 2026")
	require.NoError(t, err)

	structure, err := m.ReadStructure("Sheet1")
	require.NoError(t, err)

	require.Equal(t, "2026-01-31", structure.Row1[1].Raw) // B1
	require.Equal(t, "Q4 2026", structure.Row2[1].Raw)    // B2

	// What was B3 ("1000") must now be at C3.
	val, err := cellValue(m, "Sheet1", "C3")
	require.NoError(t, err)
	require.Equal(t, "1000", val)

	// Row map covers every row whose shifted column C is non-empty:
	// Revenue (row 3) and Total Assets (row 4), not the blank Notes Payable row.
	require.Len(t, rowMap, 2)
	require.Equal(t, "Revenue", rowMap[0].Label)
	require.Equal(t, "B3", rowMap[0].CellReference)
	require.Equal(t, "Total Assets", rowMap[1].Label)
	require.Equal(t, "B4", rowMap[1].CellReference)
}

func TestIdempotentReinsertionRefusal(t *testing.T) {
	data := buildWorkbook(t)
	loader := NewLoader()
	m, err := loader.Load(data)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.InsertLeftmostPeriodColumn("Sheet1", "2026-01-31", "Q4 2026")
	require.NoError(t, err)

	_, err = m.InsertLeftmostPeriodColumn("Sheet1", "2026-01-31", "Q4 2026")
	require.Error(t, err)
	require.True(t, errors.Is(err, interfaces.ErrAlreadyInserted))
}

func cellValue(m interfaces.SpreadsheetMutator, sheet, ref string) (string, error) {
	structure, err := m.ReadStructure(sheet)
	if err != nil {
		return "", err
	}
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return "", err
	}
	if row-1 >= len(structure.Grid) || col-1 >= len(structure.Grid[row-1]) {
		return "", nil
	}
	return structure.Grid[row-1][col-1].Raw, nil
}
