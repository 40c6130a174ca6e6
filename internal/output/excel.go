// internal/output/excel.go
package output

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tycho01/parsz/internal/parselet"
)

// DefaultSheetName is the worksheet records are written to.
const DefaultSheetName = "Results"

// DefaultExcelMaxCellLength is the maximum characters in a single Excel cell
const DefaultExcelMaxCellLength = 32767

// ExcelWriter writes one row per record. Nested values are flattened into
// dotted columns (data.places.0.name); new columns are appended as they
// first appear.
type ExcelWriter struct {
	file    *excelize.File
	path    string
	sheet   string
	columns map[string]int
	order   []string
	row     int
	closed  bool
}

// NewExcelWriter creates an Excel writer that saves to path on Close.
func NewExcelWriter(path string) (*ExcelWriter, error) {
	if path == "" {
		return nil, writeErr("excel", fmt.Errorf("excel file path is required"))
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", DefaultSheetName); err != nil {
		f.Close()
		return nil, writeErr("excel", err)
	}

	w := &ExcelWriter{
		file:    f,
		path:    path,
		sheet:   DefaultSheetName,
		columns: make(map[string]int),
		row:     1,
	}
	for _, h := range []string{"id", "url", "extracted_at"} {
		if err := w.column(h); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Write appends rec as a row.
func (w *ExcelWriter) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return writeErr("excel", err)
	}
	w.row++

	cells := []struct {
		col string
		v   any
	}{
		{"id", rec.ID.String()},
		{"url", rec.URL},
		{"extracted_at", rec.ExtractedAt.Format(time.RFC3339)},
	}
	for _, c := range cells {
		if err := w.set(c.col, c.v); err != nil {
			return err
		}
	}

	var err error
	flatten("data", rec.Data, func(col string, v any) {
		if err == nil {
			err = w.set(col, v)
		}
	})
	return err
}

func (w *ExcelWriter) set(col string, v any) error {
	if err := w.column(col); err != nil {
		return err
	}
	if s, ok := v.(string); ok && len(s) > DefaultExcelMaxCellLength {
		v = s[:DefaultExcelMaxCellLength]
	}
	cell, err := excelize.CoordinatesToCellName(w.columns[col], w.row)
	if err != nil {
		return writeErr("excel", err)
	}
	return writeErr("excel", w.file.SetCellValue(w.sheet, cell, v))
}

// column registers col and writes its header the first time it is seen.
func (w *ExcelWriter) column(col string) error {
	if _, ok := w.columns[col]; ok {
		return nil
	}
	w.order = append(w.order, col)
	w.columns[col] = len(w.order)
	cell, err := excelize.CoordinatesToCellName(len(w.order), 1)
	if err != nil {
		return writeErr("excel", err)
	}
	return writeErr("excel", w.file.SetCellValue(w.sheet, cell, col))
}

// Columns returns the header in column order.
func (w *ExcelWriter) Columns() []string {
	return append([]string(nil), w.order...)
}

// Close saves the workbook.
func (w *ExcelWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.order) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(w.order), 1)
		w.file.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
		w.file.AutoFilter(w.sheet, "A1:"+last, nil)
	}
	err := w.file.SaveAs(w.path)
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return writeErr("excel", err)
}

// flatten calls emit for every scalar below v. Empty lists and objects emit
// nothing.
func flatten(prefix string, v any, emit func(col string, v any)) {
	switch t := v.(type) {
	case *parselet.Object:
		if t == nil {
			emit(prefix, nil)
			return
		}
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			flatten(prefix+"."+k, child, emit)
		}
	case []any:
		for i, item := range t {
			flatten(prefix+"."+strconv.Itoa(i), item, emit)
		}
	default:
		emit(prefix, v)
	}
}
