package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetExtractor flattens XLSX lab exports into report-style lines.
// When a sheet's header row names test, value, unit and range columns, each
// row becomes "Test: value unit (range)"; other sheets become
// "Header: cell; Header: cell" lines.
type SpreadsheetExtractor struct{}

const xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (e *SpreadsheetExtractor) MediaTypes() []string { return []string{xlsxMediaType} }

func (e *SpreadsheetExtractor) Extract(ctx context.Context, a Artifact) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		writeSheet(&b, rows)
	}

	if b.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", a.Name, ErrNoText)
	}
	return &Result{Text: b.String(), Method: "native", Pages: len(sheets)}, nil
}

type labColumns struct {
	test, value, unit, ref int
}

func detectLabColumns(header []string) (labColumns, bool) {
	cols := labColumns{test: -1, value: -1, unit: -1, ref: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.test < 0 && (h == "test" || h == "test name" || h == "analyte" || h == "parameter"):
			cols.test = i
		case cols.value < 0 && (h == "value" || h == "result"):
			cols.value = i
		case cols.unit < 0 && (h == "unit" || h == "units"):
			cols.unit = i
		case cols.ref < 0 && (strings.Contains(h, "range") || strings.Contains(h, "reference")):
			cols.ref = i
		}
	}
	return cols, cols.test >= 0 && cols.value >= 0
}

func writeSheet(b *strings.Builder, rows [][]string) {
	header := rows[0]
	if cols, ok := detectLabColumns(header); ok {
		for _, row := range rows[1:] {
			test, value := cell(row, cols.test), cell(row, cols.value)
			if test == "" || value == "" {
				continue
			}
			line := test + ": " + value
			if unit := cell(row, cols.unit); unit != "" {
				line += " " + unit
			}
			if ref := cell(row, cols.ref); ref != "" {
				line += " (" + ref + ")"
			}
			b.WriteString(line + "\n")
		}
		return
	}

	for _, row := range rows[1:] {
		var parts []string
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if h := cell(header, i); h != "" {
				parts = append(parts, h+": "+v)
			} else {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			b.WriteString(strings.Join(parts, "; ") + "\n")
		}
	}
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
