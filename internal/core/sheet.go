package core

// sheet.go reads and writes tables as CSV and XLSX files.
//
// Every cell read from a file becomes pgtype.Text; typing happens later in the
// stage that knows what the column means. The strings below are read as
// missing, the same set spreadsheet tooling treats as "not available".

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"
)

var naValues = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textCell converts a raw file value to a cell.
func textCell(s string) pgtype.Text {
	if naValues[s] {
		return pgtype.Text{}
	}
	return ToPgText(s)
}

// unnamed is the column name given to an empty header cell at position i.
func unnamed(i int) string {
	return "Unnamed: " + strconv.Itoa(i)
}

// headerNames turns raw header cells into column names. Empty cells are
// named "Unnamed: i"; repeated names get ".1", ".2", ... appended.
func headerNames(raw []string) []string {
	cols := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		name := CleanCell(h)
		if name == "" {
			name = unnamed(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		}
		seen[name] = 0
		cols[i] = name
	}
	return cols
}

// buildTable turns raw records (header first) into a table.
func buildTable(records [][]string) *Table {
	if len(records) == 0 {
		return NewTable()
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}

	header := make([]string, width)
	copy(header, records[0])

	t := NewTable(headerNames(header)...)
	t.Rows = make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, width)
		for i := range row {
			if i < len(rec) {
				row[i] = textCell(rec[i])
			} else {
				row[i] = pgtype.Text{}
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ReadCSV reads a comma-separated table. A UTF-8 BOM is skipped and invalid
// UTF-8 bytes are replaced with '?'. Ragged rows are padded with missing cells.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("?"))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file")
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	return buildTable(records), nil
}

// ReadXLSX reads the first sheet of a workbook. Cell values are read raw, so
// dates arrive as Excel serial numbers unless stored as text.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("invalid xlsx: workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty file")
	}
	return buildTable(records), nil
}

// ReadTable reads a table from path, choosing the format by extension.
func ReadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		t, err = ReadXLSX(file)
	default:
		t, err = ReadCSV(file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// WriteCSV writes the header and every row, missing cells as "".
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = FormatCell(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the table to the first sheet of a new workbook. Numbers
// are written as numbers; everything else as its CSV text.
func WriteXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		vals := make([]any, len(t.Columns))
		for i := range vals {
			if i >= len(row) || IsMissing(row[i]) {
				continue
			}
			if num, ok := cellFloat(row[i]); ok {
				vals[i] = num
			} else {
				vals[i] = FormatCell(row[i])
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, vals); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// WriteTable writes a table to path, choosing the format by extension.
// The file is written to a temporary name first and renamed into place.
func WriteTable(path string, t *Table) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		err = WriteXLSX(file, t)
	default:
		err = WriteCSV(file, t)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
