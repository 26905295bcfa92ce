package core

// normalize.go repairs the supplier CoA workbook into one typed row per process event.
//
// The sheet carries its real column labels split across two rows, wrapped in
// metadata and unit rows, next to a wide block of unused columns. Every fixed
// position involved comes from config.RawLayout.

import (
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/LotTrace/internal/config"
)

// NormalizeStats counts the rows removed by each filter, in filter order.
type NormalizeStats struct {
	Input       int
	NoDate      int
	NoMelt      int
	NoMeltNoLot int
	Empty       int
	Output      int
}

// NormalizeRawSheet repairs a raw sheet read with its first row as header.
// It returns the clean table and the supplier name read from the metadata block.
// Any position the layout names that is absent from the sheet is an ErrLayout.
func NormalizeRawSheet(raw *Table, layout config.RawLayout) (*Table, string, NormalizeStats, error) {
	var stats NormalizeStats
	if err := layout.Validate(); err != nil {
		return nil, "", stats, fmt.Errorf("%w: %v", ErrLayout, err)
	}

	if layout.SupplierRow >= raw.Len() || layout.SupplierCol >= len(raw.Columns) {
		return nil, "", stats, fmt.Errorf("%w: supplier cell (%d,%d) outside %dx%d sheet",
			ErrLayout, layout.SupplierRow, layout.SupplierCol, raw.Len(), len(raw.Columns))
	}
	supplier := FormatCell(raw.Rows[layout.SupplierRow][layout.SupplierCol])

	if !raw.Has(layout.DropColumn) {
		return nil, "", stats, fmt.Errorf("%w: %q", ErrMissingColumn, layout.DropColumn)
	}
	t := raw.Drop(layout.DropColumn)

	if layout.UnnamedDropStart > len(t.Columns) {
		return nil, "", stats, fmt.Errorf("%w: unnamed drop range starts at %d, sheet has %d columns",
			ErrLayout, layout.UnnamedDropStart, len(t.Columns))
	}
	end := min(layout.UnnamedDropEnd, len(t.Columns))
	t = t.DropAt(positions(layout.UnnamedDropStart, end)...)

	for _, r := range append(slices.Clone(layout.MetadataRows), layout.HeaderRow, layout.SubHeaderRow) {
		if r >= raw.Len() {
			return nil, "", stats, fmt.Errorf("%w: row %d outside sheet of %d rows", ErrLayout, r, raw.Len())
		}
	}

	// Row labels survive the drops, so header rows are addressed by their
	// original index.
	labels := make([]int, 0, t.Len())
	kept := make([][]any, 0, t.Len())
	for i, row := range t.Rows {
		if slices.Contains(layout.MetadataRows, i) {
			continue
		}
		labels = append(labels, i)
		kept = append(kept, row)
	}
	t.Rows = kept

	hdr := slices.Index(labels, layout.HeaderRow)
	sub := slices.Index(labels, layout.SubHeaderRow)

	header := t.Rows[hdr]
	for i := layout.OverlayStart; i < len(header); i++ {
		if v := t.Rows[sub][i]; !IsMissing(v) {
			header[i] = v
		}
	}

	t.Rows = slices.Delete(t.Rows, sub, sub+1)
	if hdr > sub {
		hdr--
	}

	if layout.BlankColumn >= len(t.Columns) {
		return nil, "", stats, fmt.Errorf("%w: blank column %d outside %d columns",
			ErrLayout, layout.BlankColumn, len(t.Columns))
	}
	t = t.DropAt(layout.BlankColumn)
	header = t.Rows[hdr]

	for i := layout.MinMaxFirst; i <= layout.MinMaxLast; i += 2 {
		cur, next := t.Index(unnamed(i)), t.Index(unnamed(i+1))
		if cur < 0 || next < 0 {
			return nil, "", stats, fmt.Errorf("%w: %q / %q", ErrMissingColumn, unnamed(i), unnamed(i+1))
		}
		base := FormatCell(header[cur])
		header[cur] = pgtype.Text{String: base + "-min", Valid: true}
		header[next] = pgtype.Text{String: base + "-max", Valid: true}
	}

	names := make([]string, len(header))
	for i, v := range header {
		names[i] = FormatCell(v)
	}
	t.Columns = headerNames(names)
	t.Rows = slices.Delete(t.Rows, hdr, hdr+1)

	clean, stats, err := NormalizeClean(t, layout)
	if err != nil {
		return nil, "", stats, err
	}
	return clean, supplier, stats, nil
}

// NormalizeClean types and filters an already repaired table: Date becomes a
// calendar date and the melt column a number, then rows are filtered in order:
//
//  1. Date missing or unparsable
//  2. melt id missing or not numeric
//  3. melt id and lot code both missing
//  4. every cell missing
//
// Applied to its own output it removes nothing.
func NormalizeClean(t *Table, layout config.RawLayout) (*Table, NormalizeStats, error) {
	stats := NormalizeStats{Input: t.Len()}

	idx, err := t.Require(layout.DateColumn, layout.MeltColumn, layout.LotColumn)
	if err != nil {
		return nil, stats, err
	}
	date, melt, lot := idx[0], idx[1], idx[2]

	out := t.Clone()
	for _, row := range out.Rows {
		row[date] = CoerceDate(row[date])
		row[melt] = CoerceFloat(row[melt])
	}

	filters := []struct {
		count *int
		drop  func(row []any) bool
	}{
		{&stats.NoDate, func(row []any) bool { return IsMissing(row[date]) }},
		{&stats.NoMelt, func(row []any) bool { return IsMissing(row[melt]) }},
		{&stats.NoMeltNoLot, func(row []any) bool { return IsMissing(row[melt]) && IsMissing(row[lot]) }},
		{&stats.Empty, func(row []any) bool { return !slices.ContainsFunc(row, func(v any) bool { return !IsMissing(v) }) }},
	}
	for _, f := range filters {
		before := out.Len()
		out = out.Filter(func(row []any) bool { return !f.drop(row) })
		*f.count = before - out.Len()
	}

	stats.Output = out.Len()
	return out, stats, nil
}

// positions returns start, start+1, ..., end-1.
func positions(start, end int) []int {
	if end <= start {
		return nil
	}
	p := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		p = append(p, i)
	}
	return p
}
