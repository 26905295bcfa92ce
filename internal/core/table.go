package core

// table.go defines the in-memory table every pipeline stage consumes and produces.
//
// A cell is one of:
//   - nil (no value, e.g. the right side of an unmatched join)
//   - pgtype.Text, pgtype.Float8, pgtype.Timestamp, pgtype.Date
//   - SyncTuple
//
// A pgtype value with Valid=false is missing, exactly like nil. Operations never
// mutate their receiver; they return a new *Table that may share cell values
// (cells are immutable) but never row slices.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Table is an ordered set of named columns over rows of cells.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the table has the named column.
func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// Require returns the positions of the named columns, or an error wrapping
// ErrMissingColumn for the first one that is absent.
func (t *Table) Require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Index(n)
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, n)
		}
	}
	return idx, nil
}

// Value returns the cell at row r in the named column, or nil when the
// column does not exist.
func (t *Table) Value(r int, name string) any {
	i := t.Index(name)
	if i < 0 || i >= len(t.Rows[r]) {
		return nil
	}
	return t.Rows[r][i]
}

// AppendRow adds a row, padding or truncating it to the column count.
func (t *Table) AppendRow(row []any) {
	out := make([]any, len(t.Columns))
	copy(out, row)
	t.Rows = append(t.Rows, out)
}

// Clone returns a copy with its own column and row slices.
func (t *Table) Clone() *Table {
	out := NewTable(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Rename returns a copy with columns renamed per the mapping. Names not
// present in the table are ignored.
func (t *Table) Rename(mapping map[string]string) *Table {
	out := t.Clone()
	for i, c := range out.Columns {
		if n, ok := mapping[c]; ok {
			out.Columns[i] = n
		}
	}
	return out
}

// Drop returns a copy without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[int]bool, len(names))
	for _, n := range names {
		if i := t.Index(n); i >= 0 {
			drop[i] = true
		}
	}
	return t.dropPositions(drop)
}

// DropAt returns a copy without the columns at the given positions.
// Positions outside the table are ignored.
func (t *Table) DropAt(positions ...int) *Table {
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p >= 0 && p < len(t.Columns) {
			drop[p] = true
		}
	}
	return t.dropPositions(drop)
}

func (t *Table) dropPositions(drop map[int]bool) *Table {
	keep := make([]int, 0, len(t.Columns))
	for i := range t.Columns {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	return t.project(keep)
}

// project builds a table from the columns at the given positions, in order.
func (t *Table) project(positions []int) *Table {
	out := &Table{Columns: make([]string, len(positions)), Rows: make([][]any, len(t.Rows))}
	for j, p := range positions {
		out.Columns[j] = t.Columns[p]
	}
	for r, row := range t.Rows {
		nr := make([]any, len(positions))
		for j, p := range positions {
			if p < len(row) {
				nr[j] = row[p]
			}
		}
		out.Rows[r] = nr
	}
	return out
}

// MoveToFront returns a copy with the named columns first, in the given
// order, followed by the remaining columns in their original order.
func (t *Table) MoveToFront(names ...string) *Table {
	front := make(map[int]bool, len(names))
	order := make([]int, 0, len(t.Columns))
	for _, n := range names {
		if i := t.Index(n); i >= 0 && !front[i] {
			front[i] = true
			order = append(order, i)
		}
	}
	for i := range t.Columns {
		if !front[i] {
			order = append(order, i)
		}
	}
	return t.project(order)
}

// Filter returns a copy holding only the rows for which keep returns true.
func (t *Table) Filter(keep func(row []any) bool) *Table {
	out := NewTable(t.Columns...)
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out
}

// Distinct returns a copy without rows that repeat an earlier row in every
// cell, compared by their written form, and the number of rows removed.
func (t *Table) Distinct() (*Table, int) {
	seen := make(map[string]struct{}, len(t.Rows))
	var key strings.Builder
	out := t.Filter(func(row []any) bool {
		key.Reset()
		for _, v := range row {
			key.WriteString(FormatCell(v))
			key.WriteByte(0x1f)
		}
		if _, dup := seen[key.String()]; dup {
			return false
		}
		seen[key.String()] = struct{}{}
		return true
	})
	return out, t.Len() - out.Len()
}

// InsertColumn returns a copy with a new column at position pos. values must
// have one entry per row; a nil slice fills the column with nil.
func (t *Table) InsertColumn(pos int, name string, values []any) (*Table, error) {
	if values != nil && len(values) != len(t.Rows) {
		return nil, fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.Rows))
	}
	if pos < 0 || pos > len(t.Columns) {
		pos = len(t.Columns)
	}

	out := &Table{Columns: make([]string, 0, len(t.Columns)+1), Rows: make([][]any, len(t.Rows))}
	out.Columns = append(out.Columns, t.Columns[:pos]...)
	out.Columns = append(out.Columns, name)
	out.Columns = append(out.Columns, t.Columns[pos:]...)

	for r, row := range t.Rows {
		nr := make([]any, 0, len(out.Columns))
		nr = append(nr, row[:pos]...)
		if values != nil {
			nr = append(nr, values[r])
		} else {
			nr = append(nr, nil)
		}
		nr = append(nr, row[pos:]...)
		out.Rows[r] = nr
	}
	return out, nil
}

// MapColumn returns a copy with every cell of the named column replaced by fn(cell).
func (t *Table) MapColumn(name string, fn func(any) any) (*Table, error) {
	i := t.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	out := t.Clone()
	for _, row := range out.Rows {
		row[i] = fn(row[i])
	}
	return out, nil
}

// IsMissing reports whether a cell holds no value.
func IsMissing(v any) bool {
	switch c := v.(type) {
	case nil:
		return true
	case pgtype.Text:
		return !c.Valid
	case pgtype.Float8:
		return !c.Valid
	case pgtype.Timestamp:
		return !c.Valid
	case pgtype.Date:
		return !c.Valid
	case SyncTuple:
		return false
	case string:
		return c == ""
	default:
		return false
	}
}

// Timestamp layouts used when writing cells.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// FormatCell renders a cell the way it is written to CSV. Missing cells are "".
func FormatCell(v any) string {
	if IsMissing(v) {
		return ""
	}
	switch c := v.(type) {
	case pgtype.Text:
		return c.String
	case pgtype.Float8:
		return strconv.FormatFloat(c.Float64, 'f', -1, 64)
	case pgtype.Timestamp:
		if c.Time.Nanosecond() != 0 {
			return c.Time.Format("2006-01-02 15:04:05.999999999")
		}
		return c.Time.Format(TimestampLayout)
	case pgtype.Date:
		return c.Time.Format(DateLayout)
	case SyncTuple:
		return c.String()
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}

// cellFloat returns the numeric value of a Float8 cell.
func cellFloat(v any) (float64, bool) {
	f, ok := v.(pgtype.Float8)
	if !ok || !f.Valid {
		return 0, false
	}
	return f.Float64, true
}

// mergeColumns returns the combined header of a join: every left column,
// then every right column not in skip. A right column whose name is already
// taken gets suffix appended.
func mergeColumns(left, right []string, skip map[int]bool, suffix string) (cols []string, rightPos []int) {
	taken := make(map[string]bool, len(left)+len(right))
	cols = make([]string, 0, len(left)+len(right))
	for _, c := range left {
		taken[c] = true
		cols = append(cols, c)
	}
	for i, c := range right {
		if skip[i] {
			continue
		}
		name := c
		if taken[name] {
			name += suffix
		}
		taken[name] = true
		cols = append(cols, name)
		rightPos = append(rightPos, i)
	}
	return cols, rightPos
}

// joinRow concatenates a left row with the selected right cells. A nil right
// row yields nil right cells.
func joinRow(left, right []any, rightPos []int) []any {
	out := make([]any, 0, len(left)+len(rightPos))
	out = append(out, left...)
	for _, p := range rightPos {
		if right == nil || p >= len(right) {
			out = append(out, nil)
			continue
		}
		out = append(out, right[p])
	}
	return out
}
