package core

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgtype"
)

// Shared fixtures for the core tests.

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func num(f float64) pgtype.Float8 {
	return pgtype.Float8{Float64: f, Valid: true}
}

func mustTime(t testing.TB, s string) time.Time {
	t.Helper()
	ts, ok := parseDateTime(s)
	if !ok {
		t.Fatalf("bad fixture time %q", s)
	}
	return ts
}

func stamp(t testing.TB, s string) pgtype.Timestamp {
	return pgtype.Timestamp{Time: mustTime(t, s), Valid: true}
}

func pgtypeTimestamp(ts time.Time) pgtype.Timestamp {
	return pgtype.Timestamp{Time: ts, Valid: true}
}

func day(t testing.TB, s string) pgtype.Date {
	t.Helper()
	d := ToPgDate(s)
	if !d.Valid {
		t.Fatalf("bad fixture date %q", s)
	}
	return d
}

func leg(f float64) *float64 {
	return &f
}

// csvTable reads a table from inline CSV, failing the test on error.
func csvTable(t testing.TB, lines ...string) *Table {
	t.Helper()
	tbl, err := ReadCSV(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return tbl
}

// column returns the formatted cells of one column.
func column(t testing.TB, tbl *Table, name string) []string {
	t.Helper()
	i := tbl.Index(name)
	if i < 0 {
		t.Fatalf("column %q not in %v", name, tbl.Columns)
	}
	out := make([]string, tbl.Len())
	for r, row := range tbl.Rows {
		out[r] = FormatCell(row[i])
	}
	return out
}

func assertColumn(t *testing.T, tbl *Table, name string, want []string) {
	t.Helper()
	if diff := cmp.Diff(want, column(t, tbl, name)); diff != "" {
		t.Errorf("column %q mismatch (-want +got):\n%s", name, diff)
	}
}
