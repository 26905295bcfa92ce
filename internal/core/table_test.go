package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgtype"
)

func sampleTable() *Table {
	t := NewTable("a", "b", "c")
	t.AppendRow([]any{text("a1"), text("b1"), text("c1")})
	t.AppendRow([]any{text("a2"), nil, text("c2")})
	return t
}

func TestTable_RequireReportsFirstMissing(t *testing.T) {
	tbl := sampleTable()

	idx, err := tbl.Require("c", "a")
	if err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	if diff := cmp.Diff([]int{2, 0}, idx); diff != "" {
		t.Errorf("Require() mismatch (-want +got):\n%s", diff)
	}

	_, err = tbl.Require("a", "zzz")
	if !errors.Is(err, ErrMissingColumn) || !errors.Is(err, ErrLayout) {
		t.Errorf("Require(zzz) error = %v, want ErrMissingColumn wrapping ErrLayout", err)
	}
}

func TestTable_OperationsCopy(t *testing.T) {
	tbl := sampleTable()

	renamed := tbl.Rename(map[string]string{"a": "x", "nope": "y"})
	dropped := tbl.Drop("b", "nope")
	moved := tbl.MoveToFront("c", "c")
	filtered := tbl.Filter(func(row []any) bool { return !IsMissing(row[1]) })

	if diff := cmp.Diff([]string{"x", "b", "c"}, renamed.Columns); diff != "" {
		t.Errorf("Rename columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, dropped.Columns); diff != "" {
		t.Errorf("Drop columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, moved.Columns); diff != "" {
		t.Errorf("MoveToFront columns (-want +got):\n%s", diff)
	}
	assertColumn(t, moved, "c", []string{"c1", "c2"})
	if filtered.Len() != 1 {
		t.Errorf("Filter rows = %d, want 1", filtered.Len())
	}

	// the source table is untouched
	renamed.Rows[0][0] = text("changed")
	if diff := cmp.Diff([]string{"a", "b", "c"}, tbl.Columns); diff != "" {
		t.Errorf("source columns changed (-want +got):\n%s", diff)
	}
	assertColumn(t, tbl, "a", []string{"a1", "a2"})
}

func TestTable_DropAtIgnoresOutOfRange(t *testing.T) {
	got := sampleTable().DropAt(1, 7, -1)
	if diff := cmp.Diff([]string{"a", "c"}, got.Columns); diff != "" {
		t.Errorf("DropAt columns (-want +got):\n%s", diff)
	}
}

func TestTable_InsertColumn(t *testing.T) {
	tbl := sampleTable()

	got, err := tbl.InsertColumn(1, "n", []any{num(1), num(2)})
	if err != nil {
		t.Fatalf("InsertColumn() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "n", "b", "c"}, got.Columns); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	assertColumn(t, got, "n", []string{"1", "2"})
	assertColumn(t, got, "c", []string{"c1", "c2"})

	nulls, err := tbl.InsertColumn(0, "z", nil)
	if err != nil {
		t.Fatalf("InsertColumn(nil) error = %v", err)
	}
	assertColumn(t, nulls, "z", []string{"", ""})

	if _, err := tbl.InsertColumn(0, "bad", []any{num(1)}); err == nil {
		t.Error("InsertColumn with a short value slice should fail")
	}
}

func TestTable_MapColumn(t *testing.T) {
	got, err := sampleTable().MapColumn("b", func(v any) any {
		if IsMissing(v) {
			return text("filled")
		}
		return v
	})
	if err != nil {
		t.Fatalf("MapColumn() error = %v", err)
	}
	assertColumn(t, got, "b", []string{"b1", "filled"})

	if _, err := sampleTable().MapColumn("zzz", func(v any) any { return v }); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("MapColumn(zzz) error = %v, want ErrMissingColumn", err)
	}
}

func TestTable_Distinct(t *testing.T) {
	tbl := NewTable("a", "b")
	tbl.AppendRow([]any{text("x"), num(1)})
	tbl.AppendRow([]any{text("x"), num(1)})
	tbl.AppendRow([]any{text("x"), num(2)})
	tbl.AppendRow([]any{nil, text("")})
	tbl.AppendRow([]any{text(""), nil})
	tbl.AppendRow([]any{text("x"), num(1)})

	out, removed := tbl.Distinct()
	if removed != 3 {
		t.Errorf("Distinct() removed = %d, want 3", removed)
	}
	assertColumn(t, out, "b", []string{"1", "2", ""})
	if tbl.Len() != 6 {
		t.Errorf("Distinct modified the receiver: %d rows", tbl.Len())
	}
}

func TestTable_AppendRowPads(t *testing.T) {
	tbl := NewTable("a", "b")
	tbl.AppendRow([]any{text("only")})
	tbl.AppendRow([]any{text("x"), text("y"), text("dropped")})

	if len(tbl.Rows[0]) != 2 || len(tbl.Rows[1]) != 2 {
		t.Fatalf("row widths = %d, %d; want 2, 2", len(tbl.Rows[0]), len(tbl.Rows[1]))
	}
	if tbl.Value(0, "b") != nil {
		t.Errorf("padded cell = %v, want nil", tbl.Value(0, "b"))
	}
	if tbl.Value(0, "zzz") != nil {
		t.Error("Value of an unknown column should be nil")
	}
}

func TestIsMissing(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"invalid text", pgtype.Text{}, true},
		{"invalid float", pgtype.Float8{}, true},
		{"invalid timestamp", pgtype.Timestamp{}, true},
		{"invalid date", pgtype.Date{}, true},
		{"empty string", "", true},
		{"text", text("x"), false},
		{"zero float", num(0), false},
		{"empty sync tuple", SyncTuple{}, false},
	}
	for _, tt := range tests {
		if got := IsMissing(tt.v); got != tt.want {
			t.Errorf("IsMissing(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"integral float", num(24017), "24017"},
		{"fraction", num(12.5), "12.5"},
		{"timestamp", stamp(t, "2024-01-01 10:00:05"), "2024-01-01 10:00:05"},
		{"timestamp fraction", stamp(t, "2024-01-01 10:00:05.25"), "2024-01-01 10:00:05.25"},
		{"date", day(t, "2024-01-05"), "2024-01-05"},
		{"sync tuple", SyncTuple{First: leg(35), Second: nil}, "(35, null)"},
		{"missing", pgtype.Text{}, ""},
	}
	for _, tt := range tests {
		if got := FormatCell(tt.v); got != tt.want {
			t.Errorf("FormatCell(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMergeColumns_SuffixOnRightCollision(t *testing.T) {
	cols, pos := mergeColumns([]string{"key", "LOT A"}, []string{"key", "LOT A", "Created"}, map[int]bool{0: true}, "_batch")

	if diff := cmp.Diff([]string{"key", "LOT A", "LOT A_batch", "Created"}, cols); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, pos); diff != "" {
		t.Errorf("right positions (-want +got):\n%s", diff)
	}
}
