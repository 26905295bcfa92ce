package core

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLink_FarthestWithinWindow(t *testing.T) {
	cleaner := NewTable("id", ColCleanerTS)
	cleaner.AppendRow([]any{text("c1"), stamp(t, "2024-01-01 10:00:05")})

	developer := NewTable("id", ColDeveloperTS)
	developer.AppendRow([]any{text("d-near"), stamp(t, "2024-01-01 10:00:40")})
	developer.AppendRow([]any{text("d-far"), stamp(t, "2024-01-01 10:00:58")})
	developer.AppendRow([]any{text("d-late"), stamp(t, "2024-01-01 10:01:10")})

	out, stats, err := Link(cleaner, developer, ColCleanerTS, ColDeveloperTS, time.Minute, "_dv")
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	wantCols := []string{"id", ColCleanerTS, "id_dv", ColDeveloperTS}
	if diff := cmp.Diff(wantCols, out.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	assertColumn(t, out, "id_dv", []string{"d-far"})
	assertColumn(t, out, ColDeveloperTS, []string{"2024-01-01 10:00:58"})
	if stats.Rows != 1 || stats.Matched != 1 {
		t.Errorf("stats = %+v, want 1 row, 1 matched", stats)
	}
}

func TestLink_OutsideWindowExcluded(t *testing.T) {
	cleaner := NewTable("id", ColCleanerTS)
	cleaner.AppendRow([]any{text("c1"), stamp(t, "2024-01-01 10:00:05")})

	developer := NewTable("dev", ColDeveloperTS)
	developer.AppendRow([]any{text("late"), stamp(t, "2024-01-01 10:01:10")})
	developer.AppendRow([]any{text("before"), stamp(t, "2024-01-01 10:00:01")})
	developer.AppendRow([]any{text("same"), stamp(t, "2024-01-01 10:00:05")})

	out, stats, err := Link(cleaner, developer, ColCleanerTS, ColDeveloperTS, time.Minute, "_dv")
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	if out.Len() != 1 {
		t.Fatalf("rows = %d, want 1", out.Len())
	}
	assertColumn(t, out, "dev", []string{""})
	assertColumn(t, out, ColDeveloperTS, []string{""})
	if stats.Matched != 0 {
		t.Errorf("Matched = %d, want 0", stats.Matched)
	}
}

func TestLink_WindowBoundaryInclusive(t *testing.T) {
	left := NewTable("l")
	left.AppendRow([]any{stamp(t, "2024-01-01 10:00:59")})

	right := NewTable("r")
	right.AppendRow([]any{stamp(t, "2024-01-01 10:01:59")})

	out, _, err := Link(left, right, "l", "r", time.Minute, "_r")
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	assertColumn(t, out, "r", []string{"2024-01-01 10:01:59"})
}

func TestLink_TieGoesToEarliestRightRow(t *testing.T) {
	left := NewTable("l")
	left.AppendRow([]any{stamp(t, "2024-01-01 10:00:00")})

	right := NewTable("name", "r")
	right.AppendRow([]any{text("row0"), stamp(t, "2024-01-01 10:00:30")})
	right.AppendRow([]any{text("row1"), stamp(t, "2024-01-01 10:00:30")})
	right.AppendRow([]any{text("near"), stamp(t, "2024-01-01 10:00:10")})

	for i := 0; i < 3; i++ {
		out, _, err := Link(left, right, "l", "r", time.Minute, "_r")
		if err != nil {
			t.Fatalf("Link() error = %v", err)
		}
		assertColumn(t, out, "name", []string{"row0"})
	}
}

func TestLink_PreservesLeftRowsInOrder(t *testing.T) {
	left := NewTable("id", "l")
	left.AppendRow([]any{text("a"), stamp(t, "2024-01-01 10:00:00")})
	left.AppendRow([]any{text("b"), nil})
	left.AppendRow([]any{text("c"), text("not a time")})
	left.AppendRow([]any{text("d"), stamp(t, "2024-01-01 10:00:00")})

	right := NewTable("r")
	right.AppendRow([]any{stamp(t, "2024-01-01 10:00:20")})
	right.AppendRow([]any{nil})

	out, stats, err := Link(left, right, "l", "r", time.Minute, "_r")
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	assertColumn(t, out, "id", []string{"a", "b", "c", "d"})
	assertColumn(t, out, "r", []string{"2024-01-01 10:00:20", "", "", "2024-01-01 10:00:20"})
	if stats.Rows != 4 || stats.Matched != 2 {
		t.Errorf("stats = %+v, want 4 rows, 2 matched", stats)
	}
}

func TestLink_MissingColumn(t *testing.T) {
	left := NewTable("l")
	right := NewTable("r")

	if _, _, err := Link(left, right, "nope", "r", time.Minute, "_r"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("left missing: error = %v, want ErrMissingColumn", err)
	}
	if _, _, err := Link(left, right, "l", "nope", time.Minute, "_r"); !errors.Is(err, ErrLayout) {
		t.Errorf("right missing: error = %v, want ErrLayout", err)
	}
}

func TestLinkChain(t *testing.T) {
	cleaner := csvTable(t,
		"TimeStamp,Bath",
		"2024-01-01 10:00:30,C2",
		"2024-01-01 10:00:05,C1",
		"2024-01-01 12:00:00,C3",
	)
	developer := csvTable(t,
		"TimeStamp,Bath",
		"2024-01-01 10:00:40,D1",
		"2024-01-01 10:00:58,D2",
	)
	etcher := csvTable(t,
		"TimeStamp,Line",
		"2024-01-01 10:01:10.5,E1",
	)

	out, stats, err := LinkChain(cleaner, developer, etcher, time.Minute)
	if err != nil {
		t.Fatalf("LinkChain() error = %v", err)
	}

	wantCols := []string{ColSyncData, ColCleanerTS, "Bath", ColDeveloperTS, "Bath_dv", ColEtcherTS, "Line"}
	if diff := cmp.Diff(wantCols, out.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	// cleaner rows come out sorted by time
	assertColumn(t, out, "Bath", []string{"C1", "C2", "C3"})
	assertColumn(t, out, "Bath_dv", []string{"D2", "D2", ""})
	assertColumn(t, out, ColSyncData, []string{"(53, 12.5)", "(28, 12.5)", "(null, null)"})

	if stats.Rows != 3 || stats.Complete != 2 {
		t.Errorf("stats = %+v, want 3 rows, 2 complete", stats)
	}
}

func TestLinkChain_MissingTimeStamp(t *testing.T) {
	ok := csvTable(t, "TimeStamp", "2024-01-01 10:00:00")
	bad := csvTable(t, "Time", "2024-01-01 10:00:00")

	_, _, err := LinkChain(ok, bad, ok, time.Minute)
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("error = %v, want ErrMissingColumn", err)
	}
}

func TestExpandMerge_FanOut(t *testing.T) {
	lots := NewTable(ColLotA, ColCreated)
	lots.AppendRow([]any{text("L1"), stamp(t, "2024-01-01 08:00")})
	lots.AppendRow([]any{text("L2"), nil})

	events := NewTable(ColSyncData, ColEtcherTS, ColLotA)
	events.AppendRow([]any{SyncTuple{First: leg(1)}, stamp(t, "2024-01-01 14:30"), text("x")})
	events.AppendRow([]any{SyncTuple{First: leg(2)}, stamp(t, "2024-01-01 13:30"), text("y")})
	events.AppendRow([]any{SyncTuple{First: leg(3)}, stamp(t, "2024-01-01 08:02"), text("z")})

	out, stats, err := ExpandMerge(lots, events, ColCreated, ColEtcherTS, 6*time.Hour)
	if err != nil {
		t.Fatalf("ExpandMerge() error = %v", err)
	}

	wantCols := []string{ColSyncData, ColLotA, ColCreated, ColEtcherTS, "LOT A_sync"}
	if diff := cmp.Diff(wantCols, out.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	assertColumn(t, out, ColLotA, []string{"L1", "L1", "L2"})
	assertColumn(t, out, ColEtcherTS, []string{"2024-01-01 08:02:00", "2024-01-01 13:30:00", ""})
	assertColumn(t, out, ColSyncData, []string{"(3, null)", "(2, null)", ""})

	want := ExpandStats{LeftRows: 2, RightRows: 3, Rows: 3, WithSync: 2}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandMerge_IdenticalEventsMatchOnce(t *testing.T) {
	lots := NewTable(ColLotA, ColCreated)
	lots.AppendRow([]any{text("L1"), stamp(t, "2024-01-01 08:00")})

	events := NewTable(ColSyncData, ColEtcherTS)
	events.AppendRow([]any{SyncTuple{First: leg(5)}, stamp(t, "2024-01-01 09:00")})
	events.AppendRow([]any{SyncTuple{First: leg(5)}, stamp(t, "2024-01-01 09:00")})
	events.AppendRow([]any{SyncTuple{First: leg(6)}, stamp(t, "2024-01-01 09:00")})

	out, stats, err := ExpandMerge(lots, events, ColCreated, ColEtcherTS, 6*time.Hour)
	if err != nil {
		t.Fatalf("ExpandMerge() error = %v", err)
	}

	assertColumn(t, out, ColSyncData, []string{"(5, null)", "(6, null)"})
	want := ExpandStats{LeftRows: 1, RightRows: 3, Rows: 2, WithSync: 2, Duplicates: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandMerge_EmptyRight(t *testing.T) {
	lots := csvTable(t,
		"Melt_ID,LOT A,Created",
		"1,A1,2024-01-01 08:00:00",
		"2,A2,",
	)
	events := NewTable(ColSyncData, ColEtcherTS)

	out, stats, err := ExpandMerge(lots, events, ColCreated, ColEtcherTS, 6*time.Hour)
	if err != nil {
		t.Fatalf("ExpandMerge() error = %v", err)
	}

	want, _ := lots.InsertColumn(0, ColSyncData, nil)
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if !stats.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestExpandMerge_NoMatchFallsBack(t *testing.T) {
	lots := csvTable(t, "LOT A,Created", "A1,2024-01-01 08:00:00")
	events := NewTable(ColSyncData, ColEtcherTS, "extra")
	events.AppendRow([]any{SyncTuple{}, stamp(t, "2024-01-01 07:00:00"), text("e")})

	out, stats, err := ExpandMerge(lots, events, ColCreated, ColEtcherTS, 6*time.Hour)
	if err != nil {
		t.Fatalf("ExpandMerge() error = %v", err)
	}

	if diff := cmp.Diff([]string{ColSyncData, ColLotA, ColCreated}, out.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if out.Len() != 1 || !stats.Fallback {
		t.Errorf("rows = %d, fallback = %v; want 1, true", out.Len(), stats.Fallback)
	}
}

func TestSyncTuple(t *testing.T) {
	tests := []struct {
		name  string
		tuple SyncTuple
		text  string
	}{
		{"both legs", SyncTuple{First: leg(35), Second: leg(12.5)}, "(35, 12.5)"},
		{"second missing", SyncTuple{First: leg(35)}, "(35, null)"},
		{"both missing", SyncTuple{}, "(null, null)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tuple.String(); got != tt.text {
				t.Errorf("String() = %q, want %q", got, tt.text)
			}
			parsed, ok := ParseSyncTuple(tt.text)
			if !ok {
				t.Fatalf("ParseSyncTuple(%q) failed", tt.text)
			}
			if diff := cmp.Diff(tt.tuple, parsed); diff != "" {
				t.Errorf("ParseSyncTuple mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSyncTuple_Variants(t *testing.T) {
	got, ok := ParseSyncTuple("(35.0, 'null')")
	if !ok || got.First == nil || *got.First != 35 || got.Second != nil {
		t.Errorf("ParseSyncTuple = %+v, %v", got, ok)
	}
	for _, bad := range []string{"", "35, 12", "(1, 2, 3)", "(a, b)"} {
		if _, ok := ParseSyncTuple(bad); ok {
			t.Errorf("ParseSyncTuple(%q) should fail", bad)
		}
	}
}

func TestSyncTuple_Validate(t *testing.T) {
	if err := (SyncTuple{First: leg(1), Second: leg(0.5)}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := (SyncTuple{First: leg(0)}).Validate(); !errors.Is(err, ErrSyncInvariant) {
		t.Errorf("zero leg: Validate() = %v, want ErrSyncInvariant", err)
	}
	if err := (SyncTuple{Second: leg(-3)}).Validate(); !errors.Is(err, ErrSyncInvariant) {
		t.Errorf("negative leg: Validate() = %v, want ErrSyncInvariant", err)
	}
}

// ----------------------------------------------------------------------------
// Property tests against the bucket-pool join
// ----------------------------------------------------------------------------

// propertyBase is aligned to both the minute and the 6h bucket grid.
var propertyBase = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

// offsetTable builds a table of (id, ts) rows at the given second offsets.
func offsetTable(tsCol string, offsets []int64) *Table {
	t := NewTable("id", tsCol)
	for i, off := range offsets {
		ts := propertyBase.Add(time.Duration(off) * time.Second)
		t.AppendRow([]any{text(strconv.Itoa(i)), pgtypeTimestamp(ts)})
	}
	return t
}

// bucketPoolCandidates is the reference candidate search: right rows are
// pooled with their bucket and with a copy one bucket earlier, joined on the
// left row's bucket, then filtered to 0 < diff <= window. Results are in pool
// order: originals first, then shifted copies.
func bucketPoolCandidates(left, right []int64, bucket, window int64) [][]int {
	floor := func(v int64) int64 {
		if v < 0 {
			return (v - bucket + 1) / bucket
		}
		return v / bucket
	}
	out := make([][]int, len(left))
	for i, l := range left {
		lb := floor(l)
		for pass := int64(0); pass < 2; pass++ {
			for j, r := range right {
				if floor(r)-pass != lb {
					continue
				}
				if d := r - l; d > 0 && d <= window {
					out[i] = append(out[i], j)
				}
			}
		}
	}
	return out
}

func TestProperty_LinkMatchesBucketPool(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Link picks the farthest bucket-pool candidate", prop.ForAll(
		func(left, right []int64) bool {
			out, stats, err := Link(offsetTable("l", left), offsetTable("r", right), "l", "r", time.Minute, "_r")
			if err != nil || out.Len() != len(left) || stats.Rows != len(left) {
				return false
			}

			want := bucketPoolCandidates(left, right, 60, 60)
			for i, cands := range want {
				got := FormatCell(out.Value(i, "id_r"))
				if len(cands) == 0 {
					if got != "" {
						return false
					}
					continue
				}
				best := cands[0]
				for _, c := range cands[1:] {
					if right[c] > right[best] || (right[c] == right[best] && c < best) {
						best = c
					}
				}
				if got != strconv.Itoa(best) {
					return false
				}
				d := right[best] - left[i]
				if d <= 0 || d > 60 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 600)),
		gen.SliceOf(gen.Int64Range(0, 600)),
	))

	properties.TestingRun(t)
}

func TestProperty_ExpandMergeMatchesBucketPool(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const sixHours = 6 * 3600

	properties.Property("ExpandMerge keeps every bucket-pool candidate", prop.ForAll(
		func(leftMin, rightMin []int64) bool {
			left := make([]int64, len(leftMin))
			for i, m := range leftMin {
				left[i] = m * 60
			}
			right := make([]int64, len(rightMin))
			for i, m := range rightMin {
				right[i] = m * 60
			}

			out, stats, err := ExpandMerge(offsetTable("l", left), offsetTable("r", right), "l", "r", 6*time.Hour)
			if err != nil {
				return false
			}

			want := bucketPoolCandidates(left, right, sixHours, sixHours)
			total, multi := 0, false
			for _, cands := range want {
				total += max(1, len(cands))
				multi = multi || len(cands) > 1
			}
			if stats.Fallback {
				// fallback only when nothing matched at all
				for _, cands := range want {
					if len(cands) > 0 {
						return false
					}
				}
				return out.Len() == len(left)
			}

			if out.Len() != total || out.Len() < len(left) {
				return false
			}
			if (out.Len() == len(left)) == multi {
				return false
			}

			// rows of one left id are contiguous and hold exactly its candidates
			r := 0
			for i, cands := range want {
				if len(cands) == 0 {
					if FormatCell(out.Value(r, "id_sync")) != "" {
						return false
					}
					r++
					continue
				}
				seen := make(map[string]bool)
				for range cands {
					if FormatCell(out.Value(r, "id")) != strconv.Itoa(i) {
						return false
					}
					seen[FormatCell(out.Value(r, "id_sync"))] = true
					r++
				}
				for _, c := range cands {
					if !seen[strconv.Itoa(c)] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 3000)),
		gen.SliceOf(gen.Int64Range(0, 3000)),
	))

	properties.TestingRun(t)
}
