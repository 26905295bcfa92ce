package core

// link.go implements the forward-only windowed joins between event logs.
//
// Candidates are found through a timeIndex: the right table's rows sorted by
// timestamp (stable, so equal timestamps keep table order) and searched with
// binary search for the half-open window (t, t+window]. Rows whose timestamp
// is missing are left out of the index and so never match; a left row with a
// missing timestamp has no candidates.

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timeIndex holds a table's timestamps in ascending order with their row numbers.
type timeIndex struct {
	ts   []time.Time
	rows []int
}

func newTimeIndex(t *Table, col int) timeIndex {
	var ix timeIndex
	for i, row := range t.Rows {
		ts := CoerceTimestamp(row[col])
		if !ts.Valid {
			continue
		}
		ix.ts = append(ix.ts, ts.Time)
		ix.rows = append(ix.rows, i)
	}
	order := make([]int, len(ix.ts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ix.ts[order[a]].Before(ix.ts[order[b]]) })

	sorted := timeIndex{ts: make([]time.Time, len(order)), rows: make([]int, len(order))}
	for i, o := range order {
		sorted.ts[i] = ix.ts[o]
		sorted.rows[i] = ix.rows[o]
	}
	return sorted
}

// window returns the index range [lo, hi) of entries with from < ts <= from+w.
func (ix timeIndex) window(from time.Time, w time.Duration) (lo, hi int) {
	to := from.Add(w)
	lo = sort.Search(len(ix.ts), func(i int) bool { return ix.ts[i].After(from) })
	hi = sort.Search(len(ix.ts), func(i int) bool { return ix.ts[i].After(to) })
	return lo, hi
}

// farthest returns the entry in [lo, hi) with the latest timestamp. Among
// entries sharing that timestamp the one earliest in table order wins.
func (ix timeIndex) farthest(lo, hi int) int {
	best := hi - 1
	for best > lo && ix.ts[best-1].Equal(ix.ts[hi-1]) {
		best--
	}
	return best
}

// LinkStats summarizes a Link call.
type LinkStats struct {
	Rows    int // output rows, always equal to the left row count
	Matched int // rows that found a right-hand event
}

// Link joins every left row to at most one right row whose timestamp falls
// in (left, left+window]. When several do, the farthest one is taken.
// Every left row appears exactly once, in order; rows without a candidate get
// nil right-hand cells. Right columns whose names collide get suffix appended.
func Link(left, right *Table, leftTS, rightTS string, window time.Duration, suffix string) (*Table, LinkStats, error) {
	var stats LinkStats

	li := left.Index(leftTS)
	if li < 0 {
		return nil, stats, fmt.Errorf("link left side: %w: %q", ErrMissingColumn, leftTS)
	}
	ri := right.Index(rightTS)
	if ri < 0 {
		return nil, stats, fmt.Errorf("link right side: %w: %q", ErrMissingColumn, rightTS)
	}

	ix := newTimeIndex(right, ri)
	cols, rightPos := mergeColumns(left.Columns, right.Columns, nil, suffix)
	out := NewTable(cols...)
	out.Rows = make([][]any, 0, left.Len())

	for _, row := range left.Rows {
		var match []any
		if ts := CoerceTimestamp(row[li]); ts.Valid {
			if lo, hi := ix.window(ts.Time, window); lo < hi {
				match = right.Rows[ix.rows[ix.farthest(lo, hi)]]
				stats.Matched++
			}
		}
		out.Rows = append(out.Rows, joinRow(row, match, rightPos))
	}

	stats.Rows = out.Len()
	return out, stats, nil
}

// ExpandStats summarizes an ExpandMerge call.
type ExpandStats struct {
	LeftRows   int
	RightRows  int
	Rows       int  // output rows
	WithSync   int  // output rows carrying a matched event
	Duplicates int  // right rows identical to an earlier one, matched once
	Fallback   bool // nothing matched; left table returned with a null sync column
}

// ExpandMerge joins every left row to all right rows whose timestamp falls in
// (left, left+window], one output row per match in timestamp order. Left rows
// with no match appear once with nil right-hand cells. Right columns whose
// names collide get "_sync" appended. Right rows identical in every cell
// are matched once.
//
// When the right table is empty or no left row matched, the result is the left
// table unchanged with a nil sync_data column in front. Either way sync_data
// leads the output.
func ExpandMerge(left, right *Table, leftTS, rightTS string, window time.Duration) (*Table, ExpandStats, error) {
	stats := ExpandStats{LeftRows: left.Len(), RightRows: right.Len()}

	li := left.Index(leftTS)
	if li < 0 {
		return nil, stats, fmt.Errorf("expand left side: %w: %q", ErrMissingColumn, leftTS)
	}

	fallback := func() (*Table, ExpandStats, error) {
		out, err := left.Drop(ColSyncData).InsertColumn(0, ColSyncData, nil)
		if err != nil {
			return nil, stats, err
		}
		stats.Rows, stats.WithSync, stats.Fallback = out.Len(), 0, true
		return out, stats, nil
	}

	if right.Len() == 0 {
		return fallback()
	}
	ri := right.Index(rightTS)
	if ri < 0 {
		return nil, stats, fmt.Errorf("expand right side: %w: %q", ErrMissingColumn, rightTS)
	}

	right, stats.Duplicates = right.Distinct()
	ix := newTimeIndex(right, ri)
	cols, rightPos := mergeColumns(left.Columns, right.Columns, nil, "_sync")
	out := NewTable(cols...)
	out.Rows = make([][]any, 0, left.Len())

	for _, row := range left.Rows {
		lo, hi := 0, 0
		if ts := CoerceTimestamp(row[li]); ts.Valid {
			lo, hi = ix.window(ts.Time, window)
		}
		if lo == hi {
			out.Rows = append(out.Rows, joinRow(row, nil, rightPos))
			continue
		}
		for k := lo; k < hi; k++ {
			out.Rows = append(out.Rows, joinRow(row, right.Rows[ix.rows[k]], rightPos))
			stats.WithSync++
		}
	}

	if stats.WithSync == 0 {
		return fallback()
	}

	if !out.Has(ColSyncData) {
		var err error
		if out, err = out.InsertColumn(0, ColSyncData, nil); err != nil {
			return nil, stats, err
		}
	}
	out = out.MoveToFront(ColSyncData)
	stats.Rows = out.Len()
	return out, stats, nil
}

// SyncTuple holds the seconds elapsed between consecutive stations of one
// linked chain: developer after cleaner, etcher after developer. A nil leg
// means that station was not linked.
type SyncTuple struct {
	First  *float64
	Second *float64
}

// NewSyncTuple computes the gaps between the three station timestamps.
// A zero time stands for a missing station.
func NewSyncTuple(cleaner, developer, etcher time.Time) SyncTuple {
	var s SyncTuple
	if !cleaner.IsZero() && !developer.IsZero() {
		d := developer.Sub(cleaner).Seconds()
		s.First = &d
	}
	if !developer.IsZero() && !etcher.IsZero() {
		d := etcher.Sub(developer).Seconds()
		s.Second = &d
	}
	return s
}

// Validate reports ErrSyncInvariant when a present leg is not strictly positive.
func (s SyncTuple) Validate() error {
	for i, leg := range []*float64{s.First, s.Second} {
		if leg != nil && !(*leg > 0) {
			return fmt.Errorf("%w: leg %d is %v", ErrSyncInvariant, i+1, *leg)
		}
	}
	return nil
}

// String renders the tuple as "(35, 12.5)", with "null" for a missing leg.
func (s SyncTuple) String() string {
	return "(" + formatLeg(s.First) + ", " + formatLeg(s.Second) + ")"
}

func formatLeg(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ParseSyncTuple parses the text form written by String. Quoted and
// NaN legs are read as missing, so "(35.0, 'null')" parses too.
func ParseSyncTuple(s string) (SyncTuple, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return SyncTuple{}, false
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return SyncTuple{}, false
	}

	var legs [2]*float64
	for i, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if p == "null" || p == "" || strings.EqualFold(p, "nan") {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return SyncTuple{}, false
		}
		if !math.IsNaN(f) {
			legs[i] = &f
		}
	}
	return SyncTuple{First: legs[0], Second: legs[1]}, true
}

// ChainStats summarizes a LinkChain call.
type ChainStats struct {
	Cleaner, Developer, Etcher int // input rows per station
	Rows                       int // output rows
	Complete                   int // rows linked through all three stations
}

// Station timestamp columns produced by LinkChain.
const (
	ColCleanerTS   = "timestamp_cleaner"
	ColDeveloperTS = "timestamp_developer"
	ColEtcherTS    = "timestamp_etcher"
)

// LinkChain links the cleaner log to the developer log and the result to the
// etcher log, then prepends sync_data. Each log's TimeStamp column is renamed
// to its station name, typed, and the log sorted by it before linking.
func LinkChain(cleaner, developer, etcher *Table, window time.Duration) (*Table, ChainStats, error) {
	stats := ChainStats{Cleaner: cleaner.Len(), Developer: developer.Len(), Etcher: etcher.Len()}

	cl, err := prepareStation(cleaner, ColCleanerTS)
	if err != nil {
		return nil, stats, fmt.Errorf("cleaner: %w", err)
	}
	dv, err := prepareStation(developer, ColDeveloperTS)
	if err != nil {
		return nil, stats, fmt.Errorf("developer: %w", err)
	}
	et, err := prepareStation(etcher, ColEtcherTS)
	if err != nil {
		return nil, stats, fmt.Errorf("etcher: %w", err)
	}

	linked, _, err := Link(cl, dv, ColCleanerTS, ColDeveloperTS, window, "_dv")
	if err != nil {
		return nil, stats, err
	}
	linked, _, err = Link(linked, et, ColDeveloperTS, ColEtcherTS, window, "_et")
	if err != nil {
		return nil, stats, err
	}

	idx, err := linked.Require(ColCleanerTS, ColDeveloperTS, ColEtcherTS)
	if err != nil {
		return nil, stats, err
	}
	tuples := make([]any, linked.Len())
	for r, row := range linked.Rows {
		var at [3]time.Time
		for k, c := range idx {
			if ts := CoerceTimestamp(row[c]); ts.Valid {
				at[k] = ts.Time
			}
		}
		tuple := NewSyncTuple(at[0], at[1], at[2])
		if err := tuple.Validate(); err != nil {
			return nil, stats, fmt.Errorf("row %d: %w", r, err)
		}
		if tuple.First != nil && tuple.Second != nil {
			stats.Complete++
		}
		tuples[r] = tuple
	}

	out, err := linked.Drop(ColSyncData).InsertColumn(0, ColSyncData, tuples)
	if err != nil {
		return nil, stats, err
	}
	stats.Rows = out.Len()
	return out, stats, nil
}

// prepareStation renames TimeStamp to name, types it and sorts the rows by
// it, missing timestamps last.
func prepareStation(t *Table, name string) (*Table, error) {
	if !t.Has(ColTimeStamp) {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, ColTimeStamp)
	}
	out, err := t.Rename(map[string]string{ColTimeStamp: name}).MapColumn(name, func(v any) any {
		return CoerceTimestamp(v)
	})
	if err != nil {
		return nil, err
	}

	i := out.Index(name)
	slices.SortStableFunc(out.Rows, func(a, b []any) int {
		ta, tb := CoerceTimestamp(a[i]), CoerceTimestamp(b[i])
		switch {
		case !ta.Valid && !tb.Valid:
			return 0
		case !ta.Valid:
			return 1
		case !tb.Valid:
			return -1
		}
		return ta.Time.Compare(tb.Time)
	})
	return out, nil
}
