package core

import (
	"fmt"
	"slices"

	"github.com/JonMunkholm/LotTrace/internal/config"
)

// Column names shared by the pipeline stages.
const (
	ColMeltID    = "Melt_ID"
	ColBatchMelt = "CB_MELT"
	ColCreated   = "Created"
	ColTimeStamp = "TimeStamp"
	ColSyncData  = "sync_data"
	ColLotA      = "LOT A"
	ColLotB      = "LOT B"
)

// MeltJoinStats summarizes a JoinMelt call.
type MeltJoinStats struct {
	Rows    int // output rows
	Matched int // output rows that found a batch
}

// JoinMelt left-joins clean lot records to the etching batch table on melt id.
//
// Both keys are coerced to numbers; a key that does not parse never matches
// but its lot row is still kept. A lot row matching several batches appears
// once per batch. Batch columns that collide with lot columns get "_batch".
// The lot melt column becomes Melt_ID, CB_MELT is dropped, Melt_ID and Date
// lead, and rows are sorted by Date, newest first, undated rows last.
func JoinMelt(lots, batches *Table, layout config.RawLayout) (*Table, MeltJoinStats, error) {
	var stats MeltJoinStats

	lidx, err := lots.Require(layout.MeltColumn, layout.DateColumn)
	if err != nil {
		return nil, stats, fmt.Errorf("lot table: %w", err)
	}
	bidx, err := batches.Require(ColBatchMelt)
	if err != nil {
		return nil, stats, fmt.Errorf("batch table: %w", err)
	}
	lkey, bkey := lidx[0], bidx[0]

	byMelt := make(map[float64][]int)
	for i, row := range batches.Rows {
		if k, ok := cellFloat(CoerceFloat(row[bkey])); ok {
			byMelt[k] = append(byMelt[k], i)
		}
	}

	cols, rightPos := mergeColumns(lots.Columns, batches.Columns, map[int]bool{bkey: true}, "_batch")
	out := NewTable(cols...)

	for _, row := range lots.Rows {
		left := slices.Clone(row)
		left[lkey] = CoerceFloat(left[lkey])

		k, ok := cellFloat(left[lkey])
		matches := byMelt[k]
		if !ok || len(matches) == 0 {
			out.Rows = append(out.Rows, joinRow(left, nil, rightPos))
			continue
		}
		for _, m := range matches {
			out.Rows = append(out.Rows, joinRow(left, batches.Rows[m], rightPos))
			stats.Matched++
		}
	}

	out = out.Rename(map[string]string{layout.MeltColumn: ColMeltID})
	out = out.MoveToFront(ColMeltID, layout.DateColumn)

	// Date is column 1 after the move.
	for _, row := range out.Rows {
		row[1] = CoerceDate(row[1])
	}
	slices.SortStableFunc(out.Rows, func(a, b []any) int {
		return compareDateDesc(a[1], b[1])
	})

	stats.Rows = out.Len()
	return out, stats, nil
}

// compareDateDesc orders dates newest first with missing dates last.
func compareDateDesc(a, b any) int {
	da, db := CoerceDate(a), CoerceDate(b)
	switch {
	case !da.Valid && !db.Valid:
		return 0
	case !da.Valid:
		return 1
	case !db.Valid:
		return -1
	}
	return db.Time.Compare(da.Time)
}
