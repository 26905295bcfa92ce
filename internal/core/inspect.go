package core

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	inspectSampleRows = 5
	inspectLotSamples = 20
)

// GapStats summarizes one leg of the sync tuples in a table, in seconds.
type GapStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// LotSummary lists distinct values of one lot column in order of appearance.
type LotSummary struct {
	Sample []string `json:"sample"`
	Count  int      `json:"count"`
}

// Inspection is a quick look at a pipeline artifact.
type Inspection struct {
	TotalRows  int                 `json:"total_rows"`
	Columns    []string            `json:"columns"`
	SampleData []map[string]string `json:"sample_data"`
	LotA       *LotSummary         `json:"lot_a,omitempty"`
	LotB       *LotSummary         `json:"lot_b,omitempty"`
	Cleaner    *GapStats           `json:"cleaner_to_developer,omitempty"`
	Etcher     *GapStats           `json:"developer_to_etcher,omitempty"`
}

// Inspect reports row and column counts, the first rows, the distinct lot
// codes and, when the table carries sync_data, statistics for each gap.
func Inspect(t *Table) Inspection {
	in := Inspection{
		TotalRows:  t.Len(),
		Columns:    slices.Clone(t.Columns),
		SampleData: make([]map[string]string, 0, inspectSampleRows),
	}

	for _, row := range t.Rows[:min(inspectSampleRows, t.Len())] {
		rec := make(map[string]string, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = FormatCell(row[i])
		}
		in.SampleData = append(in.SampleData, rec)
	}

	in.LotA = summarizeLots(t, ColLotA)
	in.LotB = summarizeLots(t, ColLotB)
	in.Cleaner, in.Etcher = SyncStats(t)
	return in
}

func summarizeLots(t *Table, col string) *LotSummary {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	seen := make(map[string]bool)
	s := &LotSummary{Sample: []string{}}
	for _, row := range t.Rows {
		if IsMissing(row[i]) {
			continue
		}
		v := FormatCell(row[i])
		if seen[v] {
			continue
		}
		seen[v] = true
		if len(s.Sample) < inspectLotSamples {
			s.Sample = append(s.Sample, v)
		}
	}
	s.Count = len(seen)
	return s
}

// SyncStats returns statistics for the two legs of the sync_data column.
// Cells are read as SyncTuple values or parsed from their text form. A leg
// with no values yields nil, as does a table without sync_data.
func SyncStats(t *Table) (first, second *GapStats) {
	i := t.Index(ColSyncData)
	if i < 0 {
		return nil, nil
	}

	var a, b []float64
	for _, row := range t.Rows {
		var tuple SyncTuple
		switch v := row[i].(type) {
		case SyncTuple:
			tuple = v
		default:
			parsed, ok := ParseSyncTuple(FormatCell(v))
			if !ok {
				continue
			}
			tuple = parsed
		}
		if tuple.First != nil {
			a = append(a, *tuple.First)
		}
		if tuple.Second != nil {
			b = append(b, *tuple.Second)
		}
	}
	return gapStats(a), gapStats(b)
}

func gapStats(xs []float64) *GapStats {
	if len(xs) == 0 {
		return nil
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return &GapStats{
		Count:  len(xs),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
	}
}
