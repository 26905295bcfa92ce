package core

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/cases"
)

// trailingZeros matches the ".0" a spreadsheet leaves on integral lot codes.
var trailingZeros = regexp.MustCompile(`\.0+$`)

// maxNoMatchSamples bounds the lot values reported when a search finds nothing.
const maxNoMatchSamples = 10

// Match modes, tried in this order for each lot code.
const (
	MatchExact     = "exact"
	MatchFold      = "case-insensitive"
	MatchSubstring = "partial"
)

// SearchStep records how one lot code narrowed the rows.
type SearchStep struct {
	Column  string
	Term    string
	Mode    string // mode that produced the matches, or the last one tried
	Matches int
}

// NormalizeLot returns the searchable form of a lot cell: trimmed, without a
// trailing ".0", and empty for missing or "nan" values.
func NormalizeLot(v any) string {
	s := strings.TrimSpace(FormatCell(v))
	s = trailingZeros.ReplaceAllString(s, "")
	if strings.EqualFold(s, "nan") {
		return ""
	}
	return s
}

// SearchLots filters a final table by lot code. LOT A is applied first and
// LOT B to what remains; an empty term or an absent column skips that step.
// Each step tries an exact match, then a case-insensitive one, then a
// case-insensitive substring match, keeping the first that finds rows.
//
// The returned table has its LOT columns normalized. An empty result is a
// *NoMatchError carrying sample values from the unfiltered table.
func SearchLots(t *Table, lotA, lotB string) (*Table, []SearchStep, error) {
	lotA, lotB = strings.TrimSpace(lotA), strings.TrimSpace(lotB)
	if lotA == "" && lotB == "" {
		return nil, nil, ErrNoSearchTerms
	}
	if !t.Has(ColLotA) && !t.Has(ColLotB) {
		return nil, nil, fmt.Errorf("%w: %q or %q", ErrMissingColumn, ColLotA, ColLotB)
	}

	norm := t
	for _, col := range []string{ColLotA, ColLotB} {
		if !norm.Has(col) {
			continue
		}
		var err error
		norm, err = norm.MapColumn(col, func(v any) any {
			s := NormalizeLot(v)
			return pgtype.Text{String: s, Valid: s != ""}
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var steps []SearchStep
	out := norm
	for _, q := range []struct{ col, term string }{{ColLotA, lotA}, {ColLotB, lotB}} {
		if q.term == "" || !out.Has(q.col) {
			continue
		}
		var step SearchStep
		out, step = narrow(out, q.col, q.term)
		steps = append(steps, step)
	}

	if out.Len() == 0 {
		return nil, steps, &NoMatchError{
			LotA:    lotA,
			LotB:    lotB,
			SampleA: lotSamples(norm, ColLotA, maxNoMatchSamples),
			SampleB: lotSamples(norm, ColLotB, maxNoMatchSamples),
		}
	}
	return out, steps, nil
}

// narrow keeps the rows whose column matches term under the first mode that
// matches anything.
func narrow(t *Table, col, term string) (*Table, SearchStep) {
	i := t.Index(col)
	folder := cases.Fold()
	foldedTerm := folder.String(term)

	modes := []struct {
		name  string
		match func(s string) bool
	}{
		{MatchExact, func(s string) bool { return s == term }},
		{MatchFold, func(s string) bool { return folder.String(s) == foldedTerm }},
		{MatchSubstring, func(s string) bool { return strings.Contains(folder.String(s), foldedTerm) }},
	}

	var out *Table
	step := SearchStep{Column: col, Term: term}
	for _, m := range modes {
		out = t.Filter(func(row []any) bool { return m.match(FormatCell(row[i])) })
		step.Mode, step.Matches = m.name, out.Len()
		if out.Len() > 0 {
			break
		}
	}
	return out, step
}

// lotSamples returns up to n distinct non-empty values of a lot column, sorted.
func lotSamples(t *Table, col string, n int) []string {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	seen := make(map[string]bool)
	var vals []string
	for _, row := range t.Rows {
		s := NormalizeLot(row[i])
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		vals = append(vals, s)
	}
	slices.Sort(vals)
	if len(vals) > n {
		vals = vals[:n]
	}
	return vals
}
