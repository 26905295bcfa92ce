package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RawLayout names every fixed position the raw material sheet repair relies on.
//
// Row indices count data rows below the sheet's first (header) row, starting
// at zero. Column positions are zero-based and refer to the sheet as it looks
// at the step that uses them: UnnamedDropStart/End after DropColumn is gone,
// BlankColumn after the metadata rows and columns are gone. MinMaxFirst and
// MinMaxLast are the numeric suffixes of "Unnamed: N" header labels.
type RawLayout struct {
	SupplierRow int `yaml:"supplier_row"`
	SupplierCol int `yaml:"supplier_col"`

	DropColumn       string `yaml:"drop_column"`
	UnnamedDropStart int    `yaml:"unnamed_drop_start"`
	UnnamedDropEnd   int    `yaml:"unnamed_drop_end"`
	MetadataRows     []int  `yaml:"metadata_rows"`

	HeaderRow    int `yaml:"header_row"`
	SubHeaderRow int `yaml:"subheader_row"`
	OverlayStart int `yaml:"overlay_start"`
	BlankColumn  int `yaml:"blank_column"`

	MinMaxFirst int `yaml:"minmax_first"`
	MinMaxLast  int `yaml:"minmax_last"`

	DateColumn string `yaml:"date_column"`
	MeltColumn string `yaml:"melt_column"`
	LotColumn  string `yaml:"lot_column"`
}

// DefaultRawLayout returns the layout of the supplier CoA workbook.
func DefaultRawLayout() RawLayout {
	return RawLayout{
		SupplierRow:      1,
		SupplierCol:      1,
		DropColumn:       "Material - supplier CoA",
		UnnamedDropStart: 26,
		UnnamedDropEnd:   105,
		MetadataRows:     []int{0, 1, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13},
		HeaderRow:        2,
		SubHeaderRow:     3,
		OverlayStart:     7,
		BlankColumn:      6,
		MinMaxFirst:      15,
		MinMaxLast:       25,
		DateColumn:       "Date",
		MeltColumn:       "Heat Melt",
		LotColumn:        "LOT A",
	}
}

// LoadRawLayout returns the default layout, overlaid with the YAML file at
// path when path is non-empty. Keys missing from the file keep their defaults.
func LoadRawLayout(path string) (RawLayout, error) {
	layout := DefaultRawLayout()
	if path == "" {
		return layout, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return layout, fmt.Errorf("read raw layout: %w", err)
	}
	if err := yaml.Unmarshal(b, &layout); err != nil {
		return layout, fmt.Errorf("parse raw layout %s: %w", path, err)
	}
	return layout, nil
}

// Validate reports every inconsistency in the layout as one error.
func (l RawLayout) Validate() error {
	if errs := l.problems(); len(errs) > 0 {
		return fmt.Errorf("invalid raw layout:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (l RawLayout) problems() []string {
	var errs []string

	for _, f := range []struct {
		name string
		v    int
	}{
		{"supplier_row", l.SupplierRow},
		{"supplier_col", l.SupplierCol},
		{"unnamed_drop_start", l.UnnamedDropStart},
		{"header_row", l.HeaderRow},
		{"subheader_row", l.SubHeaderRow},
		{"overlay_start", l.OverlayStart},
		{"blank_column", l.BlankColumn},
		{"minmax_first", l.MinMaxFirst},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Sprintf("raw layout %s (%d) must be non-negative", f.name, f.v))
		}
	}

	if l.UnnamedDropEnd < l.UnnamedDropStart {
		errs = append(errs, fmt.Sprintf("raw layout unnamed_drop_end (%d) must be >= unnamed_drop_start (%d)",
			l.UnnamedDropEnd, l.UnnamedDropStart))
	}
	if l.HeaderRow == l.SubHeaderRow {
		errs = append(errs, "raw layout header_row and subheader_row must differ")
	}
	for _, r := range l.MetadataRows {
		if r < 0 {
			errs = append(errs, fmt.Sprintf("raw layout metadata_rows entry %d must be non-negative", r))
		}
		if r == l.HeaderRow || r == l.SubHeaderRow {
			errs = append(errs, fmt.Sprintf("raw layout metadata_rows must not contain header row %d", r))
		}
	}
	if l.MinMaxLast < l.MinMaxFirst {
		errs = append(errs, fmt.Sprintf("raw layout minmax_last (%d) must be >= minmax_first (%d)",
			l.MinMaxLast, l.MinMaxFirst))
	} else if (l.MinMaxLast-l.MinMaxFirst)%2 != 0 {
		errs = append(errs, "raw layout minmax_last - minmax_first must be even (columns come in pairs)")
	}

	for _, f := range []struct{ name, v string }{
		{"date_column", l.DateColumn},
		{"melt_column", l.MeltColumn},
		{"lot_column", l.LotColumn},
	} {
		if strings.TrimSpace(f.v) == "" {
			errs = append(errs, fmt.Sprintf("raw layout %s must not be empty", f.name))
		}
	}

	return errs
}
