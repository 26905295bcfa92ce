package core

// convert.go coerces spreadsheet cells to typed pgtype values.
//
// Process logs arrive with all the usual spreadsheet noise:
//   - Mixed date and date-time formats (US, ISO, Excel serial numbers)
//   - Thousands separators and stray currency symbols in numbers
//   - Excel formula prefixes (="value")
//
// Every coercion returns a pgtype value with Valid=false when the input is
// empty or cannot be parsed. A failed coercion is a missing value, never an error.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	// Fractional seconds are accepted after any seconds field.
	dateTimeLayouts = []string{
		"2006-01-02 15:04:05", "2006-01-02T15:04:05",
		"2006-01-02 15:04", "2006-01-02T15:04",
		"2006/01/02 15:04:05", "2006/01/02 15:04",
		"1/2/2006 15:04:05", "1/2/2006 15:04",
		"1/2/2006 3:04:05 PM", "1/2/2006 3:04 PM",
		"01/02/2006 15:04:05", "01/02/2006 15:04",
		time.RFC3339Nano,
	}
)

// Excel serial day numbers accepted as dates: 1900-01-01 up to 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a string to pgtype.Date.
// Date-time strings are accepted and truncated to their calendar date.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}
	if t, ok := parseDate(s); ok {
		return pgtype.Date{Time: t, Valid: true}
	}
	if t, ok := parseDateTime(s); ok {
		return pgtype.Date{Time: truncateDay(t), Valid: true}
	}
	return pgtype.Date{Valid: false}
}

// ToPgTimestamp converts a string to pgtype.Timestamp.
// A bare date parses as midnight. Zone offsets are dropped, keeping wall-clock time.
func ToPgTimestamp(s string) pgtype.Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Timestamp{Valid: false}
	}
	if t, ok := parseDateTime(s); ok {
		return pgtype.Timestamp{Time: t, Valid: true}
	}
	if t, ok := parseDate(s); ok {
		return pgtype.Timestamp{Time: t, Valid: true}
	}
	return pgtype.Timestamp{Valid: false}
}

func parseDate(s string) (time.Time, bool) {
	// 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t), true
		}
	}
	return time.Time{}, false
}

// wallClock drops the location of t, keeping its clock reading, in UTC.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cleanNumber strips currency symbols, thousands separators and the
// accounting-format parentheses for negatives. ok is false when what is left
// is not a plain decimal number.
func cleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}
	return s, numericRegex.MatchString(s)
}

// ToPgFloat8 converts a string to pgtype.Float8.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToPgFloat8(s string) pgtype.Float8 {
	s, ok := cleanNumber(s)
	if !ok {
		return pgtype.Float8{Valid: false}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: f, Valid: true}
}

// CoerceFloat converts any cell to pgtype.Float8.
func CoerceFloat(v any) pgtype.Float8 {
	switch c := v.(type) {
	case pgtype.Float8:
		return c
	case pgtype.Text:
		if !c.Valid {
			return pgtype.Float8{}
		}
		return ToPgFloat8(c.String)
	case string:
		return ToPgFloat8(c)
	default:
		return pgtype.Float8{}
	}
}

// CoerceTimestamp converts any cell to pgtype.Timestamp.
func CoerceTimestamp(v any) pgtype.Timestamp {
	switch c := v.(type) {
	case pgtype.Timestamp:
		return c
	case pgtype.Date:
		return pgtype.Timestamp{Time: c.Time, Valid: c.Valid}
	case pgtype.Text:
		if !c.Valid {
			return pgtype.Timestamp{}
		}
		return ToPgTimestamp(c.String)
	case string:
		return ToPgTimestamp(c)
	default:
		return pgtype.Timestamp{}
	}
}

// CoerceDate converts any cell to pgtype.Date, discarding time of day.
// Plain numbers in the Excel serial range are read as 1900-system serial dates,
// which is how raw workbook cells store dates.
func CoerceDate(v any) pgtype.Date {
	var s string
	switch c := v.(type) {
	case pgtype.Date:
		return c
	case pgtype.Timestamp:
		return pgtype.Date{Time: truncateDay(c.Time), Valid: c.Valid}
	case pgtype.Float8:
		if !c.Valid {
			return pgtype.Date{}
		}
		return excelSerialDate(c.Float64)
	case pgtype.Text:
		if !c.Valid {
			return pgtype.Date{}
		}
		s = c.String
	case string:
		s = c
	default:
		return pgtype.Date{}
	}

	if d := ToPgDate(s); d.Valid {
		return d
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return excelSerialDate(f)
	}
	return pgtype.Date{}
}

func excelSerialDate(f float64) pgtype.Date {
	if f < minExcelSerial || f > maxExcelSerial {
		return pgtype.Date{}
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: truncateDay(t), Valid: true}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}
