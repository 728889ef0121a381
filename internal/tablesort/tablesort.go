// Package tablesort makes a rendered table sortable by column.
//
// The sorter works on the rendered cell text of a table, not on the model
// that produced it: callers hand over the same strings they display and the
// sorter reorders those rows in place. Malformed input never produces an
// error. Missing columns are ignored and unparseable cells coerce to zero.
package tablesort

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueType selects how cell text is coerced before comparison.
type ValueType int

const (
	String ValueType = iota
	Number
	Currency
	Percentage
	Date
)

// ParseValueType maps a textual type name to a ValueType. Unknown names fall
// back to String.
func ParseValueType(name string) ValueType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "number":
		return Number
	case "currency":
		return Currency
	case "percentage":
		return Percentage
	case "date":
		return Date
	default:
		return String
	}
}

func (v ValueType) String() string {
	switch v {
	case Number:
		return "number"
	case Currency:
		return "currency"
	case Percentage:
		return "percentage"
	case Date:
		return "date"
	default:
		return "string"
	}
}

func (v ValueType) numeric() bool {
	return v == Number || v == Currency || v == Percentage
}

// Direction is the sort state of one column.
type Direction int

const (
	None Direction = iota
	Asc
	Desc
)

func (d Direction) String() string {
	switch d {
	case Asc:
		return "asc"
	case Desc:
		return "desc"
	default:
		return "none"
	}
}

// next returns the direction after a header click. A click never returns a
// column to None.
func (d Direction) next() Direction {
	if d == Asc {
		return Desc
	}
	return Asc
}

// Table is a rendered table: header labels plus rows of cell text.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ColumnSpec marks one column as sortable with the given value type.
type ColumnSpec struct {
	Index int
	Type  ValueType
}

// Indicator is the visual marker for a header.
type Indicator struct {
	Glyph  string
	Dimmed bool
}

const (
	glyphNeutral = " ↕"
	glyphAsc     = " ↑"
	glyphDesc    = " ↓"
)

// Sorter holds the sort state of one table instance. It is discarded
// whenever the table is rebuilt from fresh data.
type Sorter struct {
	table *Table
	types map[int]ValueType
	dirs  []Direction
}

// Attach makes the given columns of t sortable. A nil table yields a Sorter
// whose methods are no-ops, and specs pointing at columns that do not exist
// are skipped. Every column starts in the None direction.
func Attach(t *Table, specs []ColumnSpec) *Sorter {
	s := &Sorter{types: make(map[int]ValueType)}
	if t == nil {
		return s
	}
	s.table = t
	s.dirs = make([]Direction, len(t.Headers))
	for _, spec := range specs {
		if spec.Index < 0 || spec.Index >= len(t.Headers) {
			continue
		}
		s.types[spec.Index] = spec.Type
	}
	return s
}

// Sortable reports whether col has a registered click handler.
func (s *Sorter) Sortable(col int) bool {
	_, ok := s.types[col]
	return ok
}

// Click handles a header click on col: it advances the column direction,
// resets every other column to None and reorders the rows.
func (s *Sorter) Click(col int) {
	typ, ok := s.types[col]
	if !ok || s.table == nil {
		return
	}
	dir := s.dirs[col].next()
	for i := range s.dirs {
		s.dirs[i] = None
	}
	s.dirs[col] = dir

	rows := s.table.Rows
	sort.SliceStable(rows, func(i, j int) bool {
		c := Compare(cell(rows[i], col), cell(rows[j], col), typ)
		if dir == Desc {
			c = -c
		}
		return c < 0
	})
}

// Direction returns the current direction of col.
func (s *Sorter) Direction(col int) Direction {
	if col < 0 || col >= len(s.dirs) {
		return None
	}
	return s.dirs[col]
}

// Active returns the column currently sorted, if any.
func (s *Sorter) Active() (col int, dir Direction, ok bool) {
	for i, d := range s.dirs {
		if d != None {
			return i, d, true
		}
	}
	return -1, None, false
}

// Indicator returns the header marker for col. Columns that are not
// sortable have no marker.
func (s *Sorter) Indicator(col int) Indicator {
	if !s.Sortable(col) {
		return Indicator{}
	}
	switch s.Direction(col) {
	case Asc:
		return Indicator{Glyph: glyphAsc}
	case Desc:
		return Indicator{Glyph: glyphDesc}
	default:
		return Indicator{Glyph: glyphNeutral, Dimmed: true}
	}
}

// Label returns the header text of col followed by its indicator glyph.
func (s *Sorter) Label(col int) string {
	if s.table == nil || col < 0 || col >= len(s.table.Headers) {
		return ""
	}
	return s.table.Headers[col] + s.Indicator(col).Glyph
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Compare returns -1, 0 or 1 comparing two cell texts as typ.
func Compare(a, b string, typ ValueType) int {
	switch {
	case typ.numeric():
		return cmp3(CoerceNumber(a), CoerceNumber(b))
	case typ == Date:
		return cmp3(CoerceDate(a), CoerceDate(b))
	default:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}
}

func cmp3[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CoerceNumber strips everything but digits, signs and decimal points from
// text and parses the longest valid decimal prefix of what remains. Text
// without a parseable prefix coerces to 0.
func CoerceNumber(text string) float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	return parsePrefix(b.String())
}

// parsePrefix parses the [+-]?digits[.digits] prefix of s.
func parsePrefix(s string) float64 {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s) && isDigit(s[i]); i++ {
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0
	}
	return v
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"Mon Jan 2 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
}

// CoerceDate parses text as a calendar date and returns Unix milliseconds.
// Text that matches no known layout coerces to 0, the epoch.
func CoerceDate(text string) int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
