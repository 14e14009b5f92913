package point

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinCells is the number of cells a row needs to become a point.
const MinCells = 4

// ErrSkip is returned for rows that are intentionally left out. It is not a
// failure; callers drop the row and continue.
var ErrSkip = errors.New("point: row skipped")

// ParseError describes a row rejected in strict mode.
type ParseError struct {
	Row    int // zero-based index into the source rows, -1 when unknown
	Column int
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("point: row %d column %d: cannot parse %q: %v", e.Row, e.Column, e.Value, e.Err)
	}
	return fmt.Sprintf("point: column %d: cannot parse %q: %v", e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RowOptions controls how raw rows become points.
type RowOptions struct {
	// Header skips the first row of the input.
	Header bool
	// ColorColumn is the zero-based column holding the color or category.
	// A negative value disables colors.
	ColorColumn int
	// Strict rejects rows whose coordinates do not parse instead of keeping
	// them with NaN coordinates.
	Strict bool
	// DropNonFinite leaves out points with NaN or infinite coordinates.
	DropNonFinite bool
}

// DefaultRowOptions mirrors the spreadsheet layout X, Y, Z, label, color
// with a header row.
func DefaultRowOptions() RowOptions {
	return RowOptions{Header: true, ColorColumn: 4}
}

// FromRow converts one raw row. Rows shorter than MinCells return ErrSkip.
func FromRow(row []string, opts RowOptions) (Point, error) {
	if len(row) < MinCells {
		return Point{}, ErrSkip
	}

	var p Point
	coords := [3]*float64{&p.X, &p.Y, &p.Z}
	for i, dst := range coords {
		v, err := parseCoord(row[i])
		if err != nil {
			if opts.Strict {
				return Point{}, &ParseError{Row: -1, Column: i, Value: row[i], Err: err}
			}
			v = math.NaN()
		}
		*dst = v
	}
	p.Label = row[3]

	if c := opts.ColorColumn; c >= 0 && c < len(row) {
		p.Color = parseColor(row[c])
	}
	return p, nil
}

// Report summarises a FromRows run.
type Report struct {
	Rows      int
	Skipped   int
	Rejected  int
	NonFinite int
	Errors    []error
}

// FromRows converts raw rows in order. Skipped and rejected rows are counted
// and dropped; the rest of the dataset is kept.
func FromRows(rows [][]string, opts RowOptions) (Dataset, Report) {
	var rep Report
	start := 0
	if opts.Header && len(rows) > 0 {
		start = 1
	}

	out := make(Dataset, 0, len(rows)-start)
	for i := start; i < len(rows); i++ {
		rep.Rows++
		p, err := FromRow(rows[i], opts)
		if err != nil {
			if errors.Is(err, ErrSkip) {
				rep.Skipped++
				continue
			}
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Row = i
			}
			rep.Rejected++
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if !p.Finite() {
			rep.NonFinite++
			if opts.DropNonFinite {
				continue
			}
		}
		out = append(out, p)
	}
	return out, rep
}

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty cell")
	}
	return strconv.ParseFloat(s, 64)
}

func parseColor(s string) Color {
	s = strings.TrimSpace(s)
	if s == "" {
		return Color{}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && isFinite(f) {
		return CategoryColor(f)
	}
	return NamedColor(s)
}
