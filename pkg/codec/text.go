package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/recera/scattershare/pkg/point"
)

// Spellings of non-finite numbers in the canonical form.
const (
	textNaN    = "NaN"
	textPosInf = "Infinity"
	textNegInf = "-Infinity"
)

// ErrUnrepresentable is returned when a dataset holds a value the canonical
// form cannot carry without loss.
var ErrUnrepresentable = errors.New("codec: value cannot be represented")

// MarshalText writes the canonical text form of d: a JSON array of objects
// with the fixed key order x, y, z, label, color.
func MarshalText(d point.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(d) * 48)
	buf.WriteByte('[')
	for i, p := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := appendPoint(&buf, p); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func appendPoint(buf *bytes.Buffer, p point.Point) error {
	buf.WriteString(`{"x":`)
	appendNumber(buf, p.X)
	buf.WriteString(`,"y":`)
	appendNumber(buf, p.Y)
	buf.WriteString(`,"z":`)
	appendNumber(buf, p.Z)
	buf.WriteString(`,"label":`)
	if err := appendString(buf, p.Label); err != nil {
		return err
	}

	switch p.Color.Kind {
	case point.ColorNamed:
		buf.WriteString(`,"color":`)
		if err := appendString(buf, p.Color.Name); err != nil {
			return err
		}
	case point.ColorCategory:
		c := p.Color.Category
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite color category", ErrUnrepresentable)
		}
		buf.WriteString(`,"color":`)
		appendNumber(buf, c)
	}
	buf.WriteByte('}')
	return nil
}

func appendNumber(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f):
		buf.WriteString(`"` + textNaN + `"`)
	case math.IsInf(f, 1):
		buf.WriteString(`"` + textPosInf + `"`)
	case math.IsInf(f, -1):
		buf.WriteString(`"` + textNegInf + `"`)
	default:
		buf.Write(strconv.AppendFloat(nil, f, 'g', -1, 64))
	}
}

func appendString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: label is not valid UTF-8", ErrUnrepresentable)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// wirePoint accepts both the canonical "label" key and the legacy "name" key.
type wirePoint struct {
	X, Y, Z     json.RawMessage
	Label, Name json.RawMessage
	Color       json.RawMessage
}

// wireFrom matches keys exactly. encoding/json would fold case when
// decoding into a struct, so "X" or "LABEL" are rejected here instead.
func wireFrom(obj map[string]json.RawMessage) (wirePoint, error) {
	var w wirePoint
	for k, v := range obj {
		switch k {
		case "x":
			w.X = v
		case "y":
			w.Y = v
		case "z":
			w.Z = v
		case "label":
			w.Label = v
		case "name":
			w.Name = v
		case "color":
			w.Color = v
		default:
			return w, fmt.Errorf("unknown key %q", k)
		}
	}
	if !isAbsent(w.Label) && !isAbsent(w.Name) {
		return w, errors.New(`both "label" and "name" present`)
	}
	return w, nil
}

// UnmarshalText parses the canonical text form.
func UnmarshalText(b []byte) (point.Dataset, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("expected JSON array")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var objs []map[string]json.RawMessage
	if err := dec.Decode(&objs); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after array")
	}

	wire := make([]wirePoint, len(objs))
	for i, obj := range objs {
		w, err := wireFrom(obj)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		wire[i] = w
	}

	out := make(point.Dataset, 0, len(wire))
	for i, w := range wire {
		p, err := w.point()
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (w wirePoint) point() (point.Point, error) {
	var p point.Point
	var err error
	if p.X, err = parseNumber("x", w.X); err != nil {
		return p, err
	}
	if p.Y, err = parseNumber("y", w.Y); err != nil {
		return p, err
	}
	if p.Z, err = parseNumber("z", w.Z); err != nil {
		return p, err
	}

	label := w.Label
	if isAbsent(label) {
		label = w.Name
	}
	if p.Label, err = parseLabel(label); err != nil {
		return p, err
	}

	if !isAbsent(w.Color) {
		switch w.Color[0] {
		case '"':
			var s string
			if err := json.Unmarshal(w.Color, &s); err != nil {
				return p, fmt.Errorf("color: %w", err)
			}
			p.Color = point.NamedColor(s)
		default:
			f, err := strconv.ParseFloat(string(w.Color), 64)
			if err != nil {
				return p, fmt.Errorf("color: %w", err)
			}
			p.Color = point.CategoryColor(f)
		}
	}
	return p, nil
}

func parseNumber(field string, raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, fmt.Errorf("%s: missing", field)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		switch s {
		case textNaN:
			return math.NaN(), nil
		case textPosInf:
			return math.Inf(1), nil
		case textNegInf:
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("%s: unexpected string %q", field, s)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return f, nil
}

// parseLabel accepts strings and, for data written by spreadsheets that
// typed the label column, bare numbers.
func parseLabel(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("label: %w", err)
		}
		return s, nil
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", fmt.Errorf("label: unexpected value %s", raw)
	}
	return string(raw), nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
