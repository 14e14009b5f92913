// Package codec converts datasets to transport-safe strings and back.
//
// Every strategy shares one canonical text form (see MarshalText) and adds a
// transport layer on top of it:
//
//   - Inline percent-escapes the text for use as a query value.
//   - Base64 escapes non-ASCII bytes and then applies URL-safe base64, for
//     transports that reject most punctuation.
//   - Handle keeps the raw text; it is stored externally and only an opaque
//     handle travels in the link.
//
// For every strategy Decode(Encode(d)) is structurally equal to d.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/recera/scattershare/pkg/point"
)

// Strategy selects the transport layer.
type Strategy int

const (
	Inline Strategy = iota
	Base64
	Handle
)

func (s Strategy) String() string {
	switch s {
	case Inline:
		return "inline"
	case Base64:
		return "base64"
	case Handle:
		return "handle"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses the names returned by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inline", "":
		return Inline, nil
	case "base64", "base64chunked":
		return Base64, nil
	case "handle", "externalhandle", "store":
		return Handle, nil
	}
	return Inline, fmt.Errorf("codec: unknown strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler so strategies can live in
// config files.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("codec: decode failed")

// DecodeError reports which layer of which strategy rejected the input.
type DecodeError struct {
	Strategy Strategy
	Stage    string // "params", "base64", "unescape" or "parse"
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s decode failed at %s: %v", e.Strategy, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Codec is an encode/decode pair for one strategy.
type Codec interface {
	Strategy() Strategy
	Encode(d point.Dataset) (string, error)
	Decode(s string) (point.Dataset, error)
}

// New returns the codec for s.
func New(s Strategy) (Codec, error) {
	switch s {
	case Inline:
		return inlineCodec{}, nil
	case Base64:
		return base64Codec{}, nil
	case Handle:
		return rawCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown strategy %d", int(s))
}

// MustNew is New for strategies known at compile time.
func MustNew(s Strategy) Codec {
	c, err := New(s)
	if err != nil {
		panic(err)
	}
	return c
}

type inlineCodec struct{}

func (inlineCodec) Strategy() Strategy { return Inline }

func (inlineCodec) Encode(d point.Dataset) (string, error) {
	text, err := MarshalText(d)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(text)), nil
}

func (inlineCodec) Decode(s string) (point.Dataset, error) {
	text, err := url.QueryUnescape(s)
	if err != nil {
		return nil, &DecodeError{Strategy: Inline, Stage: "unescape", Err: err}
	}
	d, err := UnmarshalText([]byte(text))
	if err != nil {
		return nil, &DecodeError{Strategy: Inline, Stage: "parse", Err: err}
	}
	return d, nil
}

type base64Codec struct{}

func (base64Codec) Strategy() Strategy { return Base64 }

func (base64Codec) Encode(d point.Dataset) (string, error) {
	text, err := MarshalText(d)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(escapeNonASCII(string(text)))), nil
}

func (base64Codec) Decode(s string) (point.Dataset, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, &DecodeError{Strategy: Base64, Stage: "base64", Err: err}
	}
	text, err := url.PathUnescape(string(raw))
	if err != nil {
		return nil, &DecodeError{Strategy: Base64, Stage: "unescape", Err: err}
	}
	d, err := UnmarshalText([]byte(text))
	if err != nil {
		return nil, &DecodeError{Strategy: Base64, Stage: "parse", Err: err}
	}
	return d, nil
}

type rawCodec struct{}

func (rawCodec) Strategy() Strategy { return Handle }

func (rawCodec) Encode(d point.Dataset) (string, error) {
	text, err := MarshalText(d)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

func (rawCodec) Decode(s string) (point.Dataset, error) {
	d, err := UnmarshalText([]byte(s))
	if err != nil {
		return nil, &DecodeError{Strategy: Handle, Stage: "parse", Err: err}
	}
	return d, nil
}

const upperhex = "0123456789ABCDEF"

// escapeNonASCII percent-escapes bytes >= 0x80 and '%' itself, leaving the
// rest of the ASCII text readable.
func escapeNonASCII(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x80 || c == '%' {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || c == '%' {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
