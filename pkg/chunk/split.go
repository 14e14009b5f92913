// Package chunk splits encoded payloads into size-bounded fragments for
// transports with length limits and reassembles them on the receiving side.
package chunk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrInvalidFragment is returned for fragments that violate
// 0 <= Index < Total or carry no usable session.
var ErrInvalidFragment = errors.New("chunk: invalid fragment")

// maxSessionLen bounds session IDs taken from untrusted links.
const maxSessionLen = 64

// Fragment is one indexed piece of a split payload.
type Fragment struct {
	Session string
	Index   int
	Total   int
	Chunk   string
}

// Validate checks the fragment's structural invariants.
func (f Fragment) Validate() error {
	if f.Total < 1 {
		return fmt.Errorf("%w: total %d < 1", ErrInvalidFragment, f.Total)
	}
	if f.Index < 0 || f.Index >= f.Total {
		return fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidFragment, f.Index, f.Total)
	}
	return ValidateSession(f.Session)
}

// NewSession returns a fresh share session identifier.
func NewSession() string {
	return uuid.NewString()
}

// ValidateSession accepts non-empty IDs made of letters, digits, '-' and '_'.
func ValidateSession(s string) error {
	if s == "" {
		return fmt.Errorf("%w: missing session", ErrInvalidFragment)
	}
	if len(s) > maxSessionLen {
		return fmt.Errorf("%w: session longer than %d", ErrInvalidFragment, maxSessionLen)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := c == '-' || c == '_' ||
			(c >= '0' && c <= '9') ||
			(c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z')
		if !ok {
			return fmt.Errorf("%w: session contains %q", ErrInvalidFragment, c)
		}
	}
	return nil
}

// Split cuts payload into byte-exact fragments of at most maxChunkSize
// bytes. Total is ceil(len(payload)/maxChunkSize); an empty payload yields a
// single empty fragment. The caller subtracts any link overhead before
// choosing maxChunkSize. Fragments carry no session; see SplitSession.
func Split(payload string, maxChunkSize int) ([]Fragment, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("chunk: max chunk size must be positive, got %d", maxChunkSize)
	}
	if payload == "" {
		return []Fragment{{Index: 0, Total: 1}}, nil
	}

	total := (len(payload) + maxChunkSize - 1) / maxChunkSize
	out := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, Fragment{Index: i, Total: total, Chunk: payload[start:end]})
	}
	return out, nil
}

// SplitSession is Split with every fragment stamped with session.
func SplitSession(payload string, maxChunkSize int, session string) ([]Fragment, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	frags, err := Split(payload, maxChunkSize)
	if err != nil {
		return nil, err
	}
	for i := range frags {
		frags[i].Session = session
	}
	return frags, nil
}

// Join reassembles a complete set of fragments given in any order.
func Join(frags []Fragment) (string, error) {
	if len(frags) == 0 {
		return "", fmt.Errorf("%w: no fragments", ErrInvalidFragment)
	}
	total := frags[0].Total
	if total != len(frags) {
		return "", fmt.Errorf("%w: have %d fragments, total is %d", ErrInvalidFragment, len(frags), total)
	}

	sorted := append([]Fragment(nil), frags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	n := 0
	for i, f := range sorted {
		if f.Total != total || f.Session != sorted[0].Session {
			return "", ErrConflict
		}
		if f.Index != i {
			return "", fmt.Errorf("%w: missing or repeated index %d", ErrInvalidFragment, i)
		}
		n += len(f.Chunk)
	}

	buf := make([]byte, 0, n)
	for _, f := range sorted {
		buf = append(buf, f.Chunk...)
	}
	return string(buf), nil
}
