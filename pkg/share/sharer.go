package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/kv"
)

var (
	// ErrEmptyDataset is returned when there is nothing to share.
	ErrEmptyDataset = errors.New("share: dataset is empty")
	// ErrStale is returned by a share that was overtaken by a newer one.
	ErrStale = errors.New("share: superseded by a newer share request")
)

// DefaultMaxURLLength keeps links under the limit most browsers and chat
// clients accept.
const DefaultMaxURLLength = 2000

// Config configures a Sharer.
type Config struct {
	Strategy     codec.Strategy
	MaxURLLength int
	// Handles persists payloads for the Handle strategy.
	Handles kv.HandleStore
	Logger  *slog.Logger
}

// Links is the result of one share.
type Links struct {
	Token    uint64
	Strategy codec.Strategy
	URLs     []string
	Session  string    // set when the payload was chunked
	Handle   kv.Handle // set for the Handle strategy
}

// Chunked reports whether the share produced more than one link.
func (l Links) Chunked() bool { return l.Session != "" }

// Sharer builds share links for the dataset held by a store.
type Sharer struct {
	store  *dataset.Store
	codec  codec.Codec
	maxLen int
	hs     kv.HandleStore
	log    *slog.Logger

	token atomic.Uint64

	mu     sync.Mutex
	latest *Links
}

// NewSharer creates a sharer over store.
func NewSharer(store *dataset.Store, cfg Config) (*Sharer, error) {
	c, err := codec.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.Strategy == codec.Handle && cfg.Handles == nil {
		return nil, errors.New("share: handle strategy needs a handle store")
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sharer{
		store:  store,
		codec:  c,
		maxLen: cfg.MaxURLLength,
		hs:     cfg.Handles,
		log:    cfg.Logger.With("comp", "share", "strategy", cfg.Strategy.String()),
	}, nil
}

// Share encodes the current dataset and returns links on base. A payload
// whose single link would exceed the maximum URL length is chunked. If
// another Share starts before this one finishes, this one returns ErrStale.
func (s *Sharer) Share(ctx context.Context, base string) (Links, error) {
	token := s.token.Add(1)

	d := s.store.Current()
	if len(d) == 0 {
		return Links{}, ErrEmptyDataset
	}
	payload, err := s.codec.Encode(d)
	if err != nil {
		return Links{}, err
	}

	out := Links{Token: token, Strategy: s.codec.Strategy()}
	enc := Encoded{Strategy: s.codec.Strategy(), Payload: payload}

	switch s.codec.Strategy() {
	case codec.Handle:
		h, err := s.hs.Put(ctx, []byte(payload))
		if err != nil {
			return Links{}, kv.Wrap("put", "", err)
		}
		enc.Handle, out.Handle = h, h

	default:
		u, err := url.Parse(base)
		if err != nil {
			return Links{}, fmt.Errorf("share: bad base address: %w", err)
		}
		if len(dataLink(u, enc.Strategy, payload)) > s.maxLen {
			size, err := s.chunkSize(u, enc.Strategy, len(payload))
			if err != nil {
				return Links{}, err
			}
			out.Session = chunk.NewSession()
			enc.Fragments, err = chunk.SplitSession(payload, size, out.Session)
			if err != nil {
				return Links{}, err
			}
		}
	}

	out.URLs, err = BuildLinks(base, enc)
	if err != nil {
		return Links{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.Load() != token {
		s.log.Debug("dropping stale share", "token", token)
		return Links{}, ErrStale
	}
	s.latest = &out
	s.log.Info("built share links", "token", token, "points", len(d), "bytes", len(payload), "links", len(out.URLs))
	return out, nil
}

// Latest returns the most recent successful share.
func (s *Sharer) Latest() (Links, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Links{}, false
	}
	return *s.latest, true
}

// chunkSize is the largest chunk that keeps every chunk link within the
// limit. Inline chunks are escaped a second time when placed in the query,
// so each byte may grow to three.
func (s *Sharer) chunkSize(base *url.URL, st codec.Strategy, payloadLen int) (int, error) {
	// Index and total never exceed the payload length.
	widest, _ := strconv.Atoi(strings.Repeat("9", len(strconv.Itoa(payloadLen))))
	overhead := len(chunkLink(base, st, strings.Repeat("x", 36), widest, widest, ""))

	avail := s.maxLen - overhead
	if st == codec.Inline {
		avail /= 3
	}
	if avail < 1 {
		return 0, fmt.Errorf("share: max URL length %d leaves no room for data (overhead %d)", s.maxLen, overhead)
	}
	return avail, nil
}
