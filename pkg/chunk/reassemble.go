package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/recera/scattershare/pkg/kv"
)

// ErrConflict reports fragments that disagree about the payload they belong
// to: a different total for the same session, or different content for the
// same index.
var ErrConflict = errors.New("chunk: fragment conflicts with reassembly buffer")

// Status is the outcome of ingesting one fragment.
type Status int

const (
	Incomplete Status = iota
	Complete
	Conflict
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result describes the buffer after an Ingest call.
type Result struct {
	Status   Status
	Payload  string // set when Status == Complete
	Received int
	Total    int
	// Duplicate is set when the fragment had already been seen, including
	// fragments of a session that has completed.
	Duplicate bool
}

// Config tunes a Reassembler.
type Config struct {
	// TTL bounds how long an incomplete buffer, or the tombstone of a
	// completed one, is kept. Zero means DefaultTTL.
	TTL time.Duration
	// Prefix is prepended to session IDs to form storage keys.
	Prefix string
	// MaxTotal is the largest fragment count a session may announce.
	// Zero means DefaultMaxTotal.
	MaxTotal int
	Logger   *slog.Logger
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 30 * time.Minute

// DefaultMaxTotal is used when Config.MaxTotal is zero.
const DefaultMaxTotal = 10000

// DefaultPrefix is used when Config.Prefix is empty.
const DefaultPrefix = "chunk/"

// buffer is the persisted reassembly state of one session.
type buffer struct {
	Total   int            `json:"total"`
	Chunks  map[int]string `json:"chunks,omitempty"`
	Created time.Time      `json:"created"`
	Done    bool           `json:"done,omitempty"`
}

// Reassembler collects fragments per session through a kv.Store so that
// fragments may arrive across separate page loads or processes sharing the
// store.
type Reassembler struct {
	store    kv.Store
	ttl      time.Duration
	prefix   string
	maxTotal int
	now      func() time.Time
	log      *slog.Logger

	// mu makes each Ingest an atomic read-modify-write of the stored buffer.
	mu sync.Mutex
}

// NewReassembler creates a reassembler backed by store.
func NewReassembler(store kv.Store, cfg Config) *Reassembler {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reassembler{
		store:    store,
		ttl:      cfg.TTL,
		prefix:   cfg.Prefix,
		maxTotal: cfg.MaxTotal,
		now:      cfg.Now,
		log:      cfg.Logger.With("comp", "chunk"),
	}
}

// Ingest records f and reports whether its session is now complete.
// Re-ingesting a fragment already seen is a no-op. On Conflict the session's
// buffer is discarded.
func (r *Reassembler) Ingest(ctx context.Context, f Fragment) (Result, error) {
	return r.IngestCommit(ctx, f, nil)
}

// IngestCommit is Ingest with a hook that consumes the joined payload before
// the session is closed. The hook runs under the reassembler's lock. If it
// fails, the completed buffer is kept and its error returned, so any later
// fragment of the session retries the completion.
func (r *Reassembler) IngestCommit(ctx context.Context, f Fragment, commit func(payload string) error) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	if f.Total > r.maxTotal {
		return Result{}, fmt.Errorf("%w: total %d exceeds %d", ErrInvalidFragment, f.Total, r.maxTotal)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.prefix + f.Session
	now := r.now()

	buf, err := r.load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if buf != nil && r.expired(buf, now) {
		r.log.Debug("discarding expired buffer", "session", f.Session, "created", buf.Created)
		buf = nil
	}

	if buf != nil && buf.Done {
		return Result{Status: Incomplete, Received: buf.Total, Total: buf.Total, Duplicate: true}, nil
	}
	if buf == nil {
		buf = &buffer{Total: f.Total, Chunks: make(map[int]string), Created: now}
	}

	if buf.Total != f.Total {
		r.log.Warn("fragment total mismatch", "session", f.Session, "recorded", buf.Total, "got", f.Total)
		return r.abandon(ctx, key, buf)
	}
	dup := false
	if prev, ok := buf.Chunks[f.Index]; ok {
		if prev != f.Chunk {
			r.log.Warn("fragment content mismatch", "session", f.Session, "index", f.Index)
			return r.abandon(ctx, key, buf)
		}
		if len(buf.Chunks) < buf.Total {
			return Result{Status: Incomplete, Received: len(buf.Chunks), Total: buf.Total, Duplicate: true}, nil
		}
		// Every fragment is here but the last completion was not consumed.
		dup = true
	}

	buf.Chunks[f.Index] = f.Chunk
	if len(buf.Chunks) < buf.Total {
		if err := r.save(ctx, key, buf); err != nil {
			return Result{}, err
		}
		return Result{Status: Incomplete, Received: len(buf.Chunks), Total: buf.Total}, nil
	}

	var sb strings.Builder
	for i := 0; i < buf.Total; i++ {
		sb.WriteString(buf.Chunks[i])
	}

	if commit != nil {
		if err := commit(sb.String()); err != nil {
			if serr := r.save(ctx, key, buf); serr != nil {
				return Result{}, errors.Join(err, serr)
			}
			r.log.Debug("completion not consumed, keeping buffer", "session", f.Session, "err", err)
			return Result{Status: Incomplete, Received: buf.Total, Total: buf.Total, Duplicate: dup}, err
		}
	}

	// Replace the buffer with a tombstone so late duplicates do not start
	// a new session under the same ID.
	tomb := &buffer{Total: buf.Total, Created: now, Done: true}
	if err := r.save(ctx, key, tomb); err != nil {
		return Result{}, err
	}
	r.log.Info("reassembled payload", "session", f.Session, "fragments", buf.Total, "bytes", sb.Len())
	return Result{Status: Complete, Payload: sb.String(), Received: buf.Total, Total: buf.Total, Duplicate: dup}, nil
}

// Progress reports how many fragments of session have arrived.
func (r *Reassembler) Progress(ctx context.Context, session string) (received, total int, err error) {
	if err := ValidateSession(session); err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, err := r.load(ctx, r.prefix+session)
	if err != nil || buf == nil || r.expired(buf, r.now()) {
		return 0, 0, err
	}
	if buf.Done {
		return buf.Total, buf.Total, nil
	}
	return len(buf.Chunks), buf.Total, nil
}

// Discard drops the buffer of session.
func (r *Reassembler) Discard(ctx context.Context, session string) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return kv.Wrap("remove", r.prefix+session, r.store.Remove(ctx, r.prefix+session))
}

// Sweep removes expired buffers and tombstones. It needs a store that
// implements kv.Lister; other stores rely on the lazy expiry in Ingest.
func (r *Reassembler) Sweep(ctx context.Context) (int, error) {
	lister, ok := r.store.(kv.Lister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx, r.prefix)
	if err != nil {
		return 0, kv.Wrap("keys", r.prefix, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for _, key := range keys {
		buf, err := r.load(ctx, key)
		if err != nil {
			return removed, err
		}
		if buf != nil && !r.expired(buf, now) {
			continue
		}
		if err := r.store.Remove(ctx, key); err != nil {
			return removed, kv.Wrap("remove", key, err)
		}
		removed++
	}
	if removed > 0 {
		r.log.Debug("swept reassembly buffers", "removed", removed)
	}
	return removed, nil
}

func (r *Reassembler) abandon(ctx context.Context, key string, buf *buffer) (Result, error) {
	if err := r.store.Remove(ctx, key); err != nil {
		return Result{}, kv.Wrap("remove", key, err)
	}
	return Result{Status: Conflict, Received: len(buf.Chunks), Total: buf.Total}, nil
}

func (r *Reassembler) expired(buf *buffer, now time.Time) bool {
	return now.Sub(buf.Created) > r.ttl
}

// load returns nil, nil for a missing key. A buffer that cannot be parsed is
// treated as missing for Ingest and removed by Sweep.
func (r *Reassembler) load(ctx context.Context, key string) (*buffer, error) {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, kv.Wrap("get", key, err)
	}
	var buf buffer
	if err := json.Unmarshal(raw, &buf); err != nil || buf.Total < 1 {
		r.log.Warn("ignoring corrupt reassembly buffer", "key", key, "err", err)
		return nil, nil
	}
	if buf.Chunks == nil {
		buf.Chunks = make(map[int]string)
	}
	return &buf, nil
}

func (r *Reassembler) save(ctx context.Context, key string, buf *buffer) error {
	raw, err := json.Marshal(buf)
	if err != nil {
		return err
	}
	return kv.Wrap("set", key, r.store.Set(ctx, key, raw))
}
