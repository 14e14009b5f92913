// Package resolve restores a shared dataset from the query parameters of a
// share link.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/kv"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/share"
)

var (
	// ErrStale is returned by a resolve that was overtaken by a newer one.
	// The dataset store is left to the newer resolve.
	ErrStale = errors.New("resolve: superseded by a newer load")
	// ErrUnsupported is returned for link kinds the resolver was not
	// configured for.
	ErrUnsupported = errors.New("resolve: link kind not supported")
)

// Outcome tells the caller what a Resolve did.
type Outcome int

const (
	// NoOp means no share parameters were present.
	NoOp Outcome = iota
	// Loaded means the store now holds the shared dataset.
	Loaded
	// Waiting means a chunk was recorded and more are needed.
	Waiting
)

func (o Outcome) String() string {
	switch o {
	case NoOp:
		return "noop"
	case Loaded:
		return "loaded"
	case Waiting:
		return "waiting"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Source is the kind of link that was resolved.
type Source string

const (
	SourceNone   Source = ""
	SourceHandle Source = "handle"
	SourceData   Source = "data"
	SourceChunks Source = "chunks"
)

// Result describes a Resolve call.
type Result struct {
	Outcome Outcome
	Source  Source
	Dataset point.Dataset // set when Loaded
	Version uint64        // store version after Loaded

	// Chunk progress, set for SourceChunks.
	Session   string
	Received  int
	Total     int
	Duplicate bool
}

// Config configures a Resolver. Nil collaborators disable the matching link
// kind.
type Config struct {
	Handles kv.HandleStore
	Chunks  *chunk.Reassembler
	Logger  *slog.Logger
}

// Resolver dispatches share parameters to the right decoding path and
// replaces the dataset store on success.
type Resolver struct {
	store   *dataset.Store
	handles kv.HandleStore
	chunks  *chunk.Reassembler
	log     *slog.Logger

	token atomic.Uint64
	mu    sync.Mutex
}

// New creates a resolver that loads into store.
func New(store *dataset.Store, cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		store:   store,
		handles: cfg.Handles,
		chunks:  cfg.Chunks,
		log:     cfg.Logger.With("comp", "resolve"),
	}
}

// Resolve inspects params in the order handle, inline data, chunk. On any
// error the store is not modified. Parameters that match no link kind leave
// loads already in flight alone.
func (r *Resolver) Resolve(ctx context.Context, params url.Values) (Result, error) {
	switch {
	case params.Get(share.ParamDataID) != "" || params.Get(share.ParamSheetID) != "":
		return r.fromHandle(ctx, r.token.Add(1), params)
	case params.Has(share.ParamData):
		return r.fromData(r.token.Add(1), params)
	case hasChunkParams(params):
		return r.fromChunk(ctx, r.token.Add(1), params)
	}
	return Result{Outcome: NoOp}, nil
}

// ResolveURL resolves the query string of link.
func (r *Resolver) ResolveURL(ctx context.Context, link string) (Result, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Result{}, &codec.DecodeError{Strategy: codec.Inline, Stage: "params", Err: err}
	}
	return r.Resolve(ctx, u.Query())
}

func (r *Resolver) fromHandle(ctx context.Context, token uint64, params url.Values) (Result, error) {
	if r.handles == nil {
		return Result{}, fmt.Errorf("%w: handle links", ErrUnsupported)
	}
	h := params.Get(share.ParamDataID)
	if h == "" {
		h = params.Get(share.ParamSheetID)
	}

	raw, err := r.handles.Fetch(ctx, kv.Handle(h))
	if err != nil {
		r.log.Warn("fetching shared payload failed", "handle", h, "err", err)
		return Result{}, kv.Wrap("fetch", h, err)
	}
	d, err := codec.MustNew(codec.Handle).Decode(string(raw))
	if err != nil {
		return Result{}, err
	}
	return r.commit(token, Result{Outcome: Loaded, Source: SourceHandle, Dataset: d})
}

func (r *Resolver) fromData(token uint64, params url.Values) (Result, error) {
	c, err := codecFor(params)
	if err != nil {
		return Result{}, err
	}
	d, err := c.Decode(params.Get(share.ParamData))
	if err != nil {
		return Result{}, err
	}
	return r.commit(token, Result{Outcome: Loaded, Source: SourceData, Dataset: d})
}

func (r *Resolver) fromChunk(ctx context.Context, token uint64, params url.Values) (Result, error) {
	if r.chunks == nil {
		return Result{}, fmt.Errorf("%w: chunk links", ErrUnsupported)
	}
	c, err := codecFor(params)
	if err != nil {
		return Result{}, err
	}
	f, err := fragmentFrom(params, c.Strategy())
	if err != nil {
		return Result{}, err
	}

	// The store is replaced while the session is still open, so a stale
	// completion keeps its fragments and the next link of the share retries.
	var (
		loaded    Result
		decodeErr error
	)
	res, err := r.chunks.IngestCommit(ctx, f, func(payload string) error {
		d, err := c.Decode(payload)
		if err != nil {
			decodeErr = err
			return nil
		}
		loaded, err = r.commit(token, Result{Outcome: Loaded, Source: SourceChunks, Dataset: d})
		return err
	})
	if err != nil {
		if errors.Is(err, chunk.ErrInvalidFragment) {
			return Result{}, &codec.DecodeError{Strategy: c.Strategy(), Stage: "params", Err: err}
		}
		return Result{}, err
	}

	out := Result{
		Source:    SourceChunks,
		Session:   f.Session,
		Received:  res.Received,
		Total:     res.Total,
		Duplicate: res.Duplicate,
	}
	switch res.Status {
	case chunk.Conflict:
		r.log.Warn("abandoned conflicting share", "session", f.Session)
		return out, fmt.Errorf("resolve: session %s: %w", f.Session, chunk.ErrConflict)
	case chunk.Incomplete:
		out.Outcome = Waiting
		return out, nil
	}
	if decodeErr != nil {
		return Result{}, decodeErr
	}
	out.Outcome = Loaded
	out.Dataset = loaded.Dataset
	out.Version = loaded.Version
	return out, nil
}

// commit replaces the store unless a newer Resolve has started.
func (r *Resolver) commit(token uint64, res Result) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token.Load() != token {
		r.log.Debug("dropping stale load", "token", token, "source", res.Source)
		return Result{}, ErrStale
	}
	res.Version = r.store.Replace(res.Dataset)
	r.log.Info("loaded shared dataset", "source", res.Source, "points", len(res.Dataset), "version", res.Version)
	return res, nil
}

func hasChunkParams(params url.Values) bool {
	return params.Has(share.ParamChunk) ||
		params.Has(share.ParamChunkIndex) ||
		params.Has(share.ParamTotalChunks)
}

func codecFor(params url.Values) (codec.Codec, error) {
	s, err := codec.ParseStrategy(params.Get(share.ParamEncoding))
	if err == nil && s == codec.Handle {
		err = errors.New("handle encoding is not valid for link data")
	}
	if err != nil {
		return nil, &codec.DecodeError{Strategy: codec.Inline, Stage: "params", Err: err}
	}
	return codec.MustNew(s), nil
}

// fragmentFrom requires the full chunk triple plus a session.
func fragmentFrom(params url.Values, s codec.Strategy) (chunk.Fragment, error) {
	bad := func(format string, args ...any) (chunk.Fragment, error) {
		return chunk.Fragment{}, &codec.DecodeError{Strategy: s, Stage: "params", Err: fmt.Errorf(format, args...)}
	}

	for _, p := range []string{share.ParamChunk, share.ParamChunkIndex, share.ParamTotalChunks, share.ParamChunkSession} {
		if !params.Has(p) {
			return bad("missing %s", p)
		}
	}
	index, err := strconv.Atoi(params.Get(share.ParamChunkIndex))
	if err != nil {
		return bad("%s: %v", share.ParamChunkIndex, err)
	}
	total, err := strconv.Atoi(params.Get(share.ParamTotalChunks))
	if err != nil {
		return bad("%s: %v", share.ParamTotalChunks, err)
	}
	return chunk.Fragment{
		Session: params.Get(share.ParamChunkSession),
		Index:   index,
		Total:   total,
		Chunk:   params.Get(share.ParamChunk),
	}, nil
}
