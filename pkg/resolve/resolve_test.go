package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/kv"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/share"
)

const base = "https://example.com/plot"

var previous = point.Dataset{{X: 9, Y: 9, Z: 9, Label: "before"}}

func scenarioA() point.Dataset {
	return point.Dataset{
		{X: 1, Y: 2, Z: 3, Label: "a"},
		{X: 4, Y: 5, Z: 6, Label: "b"},
	}
}

func bigDataset(n int) point.Dataset {
	d := make(point.Dataset, n)
	for i := range d {
		d[i] = point.Point{X: float64(i), Y: float64(i) / 8, Z: float64(i * i), Label: fmt.Sprintf("p%d", i)}
	}
	return d
}

type fixture struct {
	store   *dataset.Store
	handles *kv.Memory
	r       *Resolver
}

func newFixture() *fixture {
	store := dataset.NewStore()
	store.Replace(previous)
	handles := kv.NewMemory()
	return &fixture{
		store:   store,
		handles: handles,
		r: New(store, Config{
			Handles: handles,
			Chunks:  chunk.NewReassembler(kv.NewMemory(), chunk.Config{}),
		}),
	}
}

func (f *fixture) untouched(t *testing.T) {
	t.Helper()
	if f.store.Version() != 1 || !f.store.Current().Equal(previous) {
		t.Errorf("store was modified: version %d, %v", f.store.Version(), f.store.Current())
	}
}

func shareLinks(t *testing.T, d point.Dataset, cfg share.Config) share.Links {
	t.Helper()
	store := dataset.NewStore()
	store.Replace(d)
	s, err := share.NewSharer(store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	links, err := s.Share(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	return links
}

func TestResolve_NoOp(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
	}{
		{"empty", url.Values{}},
		{"unrelated", url.Values{"utm_source": {"mail"}}},
		{"empty handle", url.Values{share.ParamDataID: {""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			res, err := f.r.Resolve(context.Background(), tt.params)
			if err != nil || res.Outcome != NoOp {
				t.Errorf("Resolve = %+v, %v; want NoOp", res, err)
			}
			f.untouched(t)
		})
	}
}

func TestResolve_DataLink(t *testing.T) {
	for _, st := range []codec.Strategy{codec.Inline, codec.Base64} {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture()
			links := shareLinks(t, scenarioA(), share.Config{Strategy: st})

			res, err := f.r.ResolveURL(context.Background(), links.URLs[0])
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != Loaded || res.Source != SourceData || res.Version != 2 {
				t.Errorf("result = %+v", res)
			}
			if !f.store.Current().Equal(scenarioA()) {
				t.Errorf("store holds %v", f.store.Current())
			}
		})
	}
}

func TestResolve_ScenarioC(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Burn handles so the shared one is not the first.
	for i := 0; i < 41; i++ {
		_, _ = f.handles.Put(ctx, []byte("[]"))
	}
	links := shareLinks(t, scenarioA(), share.Config{Strategy: codec.Handle, Handles: f.handles})
	if links.Handle != "42" {
		t.Fatalf("handle = %q, want 42", links.Handle)
	}

	res, err := f.r.ResolveURL(ctx, links.URLs[0])
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Loaded || res.Source != SourceHandle || !res.Dataset.Equal(scenarioA()) {
		t.Errorf("result = %+v", res)
	}
}

func TestResolve_SheetID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	h, _ := f.handles.Put(ctx, []byte(`[{"x":1,"y":2,"z":3,"name":"legacy"}]`))

	res, err := f.r.Resolve(ctx, url.Values{share.ParamSheetID: {string(h)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Dataset) != 1 || res.Dataset[0].Label != "legacy" {
		t.Errorf("dataset = %v", res.Dataset)
	}
}

func TestResolve_MissingHandle(t *testing.T) {
	f := newFixture()
	_, err := f.r.Resolve(context.Background(), url.Values{share.ParamDataID: {"42"}})
	var se *kv.StorageError
	if !errors.As(err, &se) || !kv.IsNotFound(err) {
		t.Errorf("expected StorageError wrapping ErrNotFound, got %v", err)
	}
	f.untouched(t)
}

func TestResolve_Unsupported(t *testing.T) {
	r := New(dataset.NewStore(), Config{})
	tests := []url.Values{
		{share.ParamDataID: {"1"}},
		{share.ParamChunk: {"x"}, share.ParamChunkIndex: {"0"}, share.ParamTotalChunks: {"1"}, share.ParamChunkSession: {"s"}},
	}
	for _, params := range tests {
		if _, err := r.Resolve(context.Background(), params); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Resolve(%v): expected ErrUnsupported, got %v", params, err)
		}
	}
}

func TestResolve_DecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
	}{
		{"truncated escape", url.Values{share.ParamData: {"%5B%7B%22x%22%3A1%2"}}},
		{"not json", url.Values{share.ParamData: {"hello"}}},
		{"bad base64", url.Values{share.ParamData: {"!!!"}, share.ParamEncoding: {"base64"}}},
		{"unknown encoding", url.Values{share.ParamData: {"[]"}, share.ParamEncoding: {"rot13"}}},
		{"handle encoding", url.Values{share.ParamData: {"[]"}, share.ParamEncoding: {"handle"}}},
		{"chunk without index", url.Values{share.ParamChunk: {"x"}, share.ParamTotalChunks: {"2"}, share.ParamChunkSession: {"s"}}},
		{"chunk without session", url.Values{share.ParamChunk: {"x"}, share.ParamChunkIndex: {"0"}, share.ParamTotalChunks: {"2"}}},
		{"index not a number", url.Values{share.ParamChunk: {"x"}, share.ParamChunkIndex: {"one"}, share.ParamTotalChunks: {"2"}, share.ParamChunkSession: {"s"}}},
		{"index out of range", url.Values{share.ParamChunk: {"x"}, share.ParamChunkIndex: {"5"}, share.ParamTotalChunks: {"3"}, share.ParamChunkSession: {"s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.r.Resolve(context.Background(), tt.params)
			var de *codec.DecodeError
			if !errors.As(err, &de) || !errors.Is(err, codec.ErrDecode) {
				t.Errorf("expected DecodeError, got %v", err)
			}
			f.untouched(t)
		})
	}
}

func TestResolve_Chunks(t *testing.T) {
	for _, st := range []codec.Strategy{codec.Inline, codec.Base64} {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			want := bigDataset(30)
			links := shareLinks(t, want, share.Config{Strategy: st, MaxURLLength: 250})
			n := len(links.URLs)
			if n < 3 {
				t.Fatalf("expected at least 3 links, got %d", n)
			}

			// Deliver in reverse order.
			for i := n - 1; i > 0; i-- {
				res, err := f.r.ResolveURL(ctx, links.URLs[i])
				if err != nil {
					t.Fatal(err)
				}
				if res.Outcome != Waiting || res.Received != n-i || res.Total != n {
					t.Fatalf("after link %d: %+v", i, res)
				}
				f.untouched(t)
			}

			res, err := f.r.ResolveURL(ctx, links.URLs[0])
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != Loaded || res.Session != links.Session || !f.store.Current().Equal(want) {
				t.Fatalf("final result = %+v", res)
			}

			// A re-delivered link after completion changes nothing.
			again, err := f.r.ResolveURL(ctx, links.URLs[1])
			if err != nil {
				t.Fatal(err)
			}
			if again.Outcome != Waiting || !again.Duplicate || f.store.Version() != res.Version {
				t.Errorf("duplicate after completion = %+v, version %d", again, f.store.Version())
			}
		})
	}
}

func TestResolve_ChunkConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	frag := func(index, total int) url.Values {
		return url.Values{
			share.ParamChunk:        {"abc"},
			share.ParamChunkIndex:   {fmt.Sprint(index)},
			share.ParamTotalChunks:  {fmt.Sprint(total)},
			share.ParamChunkSession: {"sess"},
		}
	}

	if res, err := f.r.Resolve(ctx, frag(0, 3)); err != nil || res.Outcome != Waiting {
		t.Fatalf("first fragment: %+v, %v", res, err)
	}
	_, err := f.r.Resolve(ctx, frag(1, 4))
	if !errors.Is(err, chunk.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	f.untouched(t)

	// The abandoned buffer does not linger.
	res, err := f.r.Resolve(ctx, frag(1, 4))
	if err != nil || res.Received != 1 || res.Total != 4 {
		t.Errorf("after conflict: %+v, %v", res, err)
	}
}

// gatedHandles blocks Fetch until release is closed.
type gatedHandles struct {
	*kv.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedHandles) Fetch(ctx context.Context, h kv.Handle) ([]byte, error) {
	close(g.entered)
	<-g.release
	return g.Memory.Fetch(ctx, h)
}

func TestResolve_StaleLoadDiscarded(t *testing.T) {
	ctx := context.Background()
	hs := &gatedHandles{Memory: kv.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	h, _ := hs.Put(ctx, []byte(`[{"x":0,"y":0,"z":0,"label":"slow"}]`))

	store := dataset.NewStore()
	r := New(store, Config{Handles: hs})

	errc := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, url.Values{share.ParamDataID: {string(h)}})
		errc <- err
	}()
	<-hs.entered

	links := shareLinks(t, scenarioA(), share.Config{})
	if _, err := r.ResolveURL(ctx, links.URLs[0]); err != nil {
		t.Fatal(err)
	}
	close(hs.release)

	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("slow load: expected ErrStale, got %v", err)
	}
	if !store.Current().Equal(scenarioA()) {
		t.Errorf("store holds %v, want the newer dataset", store.Current())
	}
}

func TestResolve_UnrelatedParamsKeepLoad(t *testing.T) {
	ctx := context.Background()
	hs := &gatedHandles{Memory: kv.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	h, _ := hs.Put(ctx, []byte(`[{"x":0,"y":0,"z":0,"label":"slow"}]`))

	store := dataset.NewStore()
	r := New(store, Config{Handles: hs})

	errc := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, url.Values{share.ParamDataID: {string(h)}})
		errc <- err
	}()
	<-hs.entered

	res, err := r.Resolve(ctx, url.Values{"utm_source": {"mail"}})
	if err != nil || res.Outcome != NoOp {
		t.Fatalf("tracking params: %+v, %v", res, err)
	}
	close(hs.release)

	if err := <-errc; err != nil {
		t.Fatalf("handle load: %v", err)
	}
	if got := store.Current(); len(got) != 1 || got[0].Label != "slow" {
		t.Errorf("store holds %v", got)
	}
}

func TestResolve_OversizedTotal(t *testing.T) {
	f := newFixture()
	_, err := f.r.Resolve(context.Background(), url.Values{
		share.ParamChunk:        {"abc"},
		share.ParamChunkIndex:   {"0"},
		share.ParamTotalChunks:  {"30000000"},
		share.ParamChunkSession: {"sess"},
	})
	var de *codec.DecodeError
	if !errors.As(err, &de) || !errors.Is(err, chunk.ErrInvalidFragment) {
		t.Fatalf("expected params DecodeError, got %v", err)
	}
	if de.Stage != "params" {
		t.Errorf("stage = %q", de.Stage)
	}
	f.untouched(t)
}

// gatedBuffers blocks the first Get after being armed until release is
// closed.
type gatedBuffers struct {
	*kv.Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBuffers) Get(ctx context.Context, key string) ([]byte, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Get(ctx, key)
}

func TestResolve_StaleChunkCompletionKept(t *testing.T) {
	ctx := context.Background()
	buffers := &gatedBuffers{Memory: kv.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	store := dataset.NewStore()
	r := New(store, Config{Chunks: chunk.NewReassembler(buffers, chunk.Config{})})

	want := bigDataset(30)
	links := shareLinks(t, want, share.Config{MaxURLLength: 250})
	if len(links.URLs) < 2 {
		t.Fatalf("expected a chunked share, got %d links", len(links.URLs))
	}
	for _, link := range links.URLs[1:] {
		if res, err := r.ResolveURL(ctx, link); err != nil || res.Outcome != Waiting {
			t.Fatalf("%+v, %v", res, err)
		}
	}

	buffers.armed.Store(true)
	errc := make(chan error, 1)
	go func() {
		_, err := r.ResolveURL(ctx, links.URLs[0])
		errc <- err
	}()
	<-buffers.entered

	newer := shareLinks(t, scenarioA(), share.Config{})
	if _, err := r.ResolveURL(ctx, newer.URLs[0]); err != nil {
		t.Fatal(err)
	}
	close(buffers.release)

	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Fatalf("overtaken completion: expected ErrStale, got %v", err)
	}
	if !store.Current().Equal(scenarioA()) {
		t.Fatalf("store holds %v, want the newer dataset", store.Current())
	}

	// The fragments survived, so revisiting any link of the share loads it.
	res, err := r.ResolveURL(ctx, links.URLs[1])
	if err != nil || res.Outcome != Loaded || !store.Current().Equal(want) {
		t.Fatalf("revisit: %+v, %v", res, err)
	}
	again, err := r.ResolveURL(ctx, links.URLs[0])
	if err != nil || again.Outcome != Waiting || !again.Duplicate {
		t.Errorf("after load: %+v, %v", again, err)
	}
}
