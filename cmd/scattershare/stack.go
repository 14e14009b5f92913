package main

import (
	"fmt"
	"os"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/resolve"
	"github.com/recera/scattershare/pkg/share"
	"github.com/recera/scattershare/pkg/sheet"
)

// stack wires the share pipeline over the configured storage.
type stack struct {
	backend  backend
	store    *dataset.Store
	chunks   *chunk.Reassembler
	sharer   *share.Sharer
	resolver *resolve.Resolver
}

func newStack(g *globals) (*stack, error) {
	b, err := openBackend(g.cfg, g.log)
	if err != nil {
		return nil, err
	}

	st := &stack{backend: b, store: dataset.NewStore()}
	st.chunks = chunk.NewReassembler(b, chunk.Config{
		TTL:      g.cfg.Chunks.TTL,
		MaxTotal: g.cfg.Chunks.MaxTotal,
		Logger:   g.log,
	})
	st.sharer, err = share.NewSharer(st.store, share.Config{
		Strategy:     g.cfg.Share.Strategy,
		MaxURLLength: g.cfg.Share.MaxURLLength,
		Handles:      b,
		Logger:       g.log,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	st.resolver = resolve.New(st.store, resolve.Config{
		Handles: b,
		Chunks:  st.chunks,
		Logger:  g.log,
	})
	return st, nil
}

func (st *stack) Close() error {
	return st.backend.Close()
}

// loadFile reads a spreadsheet into points.
func loadFile(path string, opts point.RowOptions) (point.Dataset, point.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, point.Report{}, err
	}
	defer f.Close()

	d, rep, err := sheet.ReadDataset(f, path, opts)
	if err != nil {
		return nil, rep, err
	}
	if len(d) == 0 {
		return nil, rep, fmt.Errorf("%s: no points", path)
	}
	return d, rep, nil
}
