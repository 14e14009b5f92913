// Package share turns the active dataset into share links.
package share

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/kv"
)

// Query parameters carried by share links.
const (
	ParamData         = "data"
	ParamEncoding     = "encoding"
	ParamDataID       = "dataId"
	ParamSheetID      = "sheetId"
	ParamChunk        = "dataChunk"
	ParamChunkIndex   = "chunkIndex"
	ParamTotalChunks  = "totalChunks"
	ParamChunkSession = "chunkSession"
)

// Encoded is a dataset in transport form. A Handle strategy uses Handle;
// otherwise Fragments is used when set and Payload when not.
type Encoded struct {
	Strategy  codec.Strategy
	Payload   string
	Fragments []chunk.Fragment
	Handle    kv.Handle
}

// BuildLinks returns the links for e on base. Any query string on base is
// replaced. An inline or handle payload gives exactly one link; fragments
// give one link each, in index order.
func BuildLinks(base string, e Encoded) ([]string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("share: bad base address: %w", err)
	}

	switch {
	case e.Strategy == codec.Handle:
		if e.Handle == "" {
			return nil, errors.New("share: handle strategy without a handle")
		}
		return []string{handleLink(u, e.Handle)}, nil

	case len(e.Fragments) > 0:
		links := make([]string, len(e.Fragments))
		for _, f := range e.Fragments {
			if err := f.Validate(); err != nil {
				return nil, err
			}
			if f.Total != len(e.Fragments) {
				return nil, fmt.Errorf("%w: %d fragments for total %d", chunk.ErrInvalidFragment, len(e.Fragments), f.Total)
			}
			if links[f.Index] != "" {
				return nil, fmt.Errorf("%w: repeated index %d", chunk.ErrInvalidFragment, f.Index)
			}
			links[f.Index] = chunkLink(u, e.Strategy, f.Session, f.Index, f.Total, f.Chunk)
		}
		return links, nil

	default:
		return []string{dataLink(u, e.Strategy, e.Payload)}, nil
	}
}

func dataLink(base *url.URL, s codec.Strategy, payload string) string {
	v := url.Values{}
	v.Set(ParamData, payload)
	setEncoding(v, s)
	return withQuery(base, v)
}

func chunkLink(base *url.URL, s codec.Strategy, session string, index, total int, piece string) string {
	v := url.Values{}
	v.Set(ParamChunk, piece)
	v.Set(ParamChunkIndex, strconv.Itoa(index))
	v.Set(ParamTotalChunks, strconv.Itoa(total))
	v.Set(ParamChunkSession, session)
	setEncoding(v, s)
	return withQuery(base, v)
}

func handleLink(base *url.URL, h kv.Handle) string {
	v := url.Values{}
	v.Set(ParamDataID, string(h))
	return withQuery(base, v)
}

// setEncoding marks non-inline payloads; inline is the default on load.
func setEncoding(v url.Values, s codec.Strategy) {
	if s != codec.Inline {
		v.Set(ParamEncoding, s.String())
	}
}

func withQuery(base *url.URL, v url.Values) string {
	u := *base
	u.RawQuery = v.Encode()
	return u.String()
}
