package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/kv"
	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/resolve"
	"github.com/recera/scattershare/pkg/share"
)

// errBadRequest marks client mistakes that have no better kind.
var errBadRequest = errors.New("bad request")

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// apiFunc returns a value to encode as JSON or an error.
type apiFunc func(r *http.Request) (any, error)

func (s *Server) api(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// classify maps an error to a status code and a kind clients can switch on.
func classify(err error) (int, string) {
	var se *kv.StorageError
	switch {
	case errors.Is(err, codec.ErrDecode):
		return http.StatusBadRequest, "decode"
	case errors.Is(err, chunk.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, chunk.ErrInvalidFragment):
		return http.StatusBadRequest, "fragment"
	case errors.Is(err, resolve.ErrUnsupported):
		return http.StatusBadRequest, "unsupported"
	case errors.Is(err, share.ErrEmptyDataset):
		return http.StatusConflict, "empty"
	case errors.Is(err, share.ErrStale), errors.Is(err, resolve.ErrStale):
		return http.StatusConflict, "stale"
	case kv.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &se):
		return http.StatusBadGateway, "storage"
	case errors.Is(err, errBadRequest), errors.Is(err, render.ErrBadSize):
		return http.StatusBadRequest, "request"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := classify(err)
	if code >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "kind", kind, "err", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "kind", kind, "err", err)
	}
	writeJSON(w, code, ErrorBody{Error: err.Error(), Kind: kind})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusRecorder remembers the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrade through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("web: response does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"dur", time.Since(start).Round(time.Microsecond),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("panic in handler", "path", r.URL.Path, "error", v)
				writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal server error", Kind: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
