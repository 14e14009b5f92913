// Package web is the HTTP front end: it loads shared links, accepts
// spreadsheet uploads, builds share links and serves the chart.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/live"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/resolve"
	"github.com/recera/scattershare/pkg/share"
)

// Config configures a Server.
type Config struct {
	// BaseURL is the page share links point at. Empty derives it from each
	// request.
	BaseURL string
	// MaxUpload bounds uploaded files in bytes.
	MaxUpload int64
	Rows      point.RowOptions
	View      render.ViewConfig
	// Renderer draws the chart page. Nil means ECharts.
	Renderer render.Renderer
	Logger   *slog.Logger
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Store    *dataset.Store
	Sharer   *share.Sharer
	Resolver *resolve.Resolver
	// Hub is optional; without it pages are not updated live.
	Hub *live.Hub
}

// Server serves the front end.
type Server struct {
	store    *dataset.Store
	sharer   *share.Sharer
	resolver *resolve.Resolver
	hub      *live.Hub
	renderer render.Renderer

	baseURL   string
	maxUpload int64
	rows      point.RowOptions
	log       *slog.Logger

	mu      sync.RWMutex
	view    render.ViewConfig
	viewRev uint64

	handler http.Handler
}

// New creates a server.
func New(deps Deps, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.ECharts{}
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 32 << 20
	}
	s := &Server{
		store:     deps.Store,
		sharer:    deps.Sharer,
		resolver:  deps.Resolver,
		hub:       deps.Hub,
		renderer:  cfg.Renderer,
		baseURL:   cfg.BaseURL,
		maxUpload: cfg.MaxUpload,
		rows:      cfg.Rows,
		log:       cfg.Logger.With("comp", "web"),
		view:      cfg.View.WithDefaults(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /share", s.api(s.handleShare))
	mux.HandleFunc("GET /api/dataset", s.handleDataset)
	mux.HandleFunc("GET /api/view", s.api(s.handleGetView))
	mux.HandleFunc("PATCH /api/view", s.api(s.handlePatchView))
	mux.HandleFunc("GET /chart", s.handleChart)
	if s.hub != nil {
		mux.Handle("GET /live", s.hub)
	}
	s.handler = s.recoverer(s.logRequests(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// View returns the current view configuration.
func (s *Server) View() render.ViewConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// UpdateView applies p to the current view and tells open pages.
func (s *Server) UpdateView(p render.ViewPatch) (render.ViewConfig, error) {
	s.mu.Lock()
	v, err := s.view.Apply(p)
	if err != nil {
		s.mu.Unlock()
		return s.view, err
	}
	s.view = v
	s.viewRev++
	rev := s.viewRev
	s.mu.Unlock()

	if s.hub != nil {
		if raw, err := json.Marshal(v); err == nil {
			s.hub.Broadcast(live.Event{Type: live.EventView, Version: rev, View: raw})
		}
	}
	s.log.Info("view updated", "rev", rev)
	return v, nil
}

func (s *Server) viewState() (render.ViewConfig, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view, s.viewRev
}
