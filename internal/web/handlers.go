package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/resolve"
	"github.com/recera/scattershare/pkg/sheet"
)

// maxViewPatch bounds PATCH /api/view bodies.
const maxViewPatch = 64 << 10

// handleIndex loads whatever share parameters the URL carries, then shows
// the chart, the chunk progress, or the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.resolver != nil && len(r.URL.Query()) > 0 {
		res, err := s.resolver.Resolve(r.Context(), r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// A link of a share that already completed shows the chart.
		closed := res.Duplicate && res.Total > 0 && res.Received == res.Total
		if res.Outcome == resolve.Waiting && !closed {
			s.writePage(w, http.StatusAccepted, waitingPage, waitingData{
				Received:  res.Received,
				Total:     res.Total,
				Duplicate: res.Duplicate,
			})
			return
		}
		if res.Outcome == resolve.Loaded {
			s.log.Info("dataset loaded from link", "source", res.Source, "points", len(res.Dataset), "version", res.Version)
		}
	}

	if s.store.Len() == 0 {
		s.writePage(w, http.StatusOK, uploadPage, uploadData{MaxUploadMB: s.maxUpload >> 20})
		return
	}
	s.writeChartPage(w, r)
}

func (s *Server) writeChartPage(w http.ResponseWriter, r *http.Request) {
	d, version := s.store.Current(), s.store.Version()
	v, rev := s.viewState()

	c, err := s.renderer.Render(r.Context(), d, v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var script string
	if s.hub != nil {
		script = liveScript(version, rev)
	}

	w.Header().Set("X-Dataset-Version", strconv.FormatUint(version, 10))
	if strings.HasPrefix(c.ContentType, "text/html") {
		w.Header().Set("Content-Type", c.ContentType)
		w.Write(injectScript(c.Body, script))
		return
	}
	chart := template.HTML(stripProlog(c.Body))
	if c.ContentType == "image/png" {
		chart = template.HTML(`<img alt="chart" src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(c.Body) + `">`)
	}
	s.writePage(w, http.StatusOK, chartPage, chartData{
		Title:  v.Title,
		Chart:  chart,
		Script: template.JS(script),
	})
}

// injectScript puts script just before </body>, or at the end of page.
func injectScript(page []byte, script string) []byte {
	if script == "" {
		return page
	}
	tag := []byte("<script>" + script + "</script>")
	i := bytes.LastIndex(page, []byte("</body>"))
	if i < 0 {
		return append(page, tag...)
	}
	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:i]...)
	out = append(out, tag...)
	return append(out, page[i:]...)
}

// stripProlog drops the XML declaration so the SVG can sit inside HTML.
func stripProlog(svg []byte) []byte {
	if i := bytes.Index(svg, []byte("<svg")); i > 0 {
		return svg[i:]
	}
	return svg
}

type uploadResult struct {
	Version   uint64   `json:"version"`
	Points    int      `json:"points"`
	Rows      int      `json:"rows"`
	Skipped   int      `json:"skipped"`
	Rejected  int      `json:"rejected"`
	NonFinite int      `json:"non_finite"`
	Errors    []string `json:"errors,omitempty"`
}

// maxReportedErrors caps the row errors echoed back for one upload.
const maxReportedErrors = 10

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, r, badRequest("parse upload: %v", err))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, badRequest("missing file field: %v", err))
		return
	}
	defer f.Close()

	d, rep, err := sheet.ReadDataset(f, hdr.Filename, s.rows)
	if err != nil {
		s.writeError(w, r, badRequest("read %s: %v", hdr.Filename, err))
		return
	}
	if len(d) == 0 {
		s.writeError(w, r, badRequest("%s contains no points", hdr.Filename))
		return
	}

	version := s.store.Replace(d)
	s.log.Info("dataset uploaded", "file", hdr.Filename, "points", len(d), "skipped", rep.Skipped, "rejected", rep.Rejected, "version", version)

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	res := uploadResult{
		Version:   version,
		Points:    len(d),
		Rows:      rep.Rows,
		Skipped:   rep.Skipped,
		Rejected:  rep.Rejected,
		NonFinite: rep.NonFinite,
	}
	for i, e := range rep.Errors {
		if i == maxReportedErrors {
			break
		}
		res.Errors = append(res.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, res)
}

type shareResult struct {
	Token    uint64         `json:"token"`
	Strategy codec.Strategy `json:"strategy"`
	Links    []string       `json:"links"`
	Session  string         `json:"session,omitempty"`
	Handle   string         `json:"handle,omitempty"`
}

func (s *Server) handleShare(r *http.Request) (any, error) {
	links, err := s.sharer.Share(r.Context(), s.shareBase(r))
	if err != nil {
		return nil, err
	}
	return shareResult{
		Token:    links.Token,
		Strategy: links.Strategy,
		Links:    links.URLs,
		Session:  links.Session,
		Handle:   string(links.Handle),
	}, nil
}

// shareBase is the page links point back at.
func (s *Server) shareBase(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	b, err := codec.MarshalText(s.store.Current())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Dataset-Version", strconv.FormatUint(s.store.Version(), 10))
	w.Write(b)
}

func (s *Server) handleGetView(r *http.Request) (any, error) {
	return s.View(), nil
}

func (s *Server) handlePatchView(r *http.Request) (any, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxViewPatch))
	dec.DisallowUnknownFields()
	var p render.ViewPatch
	if err := dec.Decode(&p); err != nil {
		return nil, badRequest("view patch: %v", err)
	}
	v, err := s.UpdateView(p)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	return v, nil
}

// handleChart serves the bare chart document. ?format picks the renderer
// and ?size overrides the view size for this response only.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rr := s.renderer
	if f := q.Get("format"); f != "" {
		var err error
		if rr, err = render.New(f); err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		if e, ok := s.renderer.(render.ECharts); ok {
			if _, wantHTML := rr.(render.ECharts); wantHTML {
				rr = e
			}
		}
	}
	v := s.View()
	if size := q.Get("size"); size != "" {
		next, err := v.Apply(render.ViewPatch{Size: &size})
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		v = next
	}

	c, err := rr.Render(r.Context(), s.store.Current(), v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", c.ContentType)
	w.Header().Set("X-Plotted", strconv.Itoa(c.Plotted))
	w.Header().Set("X-Excluded", strconv.Itoa(c.Excluded))
	w.Write(c.Body)
}

func (s *Server) writePage(w http.ResponseWriter, code int, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		s.log.Error("failed to render page", "page", t.Name(), "err", err)
		http.Error(w, fmt.Sprintf("render %s: %v", t.Name(), err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}
