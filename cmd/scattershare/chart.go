package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/recera/scattershare/internal/config"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
)

// rendererFor picks the renderer from an explicit format, then the output
// file extension, then the config.
func rendererFor(cfg *config.Config, format, out string) (render.Renderer, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(out)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		case ".html", ".htm":
			format = "html"
		default:
			format = cfg.Server.Renderer
		}
	}
	r, err := render.New(format)
	if err != nil {
		return nil, err
	}
	if e, ok := r.(render.ECharts); ok {
		e.AssetsHost = cfg.Server.AssetsHost
		r = e
	}
	return r, nil
}

// writeChart renders d to path.
func writeChart(ctx context.Context, cfg *config.Config, format, path string, d point.Dataset) (*render.Chart, error) {
	r, err := rendererFor(cfg, format, path)
	if err != nil {
		return nil, err
	}
	c, err := r.Render(ctx, d, cfg.View)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, c.Body, 0644); err != nil {
		return nil, fmt.Errorf("failed to write chart: %w", err)
	}
	return c, nil
}
