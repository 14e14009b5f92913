package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recera/scattershare/internal/config"
	"github.com/recera/scattershare/internal/logging"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
)

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

// workspace writes a config and a spreadsheet of n points.
func workspace(t *testing.T, n int, share string) (cfgPath, dataPath string, want point.Dataset) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, config.FileName)
	cfg := fmt.Sprintf("storage:\n  backend: file\n  dir: %s\nshare:\n%slog:\n  level: error\n",
		filepath.Join(dir, "store"), share)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	var csv strings.Builder
	csv.WriteString("x,y,z,label,color\n")
	for i := 0; i < n; i++ {
		p := point.Point{X: float64(i), Y: float64(i) * 0.5, Z: float64(n - i), Label: fmt.Sprintf("p%d", i), Color: point.CategoryColor(float64(i % 3))}
		fmt.Fprintf(&csv, "%g,%g,%g,%s,%d\n", p.X, p.Y, p.Z, p.Label, i%3)
		want = append(want, p)
	}
	dataPath = filepath.Join(dir, "points.csv")
	if err := os.WriteFile(dataPath, []byte(csv.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dataPath, want
}

func shareJSON(t *testing.T, args ...string) shareResult {
	t.Helper()
	out, _, err := run(t, append([]string{"share", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	var res shareResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("share output %q: %v", out, err)
	}
	return res
}

func TestShareOpen_Handle(t *testing.T) {
	cfg, data, want := workspace(t, 5, "  strategy: handle\n")

	res := shareJSON(t, "--config", cfg, "--base-url", "https://plots.example/", data)
	if res.Points != 5 || len(res.Links) != 1 || res.Links[0] != "https://plots.example/?dataId=1" {
		t.Fatalf("share = %+v", res)
	}

	out, _, err := run(t, "open", "--config", cfg, "--points", res.Links[0])
	if err != nil {
		t.Fatal(err)
	}
	got, err := codec.UnmarshalText([]byte(strings.TrimSpace(out)))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("points = %v, want %v", got, want)
	}
}

func TestShareOpen_ChunksAcrossRuns(t *testing.T) {
	cfg, data, want := workspace(t, 30, "  strategy: base64\n  max_url_length: 300\n")

	res := shareJSON(t, "--config", cfg, data)
	if len(res.Links) < 4 || res.Session == "" {
		t.Fatalf("expected chunk links, got %+v", res)
	}
	half := len(res.Links) / 2

	_, stderr, err := run(t, append([]string{"open", "--config", cfg}, res.Links[:half]...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, fmt.Sprintf("received %d of %d", half, len(res.Links))) {
		t.Errorf("stderr = %q", stderr)
	}

	chart := filepath.Join(filepath.Dir(cfg), "chart.svg")
	args := append([]string{"open", "--config", cfg, "--out", chart, "--points"}, res.Links[half:]...)
	out, _, err := run(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	got, err := codec.UnmarshalText([]byte(strings.TrimSpace(out)))
	if err != nil || !got.Equal(want) {
		t.Errorf("reassembled points differ: %v", err)
	}
	body, err := os.ReadFile(chart)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(body, []byte("<?xml")) || bytes.Count(body, []byte("<circle")) != 30 {
		t.Errorf("chart is not the expected SVG: %.100s", body)
	}
}

func TestOpen_Errors(t *testing.T) {
	cfg, _, _ := workspace(t, 1, "  strategy: inline\n")
	if _, _, err := run(t, "open", "--config", cfg, "https://plots.example/?nothing=1"); err == nil {
		t.Error("expected an error for a link without share data")
	}
	if _, _, err := run(t, "open", "--config", cfg, "https://plots.example/?data=%5B"); err == nil {
		t.Error("expected a decode error")
	}
	if _, _, err := run(t, "share", "--config", cfg, "--strategy", "smoke", "x.csv"); err == nil {
		t.Error("expected an unknown strategy error")
	}
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	if _, _, err := run(t, "config", "init", "--config", path); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "config", "init", "--config", path); err == nil {
		t.Error("init overwrote an existing file")
	}
	out, _, err := run(t, "config", "show", "--config", path, "--log-level", "debug")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"backend: file", "level: debug", "strategy: inline"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show lacks %q:\n%s", want, out)
		}
	}
}

func TestRendererFor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.AssetsHost = "https://cdn.example/"

	tests := []struct {
		format, out string
		want        string
	}{
		{"", "chart.svg", "render.SVG"},
		{"", "chart.HTML", "render.ECharts"},
		{"", "chart.out", "render.ECharts"},
		{"svg", "chart.html", "render.SVG"},
		{"", "chart.png", "render.PNG"},
	}
	for _, tt := range tests {
		r, err := rendererFor(cfg, tt.format, tt.out)
		if err != nil {
			t.Fatal(err)
		}
		if got := fmt.Sprintf("%T", r); got != tt.want {
			t.Errorf("rendererFor(%q, %q) = %s, want %s", tt.format, tt.out, got, tt.want)
		}
		if e, ok := r.(render.ECharts); ok && e.AssetsHost != cfg.Server.AssetsHost {
			t.Error("assets host not applied")
		}
	}
	if _, err := rendererFor(cfg, "gif", ""); err == nil {
		t.Error("expected an error for gif")
	}
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	if err := os.WriteFile(path, []byte("x,y,z,label\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, logging.Discard(), func() error {
			reloads.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for i := 0; reloads.Load() == 0; i++ {
		if time.Now().After(deadline) {
			t.Fatal("no reload after writing the file")
		}
		os.WriteFile(path, []byte(fmt.Sprintf("x,y,z,label\n%d,0,0,a\n", i)), 0644)
		time.Sleep(150 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchFile returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchFile did not stop")
	}
}
