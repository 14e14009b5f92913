// Package config loads scattershare.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recera/scattershare/internal/logging"
	"github.com/recera/scattershare/internal/store"
	"github.com/recera/scattershare/pkg/chunk"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/share"
)

// FileName is the config file looked up in the working directory.
const FileName = "scattershare.yaml"

// Storage backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config represents scattershare.yaml.
type Config struct {
	Server  ServerConfig      `yaml:"server"`
	Share   ShareConfig       `yaml:"share"`
	Storage StorageConfig     `yaml:"storage"`
	Chunks  ChunkConfig       `yaml:"chunks"`
	Rows    RowConfig         `yaml:"rows"`
	View    render.ViewConfig `yaml:"view"`
	Log     LogConfig         `yaml:"log"`
	Live    LiveConfig        `yaml:"live"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the page share links point at. Empty means the address
	// the request came in on.
	BaseURL string `yaml:"base_url,omitempty"`
	// Renderer is "html", "svg" or "png".
	Renderer string `yaml:"renderer"`
	// AssetsHost overrides where the chart page loads echarts from.
	AssetsHost string `yaml:"assets_host,omitempty"`
	// MaxUpload bounds uploaded spreadsheets in bytes.
	MaxUpload int64 `yaml:"max_upload"`
}

// ShareConfig configures link building.
type ShareConfig struct {
	Strategy     codec.Strategy `yaml:"strategy"`
	MaxURLLength int            `yaml:"max_url_length"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	Backend         string        `yaml:"backend"`
	Dir             string        `yaml:"dir"`
	MaxSize         int64         `yaml:"max_size"`
	MaxAge          time.Duration `yaml:"max_age"`
	HandleMaxAge    time.Duration `yaml:"handle_max_age,omitempty"`
	Eviction        string        `yaml:"eviction"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ChunkConfig configures reassembly of chunk links.
type ChunkConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// MaxTotal caps the totalChunks a link may announce.
	MaxTotal int `yaml:"max_total"`
}

// RowConfig controls how spreadsheet rows become points.
type RowConfig struct {
	Header        bool `yaml:"header"`
	ColorColumn   int  `yaml:"color_column"`
	Strict        bool `yaml:"strict,omitempty"`
	DropNonFinite bool `yaml:"drop_non_finite,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LiveConfig configures the websocket hub.
type LiveConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	SendBuffer     int      `yaml:"send_buffer"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sc := store.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:      "localhost:8420",
			Renderer:  "html",
			MaxUpload: 32 << 20,
		},
		Share: ShareConfig{
			Strategy:     codec.Inline,
			MaxURLLength: share.DefaultMaxURLLength,
		},
		Storage: StorageConfig{
			Backend:         BackendFile,
			Dir:             sc.Dir,
			MaxSize:         sc.MaxSize,
			MaxAge:          sc.MaxAge,
			Eviction:        "lru",
			CleanupInterval: sc.CleanupInterval,
		},
		Chunks: ChunkConfig{
			TTL:           chunk.DefaultTTL,
			SweepInterval: 5 * time.Minute,
			MaxTotal:      chunk.DefaultMaxTotal,
		},
		Rows: RowConfig{
			Header:      true,
			ColorColumn: point.DefaultRowOptions().ColorColumn,
		},
		View: render.DefaultViewConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Live: LiveConfig{
			SendBuffer: 16,
		},
	}
}

// Load reads the config file at path. A missing file yields the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills values a file may have blanked out explicitly.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Server.Renderer == "" {
		cfg.Server.Renderer = defaults.Server.Renderer
	}
	if cfg.Server.MaxUpload <= 0 {
		cfg.Server.MaxUpload = defaults.Server.MaxUpload
	}
	if cfg.Share.MaxURLLength == 0 {
		cfg.Share.MaxURLLength = defaults.Share.MaxURLLength
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = defaults.Storage.Dir
	}
	if cfg.Storage.Eviction == "" {
		cfg.Storage.Eviction = defaults.Storage.Eviction
	}
	if cfg.Chunks.TTL == 0 {
		cfg.Chunks.TTL = defaults.Chunks.TTL
	}
	if cfg.Chunks.MaxTotal == 0 {
		cfg.Chunks.MaxTotal = defaults.Chunks.MaxTotal
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Live.SendBuffer <= 0 {
		cfg.Live.SendBuffer = defaults.Live.SendBuffer
	}
	cfg.View = cfg.View.WithDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.base_url %q is not an absolute URL", c.Server.BaseURL)
		}
	}
	if _, err := render.New(c.Server.Renderer); err != nil {
		return fmt.Errorf("server.renderer: %w", err)
	}
	if c.Share.MaxURLLength < 0 {
		return fmt.Errorf("share.max_url_length must not be negative")
	}
	switch c.Storage.Backend {
	case BackendFile, BackendBadger:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if _, err := store.ParseEvictionStrategy(c.Storage.Eviction); err != nil {
		return err
	}
	if c.Chunks.TTL < 0 {
		return fmt.Errorf("chunks.ttl must not be negative")
	}
	if c.Chunks.MaxTotal < 1 {
		return fmt.Errorf("chunks.max_total must be positive")
	}
	// Replay of the dataset and view events must fit without a reader.
	if c.Live.SendBuffer < 2 {
		return fmt.Errorf("live.send_buffer must be at least 2")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if err := c.View.Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}
	return nil
}

// StoreConfig returns the file store configuration.
func (c *Config) StoreConfig() store.Config {
	strategy, _ := store.ParseEvictionStrategy(c.Storage.Eviction)
	return store.Config{
		Dir:             c.Storage.Dir,
		MaxSize:         c.Storage.MaxSize,
		MaxAge:          c.Storage.MaxAge,
		HandleMaxAge:    c.Storage.HandleMaxAge,
		Strategy:        strategy,
		CleanupInterval: c.Storage.CleanupInterval,
	}
}

// RowOptions returns the row conversion options.
func (c *Config) RowOptions() point.RowOptions {
	return point.RowOptions{
		Header:        c.Rows.Header,
		ColorColumn:   c.Rows.ColorColumn,
		Strict:        c.Rows.Strict,
		DropNonFinite: c.Rows.DropNonFinite,
	}
}
