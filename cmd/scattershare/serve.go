package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/recera/scattershare/internal/web"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/live"
)

func newServeCommand(g *globals) *cobra.Command {
	var (
		addr     string
		baseURL  string
		strategy string
		maxLen   int
		renderer string
		watch    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload, share and chart pages",
		Long: `Starts the HTTP front end. Opening a share link against it loads the shared
data; chunk links may be opened in any order. With --watch the dataset is
reloaded whenever the spreadsheet changes and open pages refresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("base-url") {
				cfg.Server.BaseURL = baseURL
			}
			if flags.Changed("strategy") {
				s, err := codec.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				cfg.Share.Strategy = s
			}
			if flags.Changed("max-url-length") {
				cfg.Share.MaxURLLength = maxLen
			}
			if flags.Changed("renderer") {
				cfg.Server.Renderer = renderer
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), g, watch)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from config)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public URL share links point at")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Share strategy: inline, base64 or handle")
	cmd.Flags().IntVar(&maxLen, "max-url-length", 0, "Longest link before data is split into chunk links")
	cmd.Flags().StringVar(&renderer, "renderer", "", "Chart renderer: html, svg or png")
	cmd.Flags().StringVarP(&watch, "watch", "w", "", "Spreadsheet to load and reload on change")
	return cmd
}

func runServe(ctx context.Context, g *globals, watch string) error {
	cfg := g.cfg
	st, err := newStack(g)
	if err != nil {
		return err
	}
	defer st.Close()

	rr, err := rendererFor(cfg, cfg.Server.Renderer, "")
	if err != nil {
		return err
	}

	hub := live.NewHub(live.Config{
		AllowedOrigins: cfg.Live.AllowedOrigins,
		SendBuffer:     cfg.Live.SendBuffer,
		Logger:         g.log,
	})
	defer hub.Close()
	detach := hub.Attach(st.store)
	defer detach()

	reload := func() error {
		d, rep, err := loadFile(watch, cfg.RowOptions())
		if err != nil {
			return err
		}
		v := st.store.Replace(d)
		g.log.Info("dataset loaded", "file", watch, "points", len(d), "skipped", rep.Skipped, "rejected", rep.Rejected, "version", v)
		return nil
	}
	if watch != "" {
		if err := reload(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: web.New(web.Deps{
			Store:    st.store,
			Sharer:   st.sharer,
			Resolver: st.resolver,
			Hub:      hub,
		}, web.Config{
			BaseURL:   cfg.Server.BaseURL,
			MaxUpload: cfg.Server.MaxUpload,
			Rows:      cfg.RowOptions(),
			View:      cfg.View,
			Renderer:  rr,
			Logger:    g.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		fmt.Fprintf(os.Stderr, "%s %s\n", titleStyle.Render("scattershare"), linkStyle.Render("http://"+srv.Addr+"/"))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Chunks.SweepInterval > 0 {
		eg.Go(func() error {
			return sweepLoop(ctx, g, st, cfg.Chunks.SweepInterval)
		})
	}

	if watch != "" {
		eg.Go(func() error {
			return watchFile(ctx, watch, g.log, reload)
		})
	}

	return eg.Wait()
}

// sweepLoop drops abandoned chunk sessions.
func sweepLoop(ctx context.Context, g *globals, st *stack, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := st.chunks.Sweep(ctx)
			if err != nil {
				g.log.Warn("chunk sweep failed", "err", err)
				continue
			}
			if n > 0 {
				g.log.Info("dropped expired chunk sessions", "count", n)
			}
		}
	}
}
