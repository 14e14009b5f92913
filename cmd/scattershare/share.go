package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recera/scattershare/pkg/codec"
)

func newShareCommand(g *globals) *cobra.Command {
	var (
		strategy string
		maxLen   int
		baseURL  string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "share FILE",
		Short: "Print share links for a spreadsheet",
		Long: `Reads a CSV, TSV or XLSX file and prints the links that carry its data.
Long payloads are split into chunk links; all of them must be opened. The
handle strategy stores the data in the configured storage and prints one
short link, which only a server sharing that storage can open.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			flags := cmd.Flags()
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
			if !flags.Changed("base-url") {
				baseURL = cfg.Server.BaseURL
			}
			if baseURL == "" {
				baseURL = "http://" + cfg.Server.Addr + "/"
			}

			d, rep, err := loadFile(args[0], cfg.RowOptions())
			if err != nil {
				return err
			}

			st, err := newStack(g)
			if err != nil {
				return err
			}
			defer st.Close()

			st.store.Replace(d)
			links, err := st.sharer.Share(cmd.Context(), baseURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(shareResult{
					Strategy: links.Strategy,
					Points:   len(d),
					Links:    links.URLs,
					Session:  links.Session,
					Handle:   string(links.Handle),
				})
			}

			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d points → %d link(s), %s", len(d), len(links.URLs), links.Strategy)))
			if rep.Skipped+rep.Rejected > 0 {
				fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("skipped %d short and %d unreadable rows", rep.Skipped, rep.Rejected)))
			}
			for _, u := range links.URLs {
				fmt.Fprintln(out, u)
			}
			if links.Chunked() {
				fmt.Fprintln(out, mutedStyle.Render("open every link above, in any order"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Share strategy: inline, base64 or handle")
	cmd.Flags().IntVar(&maxLen, "max-url-length", 0, "Longest link before data is split into chunk links")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Page the links point at")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the links as JSON")
	return cmd
}

type shareResult struct {
	Strategy codec.Strategy `json:"strategy"`
	Points   int            `json:"points"`
	Links    []string       `json:"links"`
	Session  string         `json:"session,omitempty"`
	Handle   string         `json:"handle,omitempty"`
}
