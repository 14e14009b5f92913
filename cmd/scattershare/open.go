package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recera/scattershare/cmd/scattershare/internal/ui"
	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/resolve"
)

func newOpenCommand(g *globals) *cobra.Command {
	var (
		out    string
		format string
		points bool
	)

	cmd := &cobra.Command{
		Use:   "open LINK...",
		Short: "Load share links and write the chart",
		Long: `Resolves share links in the order given. Chunk links are kept in the
configured storage, so the links of one share may be passed across several
runs. Once the data is complete the chart is written to --out, the points
are printed with --points, or a preview is drawn in the terminal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newStack(g)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			errw := cmd.ErrOrStderr()

			var res resolve.Result
			for _, link := range args {
				res, err = st.resolver.ResolveURL(cmd.Context(), link)
				if err != nil {
					return err
				}
				if res.Outcome == resolve.NoOp {
					return fmt.Errorf("%s: %w", link, ui.ErrNoShare)
				}
				if res.Outcome == resolve.Loaded {
					break
				}
			}

			if res.Outcome == resolve.Waiting {
				fmt.Fprintln(errw, warningStyle.Render(fmt.Sprintf("received %d of %d links", res.Received, res.Total)))
				fmt.Fprintln(errw, mutedStyle.Render("run open again with the remaining links"))
				return nil
			}

			if points {
				b, err := codec.MarshalText(res.Dataset)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(b))
			}
			if out != "" {
				c, err := writeChart(cmd.Context(), g.cfg, format, out, res.Dataset)
				if err != nil {
					return err
				}
				fmt.Fprintln(errw, successStyle.Render(fmt.Sprintf("wrote %s (%d points, %d excluded)", out, c.Plotted, c.Excluded)))
			}
			if !points && out == "" {
				fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("loaded %d points from %s", len(res.Dataset), res.Source)))
				fmt.Fprintln(w, ui.Preview(res.Dataset, g.cfg.View, 60, 18))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the chart to this file")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Chart format: html, svg or png (default from --out)")
	cmd.Flags().BoolVar(&points, "points", false, "Print the points as JSON")
	return cmd
}
