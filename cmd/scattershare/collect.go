package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/recera/scattershare/cmd/scattershare/internal/ui"
)

func newCollectCommand(g *globals) *cobra.Command {
	var (
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Paste chunk links interactively until the share is complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newStack(g)
			if err != nil {
				return err
			}
			defer st.Close()

			m := ui.NewCollectModel(cmd.Context(), st.resolver, g.cfg.View)
			final, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			res, ok := final.(ui.CollectModel).Result()
			if !ok {
				return nil
			}

			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("loaded %d points", len(res.Dataset))))
				return nil
			}
			c, err := writeChart(cmd.Context(), g.cfg, format, out, res.Dataset)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("wrote %s (%d points)", out, c.Plotted)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the chart to this file when complete")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Chart format: html, svg or png (default from --out)")
	return cmd
}
