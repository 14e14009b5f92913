package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/recera/scattershare/internal/config"
	"github.com/recera/scattershare/internal/logging"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// globals are resolved once by the root command before any subcommand runs.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "scattershare",
		Short: "Share 3D scatter plots as links",
		Long: `scattershare turns a spreadsheet of X, Y, Z, label and color columns into an
interactive 3D scatter plot and packs the processed data into share links:
one link, several chunk links, or a short handle into a shared store.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.FileName, "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(newServeCommand(g))
	rootCmd.AddCommand(newShareCommand(g))
	rootCmd.AddCommand(newOpenCommand(g))
	rootCmd.AddCommand(newCollectCommand(g))
	rootCmd.AddCommand(newConfigCommand(g))
	return rootCmd
}

// load reads the config file and builds the logger. Flags override file
// values.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	g.cfg = cfg
	g.log = log
	return nil
}
