// Command shortlist is a conversational product-research assistant: describe what you want
// to buy and it searches, builds a comparison table and helps you decide.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"shortlist/pkg/config"
	"shortlist/pkg/logx"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	dir        string
	configPath string
	verbose    bool
	debug      []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "shortlist",
		Short: "Research products by conversation and get a ranked shortlist",
		Long: `shortlist turns a shopping request into a researched comparison table.

Describe what you need ("an electric kettle under £50, quiet, 1.7L"), confirm the
requirements it extracts, and it searches the web for candidates, fills in a table
of specs and prices, and recommends a shortlist. Keep talking to refine it.

Run without arguments to start a chat.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, chatFlags{})
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logx.Sync()
		},
	}

	root.PersistentFlags().StringVar(&flags.dir, "dir", ".", "base directory holding the .shortlist state directory")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default <dir>/.shortlist/config.yaml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "print logs to the console")
	root.PersistentFlags().StringSliceVar(&flags.debug, "debug", nil, "enable debug logs for these domains (\"all\" for every domain)")

	root.AddCommand(
		newChatCmd(flags),
		newSessionsCmd(flags),
		newSecretsCmd(flags),
		newConfigCmd(flags),
		newUsageCmd(flags),
	)
	return root
}

func (f *rootFlags) stateDir() string {
	return filepath.Join(f.dir, config.StateDirName)
}

func (f *rootFlags) resolvedConfigPath() string {
	if f.configPath != "" {
		return f.configPath
	}
	return filepath.Join(f.stateDir(), config.ConfigFileName)
}

// setup loads configuration and secrets and points logging at the configured sinks.
func (f *rootFlags) setup() (config.Config, error) {
	if err := config.LoadConfig(f.resolvedConfigPath()); err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return config.Config{}, err
	}

	if !filepath.IsAbs(cfg.Session.SQLitePath) {
		cfg.Session.SQLitePath = filepath.Join(f.dir, cfg.Session.SQLitePath)
	}
	if cfg.Logging.File != "" && !filepath.IsAbs(cfg.Logging.File) {
		cfg.Logging.File = filepath.Join(f.dir, cfg.Logging.File)
	}
	configureLogging(cfg.Logging, f.verbose, f.debug)

	if err := loadSecrets(f.dir); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func configureLogging(lc config.LoggingConfig, verbose bool, debugDomains []string) {
	opts := logx.Options{
		File:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
	}
	if !verbose {
		opts.Output = io.Discard
	}
	logx.Configure(opts)

	switch {
	case len(debugDomains) == 1 && debugDomains[0] == "all":
		logx.SetDebugConfig(true, nil)
	case len(debugDomains) > 0:
		logx.SetDebugConfig(true, debugDomains)
	case lc.Debug:
		logx.SetDebugConfig(true, lc.DebugDomains)
	}
}
