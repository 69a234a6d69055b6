// Package main provides the HabitNexus client CLI: local habit edits that
// work offline, the operation queue, and sync with the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitnexus/backend/internal/config"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "habitnexus",
		Short:         "Offline-first habit tracker client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "config file")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override the data directory")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level")

	cmd.AddCommand(
		newVersionCmd(),
		newHabitCmd(opts),
		newQueueCmd(opts),
		newSyncCmd(opts),
		newSettingsCmd(opts),
		newRunCmd(opts),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "HabitNexus Core v%s\n", Version)
		},
	}
}

// loadConfig applies flag overrides and initializes logging.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logging.Init(cfg.LogWriter(cmd.ErrOrStderr()), cfg.Level())
	return cfg, nil
}

// withApp runs fn with a wired app and closes it afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
