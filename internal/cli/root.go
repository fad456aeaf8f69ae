// Package cli implements the reputation command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "reputation",
		Short:         "Reputation and presence engine",
		Long:          "Scores community actions, tracks login streaks, grants badges and trophies and pushes live updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))

	return cmd
}

// loadConfig loads configuration and creates the logger it describes.
func loadConfig(opts *RootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	return cfg, logger.Get(), nil
}
