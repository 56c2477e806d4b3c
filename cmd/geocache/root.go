package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/TomasB/geocache/internal/config"
	"github.com/TomasB/geocache/internal/logging"
)

const name = "geocache"

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          name,
		Short:        "IP geolocation gateway with a local cache and a deny-list",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")

	root.AddCommand(
		newServeCmd(&configFile),
		newMigrateCmd(&configFile),
		newLookupCmd(&configFile),
		newVersionCmd(name),
	)
	return root
}

// setup loads the configuration and installs the default logger.
// Console log output goes to w.
func setup(configFile string, w io.Writer) (config.Config, *slog.Logger, error) {
	conf, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := logging.NewTo(conf.Log, w)
	slog.SetDefault(logger)
	return conf, logger, nil
}
