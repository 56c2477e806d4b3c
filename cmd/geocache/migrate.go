package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TomasB/geocache/internal/store"
)

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or migrate the schema of the configured store and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, _, err := setup(*configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			// Opening a store creates or migrates its schema.
			st, err := store.Open(cmd.Context(), conf.Store)
			if err != nil {
				return fmt.Errorf("open %s store: %w", conf.Store.Driver, err)
			}
			defer st.Close()

			if err := st.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping %s store: %w", conf.Store.Driver, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", conf.Store.Driver)
			return nil
		},
	}
}
