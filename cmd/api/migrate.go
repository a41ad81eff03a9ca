package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"signoff-backend/internal/infrastructure/db"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, closeDB, err := openDatabase(opts.cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := db.Migrate(gdb); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", opts.cfg.DBDriver)
			return nil
		},
	}
}
