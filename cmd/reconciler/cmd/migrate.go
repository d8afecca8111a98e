package cmd

import (
	"fmt"

	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		log := logger.GetGlobalLogger().WithComponent("cli")
		err = logger.TimedOperation("migrate", log, func() error {
			return store.Migrate(ctx)
		})
		if err != nil {
			return errors.StorageError(errors.CodeMigrationFailed, "migrate schema", err).
				WithContext("database", appConfig.Database.String())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", appConfig.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
