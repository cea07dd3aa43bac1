package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/versecatch/internal/app"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat))

			// Opening a backend applies its schema.
			_, closeFn, err := app.OpenStorage(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			if err := closeFn(); err != nil {
				return fmt.Errorf("close storage: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}
