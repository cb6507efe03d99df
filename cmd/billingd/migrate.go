package main

import (
	"github.com/spf13/cobra"

	"github.com/imobcloud/billing/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		pool, err := pg.Connect(cmd.Context(), cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(cmd.Context(), pool, cfg.Postgres, log); err != nil {
			return err
		}
		log.InfoContext(cmd.Context(), "migrations applied")
		return nil
	},
}
