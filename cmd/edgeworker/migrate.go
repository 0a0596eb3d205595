package main

import (
	"errors"

	"github.com/anonchat/edgeworker/internal/config"
	"github.com/anonchat/edgeworker/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back PostgreSQL schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMigrate(postgres.Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runMigrate(postgres.Down)
	},
}

func runMigrate(dir postgres.Direction) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is not set")
	}
	return postgres.Migrate(cfg.Database.URL, dir)
}
