package main

import (
	"context"
	"fmt"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/config"
	"github.com/clinicbook/clinicbook/services/appointment-service/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *envFile, func(ctx context.Context, m *db.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return err
				}
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied, schema version %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *envFile, func(ctx context.Context, m *db.Migrator) error {
				return m.Status(ctx)
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, envFile string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(envFile, config.StorePostgres)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: 2, MinConns: 1})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	m, err := db.NewMigrator(pool, migrations.FS, ".")
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(ctx, m)
}
