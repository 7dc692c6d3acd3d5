package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// migrationStatus is the output of "migrate version".
type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty)\n", s.Version)
	}
	return fmt.Sprintf("version %d\n", s.Version)
}

// NewMigrateCmd manages the result store schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema of the result store",
		Long: "Applies the schema migrations of the result store. Migrations are built into\n" +
			"the binary unless postgres.migration_path names a directory.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					if err := mg.Up(); err != nil {
						return err
					}
					PrintSuccess(cmd, "schema is up to date")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return errors.Newf(errors.ErrCodeBadRequest, "steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					if err := mg.Down(steps); err != nil {
						return err
					}
					PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					v, dirty, err := mg.Version()
					if err != nil {
						return err
					}
					return PrintResult(cmd, migrationStatus{Version: v, Dirty: dirty})
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < -1 {
					return errors.Newf(errors.ErrCodeBadRequest, "version must be an integer >= -1, got %q", args[0])
				}
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					if err := mg.Force(v); err != nil {
						return err
					}
					PrintSuccess(cmd, fmt.Sprintf("forced version %d", v))
					return nil
				})
			},
		},
	)
	return cmd
}

// withMigrator opens the database, runs fn and closes everything again.
func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	conn, err := postgres.NewConnection(cmd.Context(), cliCtx.Config.Postgres, cliCtx.Logger)
	if err != nil {
		return err
	}
	mg, err := postgres.NewMigrator(conn, cliCtx.Config.Postgres.MigrationPath, cliCtx.Logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer mg.Close()
	return fn(mg)
}
