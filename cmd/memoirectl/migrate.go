package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/memoire-api/pkg/database"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.DirectionUp), string(database.DirectionDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := database.Direction(args[0])
			if direction == database.DirectionDown && steps <= 0 {
				return fmt.Errorf("migrate down requires --steps")
			}
			db, err := database.NewPostgres(cmd.Context(), opts.cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(db.DB, direction, steps, opts.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations %s done\n", direction)
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all, up only)")
	return cmd
}
