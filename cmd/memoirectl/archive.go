package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/memoire-api/internal/bootstrap"
	"github.com/noah-isme/memoire-api/internal/dto"
)

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "archive <academic-year>",
		Short: "Snapshot a closed academic year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(app *bootstrap.App) error {
				snapshot, created, err := app.Services.Archives.Archive(cmd.Context(), dto.CreateArchiveRequest{
					AcademicYear: args[0],
					Comment:      comment,
				}, operator())
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintln(cmd.ErrOrStderr(), "snapshot already existed")
				}
				return printJSON(cmd.OutOrStdout(), snapshot)
			})
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "comment stored on the snapshot")
	return cmd
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge <academic-year>",
		Short: "Delete the live rows of an archived academic year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("purge is irreversible, rerun with --yes")
			}
			return withApp(cmd.Context(), opts, func(app *bootstrap.App) error {
				result, err := app.Services.Archives.Purge(cmd.Context(), args[0], operator())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the purge")
	return cmd
}
