package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/memoire-api/internal/bootstrap"
)

func newTransitionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Inspect the academic year transition",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "detect",
		Short: "Propose the rollover if the configured month has been reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(app *bootstrap.App) error {
				transition, created, err := app.Services.Transitions.Detect(cmd.Context(), time.Now(), operator())
				if err != nil {
					return err
				}
				if transition == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no transition due")
					return nil
				}
				if created {
					fmt.Fprintln(cmd.ErrOrStderr(), "transition proposed")
				}
				return printJSON(cmd.OutOrStdout(), transition)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Show the impact of the pending transition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(app *bootstrap.App) error {
				pending, err := app.Services.Transitions.Current(cmd.Context(), operator())
				if err != nil {
					return err
				}
				preview, err := app.Services.Transitions.Preview(cmd.Context(), pending.ID, operator())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), preview)
			})
		},
	})

	return cmd
}
