package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/bootstrap"
	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/pkg/config"
	"github.com/noah-isme/memoire-api/pkg/logger"
)

type rootOptions struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "memoirectl",
		Short:         "Operator tooling for the memoire supervision API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.cfg = cfg
			opts.logger = logr
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newTransitionCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// operator is the actor recorded for CLI-initiated changes.
func operator() *models.JWTClaims {
	return &models.JWTClaims{UserID: "memoirectl", Role: models.RoleSuperAdmin, FullName: "memoirectl"}
}

func withApp(ctx context.Context, opts *rootOptions, fn func(app *bootstrap.App) error) error {
	app, err := bootstrap.New(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func printJSON(w io.Writer, value interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
