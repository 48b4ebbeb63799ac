package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/service"
)

// newTokenCommand signs an access token with the API secret, for service
// accounts and local testing when the identity provider is not reachable.
func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		userID       string
		role         string
		departmentID string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for a service account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("token requires --user")
			}
			auth := service.NewAuthService(opts.logger, service.AuthConfig{
				AccessTokenSecret: opts.cfg.JWT.Secret,
				AccessTokenExpiry: opts.cfg.JWT.Expiration,
				Issuer:            opts.cfg.JWT.Issuer,
			})
			token, expiresAt, err := auth.IssueToken(userID, models.UserRole(strings.ToUpper(role)), departmentID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "subject of the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "role carried by the token")
	cmd.Flags().StringVar(&departmentID, "department", "", "department for HEAD tokens")
	return cmd
}
