package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/security"
)

func newTokenCmd(flags *globalFlags) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for an editor client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set (JWT_SECRET), the API runs without authentication")
			}

			token, err := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(clientID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "editor", "client id embedded in the token")
	return cmd
}
