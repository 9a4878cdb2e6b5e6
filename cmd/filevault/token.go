package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/filevault/internal/config"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/id"
)

// newTokenCommand issues a bearer token for local development, signed
// with JWT_SECRET.
func newTokenCommand() *cobra.Command {
	var (
		tenant string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a development bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.HTTP.JWTSecret == "" {
				return config.ErrMissingJWT
			}
			if tenant == "" {
				tenant = id.New()
			}
			tok, err := middlewares.SignToken([]byte(cfg.HTTP.JWTSecret), tenant, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (random when empty)")
	cmd.Flags().StringVar(&email, "email", "dev@filevault.local", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
