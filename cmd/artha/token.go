package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/artha/config"
	"github.com/mohammad-safakhou/artha/internal/runtime"
	"github.com/spf13/cobra"
)

// tokenCMD mints a JWT for local testing without going through /api/auth/login.
func tokenCMD(cfgPath *string) *cobra.Command {
	var ttl time.Duration
	var token = &cobra.Command{
		Use:   "token <phone>",
		Short: "Print a signed API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Server.TokenTTL
			}
			signed, err := runtime.SignJWT(args[0], secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default server.token_ttl)")
	return token
}
