package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mensetsu/internal/auth"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage signing keys and candidate tokens",
	}

	var privPath, pubPath string
	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for signing candidate tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := auth.WriteKeyPair(privPath, pubPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	keygen.Flags().StringVar(&privPath, "private", "jwt_private.pem", "private key output path")
	keygen.Flags().StringVar(&pubPath, "public", "jwt_public.pem", "public key output path")

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue CANDIDATE_ID",
		Short: "Issue a bearer token for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTPrivateKeyPath == "" {
				return errors.New("MENSETSU_JWT_PRIVATE_KEY and MENSETSU_JWT_PUBLIC_KEY must be set; an ephemeral key would sign tokens no server accepts")
			}
			mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
			if err != nil {
				return err
			}
			token, expires, err := mgr.IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default MENSETSU_JWT_EXPIRATION)")

	cmd.AddCommand(keygen, issue)
	return cmd
}
