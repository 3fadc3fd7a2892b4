package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/usecase"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Mint a Bearer token for /runs, signed with $JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if len(secret) < 32 {
				return errors.New("JWT_SECRET must be set to at least 32 characters")
			}
			tok, err := usecase.NewTokenIssuer([]byte(secret)).Issue(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
