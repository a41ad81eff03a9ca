package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/identity"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		participant string
		name        string
		roleName    string
	)

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Mint a bearer token for a participant",
		Example: `  signoff token --participant u-42 --name "Dana" --role TECH`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := role.Parse(roleName)
			if err != nil {
				return fmt.Errorf("role %q: must be one of %v", roleName, role.All())
			}
			cfg := opts.cfg
			tok, err := identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL).
				Issue(identity.Participant{ID: participant, Name: name, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "participant id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&roleName, "role", "", "BUSINESS, PRODUCT or TECH (required)")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
