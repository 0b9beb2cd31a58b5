package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
)

func newAuthURLCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "auth-url <provider>",
		Short: "Print the consent URL for a provider",
		Long: `Print the authorization URL for gmail or outlook. Open it in a browser
to grant offline access; the provider redirects to the configured
redirect URI with a one-time code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := provider.LoadFromEnv()
			if err != nil {
				return err
			}
			mgr, err := token.NewManager(context.Background(), registry)
			if err != nil {
				return err
			}
			u, err := mgr.BuildAuthorizationURL(provider.ID(args[0]), state)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "opaque state value echoed back on the callback")
	return cmd
}
