package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pysugar/mailauth/internal/auth/loopback"
	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
	"github.com/pysugar/mailauth/internal/config"
	"github.com/pysugar/mailauth/internal/logging"
	"github.com/pysugar/mailauth/internal/version"
)

func newLoginCmd() *cobra.Command {
	var (
		email   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Connect a mailbox from the terminal",
		Long: `Connect a mailbox without running the server. A temporary listener is
started on the provider's redirect URI (which must be a loopback address),
the consent URL is printed, and the account is registered in the configured
store once the browser redirect arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runLogin(ctx, cmd, cfg, provider.ID(args[0]), email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "mailbox address being connected (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", loopback.DefaultTimeout, "how long to wait for the browser redirect")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, cfg config.Config, providerID provider.ID, email string) error {
	logger := logging.New(logging.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "mailauth", Version: version.Version})
	defer func() { _ = logger.Sync() }()

	registry, err := provider.LoadFromEnv()
	if err != nil {
		return err
	}
	pcfg, err := registry.Get(providerID)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []token.Option{token.WithLogger(logger.Named("token"))}
	if store != nil {
		opts = append(opts, token.WithStore(store))
	}
	mgr, err := token.NewManager(ctx, registry, opts...)
	if err != nil {
		return err
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	state := hex.EncodeToString(b)

	receiver, err := loopback.Listen(pcfg.RedirectURI, state)
	if err != nil {
		return err
	}
	authURL, err := mgr.BuildAuthorizationURL(providerID, state)
	if err != nil {
		_ = receiver.Close()
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open this URL in a browser to connect %s:\n\n  %s\n\nWaiting for the redirect on %s ...\n", email, authURL, receiver.Addr())

	code, err := receiver.Wait(ctx)
	if err != nil {
		return err
	}
	tokens, err := mgr.ExchangeCode(ctx, providerID, code)
	if err != nil {
		return err
	}
	accountID, err := mgr.RegisterAccount(ctx, email, providerID, tokens)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected %s (%s) as account %s\n", email, providerID, accountID)
	if store == nil {
		fmt.Fprintln(out, "MAILAUTH_STORE=memory: the account is not persisted")
	}
	return nil
}
