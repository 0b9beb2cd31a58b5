package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pysugar/mailauth/internal/config"
	"github.com/pysugar/mailauth/internal/version"
)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "mailauth",
		Short: "OAuth2 token lifecycle manager for Gmail and Outlook mailboxes",
		Long: `mailauth connects mailbox accounts through OAuth2, keeps their access
tokens fresh and hands valid tokens to local mail clients.

Providers are enabled by setting GMAIL_CLIENT_ID and/or OUTLOOK_CLIENT_ID.
Outlook accounts are restricted to IMAP, POP and SMTP scopes.`,
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.SetVersionTemplate(`{{printf "mailauth version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAuthURLCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
