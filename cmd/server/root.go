package main

import (
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-session-auth/internal/config"
)

// NewRootCmd creates the root command with the shared configuration flags.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session-auth",
		Short: "Session and credential lifecycle server",
		Long: `session-auth registers users, authenticates them with lockout
protection and issues JWT access tokens with rotating refresh tokens.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
