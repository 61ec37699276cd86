// Package cmd defines the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tecnvirons",
	Short: "Tecnvirons realtime backend",
	Long: `Realtime conversational backend for Tecnvirons customer support.

Streams model responses over WebSocket, dispatches tool calls for order
lookups, and persists conversation history to PostgreSQL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// No subcommand starts the server.
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
