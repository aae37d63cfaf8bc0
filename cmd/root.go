// Package cmd wires the breeze CLI commands.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "breeze",
	Short: "Breeze - streaming weather chat agent",
	Long: `Breeze is a conversational weather agent. It answers weather questions
over a streaming HTTP API, shows its reasoning and tool calls live, and
persists every finalized turn to PostgreSQL.

Run "breeze serve" to start the API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	// A .env file is optional; variables already in the environment win.
	_ = godotenv.Load()
	return rootCmd.Execute()
}
