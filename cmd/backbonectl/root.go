package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "backbonectl",
	Short: "CLI for the backbone event service",
	Long: `backbonectl is an operator CLI for the backbone daemon.

It talks to the admin API: inspecting and verifying tenant audit chains,
managing automation rules and workflows, approving paused workflow
instances and listing saga state.

Authentication uses the same bearer tokens as the admin API; pass one
with --token or the BACKBONE_TOKEN environment variable.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Backbone server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (default: from BACKBONE_TOKEN env)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
}

// resolvedToken returns the effective bearer token.
// Priority: --token flag > BACKBONE_TOKEN env var.
func resolvedToken() string {
	if authToken != "" {
		return authToken
	}
	return os.Getenv("BACKBONE_TOKEN")
}
