package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var resp map[string]any
		if err := client.getJSON("/health/", &resp); err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(resp)
		}

		status, _ := resp["status"].(string)
		printTable([]string{"Check", "Status"}, [][]string{{"Liveness", status}})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
