package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List automation rules for the caller's tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Rules []struct {
				ID           string `json:"ID"`
				Name         string `json:"Name"`
				TriggerEvent string `json:"TriggerEvent"`
				ActionKind   string `json:"ActionKind"`
				IsScheduled  bool   `json:"IsScheduled"`
				Active       bool   `json:"Active"`
			} `json:"rules"`
		}
		if err := client.getJSON("/api/rules/", &result); err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Name", "Trigger", "Action", "Scheduled", "Active"}
		rows := make([][]string, 0, len(result.Rules))
		for _, r := range result.Rules {
			trigger := r.TriggerEvent
			if r.IsScheduled {
				trigger = "(schedule)"
			}
			rows = append(rows, []string{
				truncate(r.ID, 12),
				r.Name,
				trigger,
				r.ActionKind,
				fmt.Sprintf("%t", r.IsScheduled),
				fmt.Sprintf("%t", r.Active),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var rulesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get rule details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result map[string]any
		if err := client.getJSON("/api/rules/"+args[0], &result); err != nil {
			return fmt.Errorf("failed to get rule: %w", err)
		}
		return printOutput(result)
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if err := client.deleteJSON("/api/rules/" + args[0]); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}
		fmt.Printf("Rule %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesGetCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)

	rootCmd.AddCommand(rulesCmd)
}
