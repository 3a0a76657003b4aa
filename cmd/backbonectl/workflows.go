package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Manage workflows and their instances",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows for the caller's tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Workflows []struct {
				ID     string `json:"ID"`
				Name   string `json:"Name"`
				Active bool   `json:"Active"`
				Graph  struct {
					Nodes []any `json:"nodes"`
					Edges []any `json:"edges"`
				} `json:"Graph"`
			} `json:"workflows"`
		}
		if err := client.getJSON("/api/workflows/", &result); err != nil {
			return fmt.Errorf("failed to list workflows: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Name", "Nodes", "Edges", "Active"}
		rows := make([][]string, 0, len(result.Workflows))
		for _, wf := range result.Workflows {
			rows = append(rows, []string{
				truncate(wf.ID, 12),
				wf.Name,
				fmt.Sprintf("%d", len(wf.Graph.Nodes)),
				fmt.Sprintf("%d", len(wf.Graph.Edges)),
				fmt.Sprintf("%t", wf.Active),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var workflowsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get workflow details including the full graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result map[string]any
		if err := client.getJSON("/api/workflows/"+args[0], &result); err != nil {
			return fmt.Errorf("failed to get workflow: %w", err)
		}
		return printOutput(result)
	},
}

var instanceState string

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List workflow instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := "/api/workflows/instances"
		if instanceState != "" {
			path += "?state=" + instanceState
		}

		var result struct {
			Instances []struct {
				ID            string `json:"ID"`
				WorkflowID    string `json:"WorkflowID"`
				State         string `json:"State"`
				CurrentNodeID string `json:"CurrentNodeID"`
				LastError     string `json:"LastError"`
				StartedAt     string `json:"StartedAt"`
			} `json:"instances"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Workflow", "State", "Node", "Error", "Started"}
		rows := make([][]string, 0, len(result.Instances))
		for _, inst := range result.Instances {
			rows = append(rows, []string{
				truncate(inst.ID, 12),
				truncate(inst.WorkflowID, 12),
				inst.State,
				inst.CurrentNodeID,
				truncate(inst.LastError, 30),
				inst.StartedAt,
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var instancesApproveCmd = &cobra.Command{
	Use:   "approve <instance-id>",
	Short: "Approve a paused workflow instance so it resumes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result map[string]any
		if err := client.postJSON("/api/workflows/instances/"+args[0]+"/approve", nil, &result); err != nil {
			return fmt.Errorf("failed to approve instance: %w", err)
		}
		return printOutput(result)
	},
}

func init() {
	instancesCmd.Flags().StringVar(&instanceState, "state", "", "Filter by state (running, pending_approval, completed, failed)")

	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsGetCmd)
	instancesCmd.AddCommand(instancesApproveCmd)
	workflowsCmd.AddCommand(instancesCmd)

	rootCmd.AddCommand(workflowsCmd)
}
