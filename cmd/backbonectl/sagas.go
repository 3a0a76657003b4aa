package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sagaLimit int

var sagasCmd = &cobra.Command{
	Use:   "sagas",
	Short: "List saga records for the caller's tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := fmt.Sprintf("/api/sagas/?limit=%d", sagaLimit)

		var result struct {
			Sagas []struct {
				CorrelationID string `json:"CorrelationID"`
				Kind          string `json:"Kind"`
				State         string `json:"State"`
				Note          string `json:"Note"`
				StartedAt     string `json:"StartedAt"`
				UpdatedAt     string `json:"UpdatedAt"`
			} `json:"sagas"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list sagas: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"Correlation", "Kind", "State", "Note", "Updated"}
		rows := make([][]string, 0, len(result.Sagas))
		for _, s := range result.Sagas {
			rows = append(rows, []string{
				s.CorrelationID,
				s.Kind,
				s.State,
				truncate(s.Note, 40),
				s.UpdatedAt,
			})
		}
		printTable(headers, rows)
		return nil
	},
}

func init() {
	sagasCmd.Flags().IntVar(&sagaLimit, "limit", 50, "Maximum records to list")

	rootCmd.AddCommand(sagasCmd)
}
