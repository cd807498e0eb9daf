package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"importq/internal/ipc"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show details for a single queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(ids[0])
				if err != nil {
					return err
				}
				if !resp.Found {
					return fmt.Errorf("item %d not found", ids[0])
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Item)
				}

				item := resp.Item
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Item #%d\n", item.ID)
				fmt.Fprintf(out, "  Title:       %s\n", item.Title)
				fmt.Fprintf(out, "  Status:      %s\n", statusDisplay(item.Status))
				fmt.Fprintf(out, "  Priority:    %d\n", item.Priority)
				fmt.Fprintf(out, "  Source:      %s\n", item.SourcePath)
				if item.Progress.Stage != "" || item.Progress.Percent > 0 {
					fmt.Fprintf(out, "  Progress:    %s %s\n", item.Progress.Stage, formatPercent(item.Progress.Percent))
				}
				if item.Progress.Message != "" {
					fmt.Fprintf(out, "  Message:     %s\n", item.Progress.Message)
				}
				if item.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:       %s\n", item.ErrorMessage)
				}
				if len(item.VmafResult) > 0 {
					fmt.Fprintf(out, "  Calibration: %s\n", string(item.VmafResult))
				}
				if item.FinalFile != "" {
					fmt.Fprintf(out, "  Final file:  %s\n", item.FinalFile)
				}
				if item.AddedAt != "" {
					fmt.Fprintf(out, "  Added:       %s\n", item.AddedAt)
				}
				if item.StartedAt != "" {
					fmt.Fprintf(out, "  Started:     %s\n", item.StartedAt)
				}
				if item.CompletedAt != "" {
					fmt.Fprintf(out, "  Completed:   %s\n", item.CompletedAt)
				}
				if item.UpdatedAt != "" {
					fmt.Fprintf(out, "  Updated:     %s\n", item.UpdatedAt)
				}
				if item.CorrelationID != "" {
					fmt.Fprintf(out, "  Correlation: %s\n", item.CorrelationID)
				}
				return nil
			})
		},
	}
}
