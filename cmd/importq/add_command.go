package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"importq/internal/api"
	"importq/internal/ipc"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Enqueue source files for transcoding",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" && len(args) > 1 {
				return fmt.Errorf("--title applies to a single file, got %d", len(args))
			}
			requests := make([]api.AddRequest, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve source path: %w", err)
				}
				requests = append(requests, api.AddRequest{Path: abs, Title: title})
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueAdd(requests)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				for _, item := range resp.Items {
					fmt.Fprintf(cmd.OutOrStdout(), "Added #%d %s (%s)\n", item.ID, item.Title, item.SourcePath)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Override the title inferred from the filename")
	return cmd
}
