package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"importq/internal/api"
	"importq/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueReorderCommand(ctx))
	queueCmd.AddCommand(newQueueUpdateCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(listStatuses)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Priority", "Progress", "Source"},
					buildQueueListRows(resp.Items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStats()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				rows := buildQueueStatusRows(resp.Counts)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var cancelAll bool

	cmd := &cobra.Command{
		Use:   "cancel [id]...",
		Short: "Cancel pending items or abort the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cancelAll && len(args) > 0 {
				return errors.New("specify ids or --all, not both")
			}
			if !cancelAll && len(args) == 0 {
				return errors.New("specify at least one id or --all")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if cancelAll {
					resp, err := client.QueueCancelAll()
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, resp)
					}
					fmt.Fprintf(out, "Cancelled %d pending items, requested cancellation of %d active\n",
						resp.Result.CancelledCount, resp.Result.RequestedCount)
					return nil
				}

				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				results := make([]api.CancelItemResult, 0, len(ids))
				for _, id := range ids {
					resp, err := client.QueueCancel(id)
					if err != nil {
						return err
					}
					results = append(results, resp.Result)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, results)
				}
				for _, result := range results {
					switch result.Outcome {
					case api.CancelItemCancelled:
						fmt.Fprintf(out, "Item %d cancelled\n", result.ID)
					case api.CancelItemRequested:
						fmt.Fprintf(out, "Item %d is active, cancellation requested\n", result.ID)
					case api.CancelItemTerminal:
						fmt.Fprintf(out, "Item %d is already %s\n", result.ID, statusDisplay(result.PriorStatus))
					case api.CancelItemNotFound:
						fmt.Fprintf(out, "Item %d not found\n", result.ID)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&cancelAll, "all", false, "Cancel every pending item and the active one")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Re-enqueue errored or cancelled items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry(ids)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				for _, result := range resp.Result.Items {
					switch result.Outcome {
					case api.RetryItemRetried:
						fmt.Fprintf(out, "Item %d queued for retry\n", result.ID)
					case api.RetryItemNotRetryable:
						fmt.Fprintf(out, "Item %d cannot be retried from its current status\n", result.ID)
					case api.RetryItemNotFound:
						fmt.Fprintf(out, "Item %d not found\n", result.ID)
					}
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove pending or finished items from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRemove(ids)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				for _, result := range resp.Result.Items {
					switch result.Outcome {
					case api.RemoveItemRemoved:
						fmt.Fprintf(out, "Item %d removed\n", result.ID)
					case api.RemoveItemActive:
						fmt.Fprintf(out, "Item %d is processing; cancel it first\n", result.ID)
					case api.RemoveItemNotFound:
						fmt.Fprintf(out, "Item %d not found\n", result.ID)
					}
				}
				return nil
			})
		},
	}
}

func newQueueReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Move pending items to the front of the queue in the given order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.QueueReorder(ids); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reordered %d items\n", len(ids))
				return nil
			})
		},
	}
}

func newQueueUpdateCommand(ctx *commandContext) *cobra.Command {
	var title string
	var sourcePath string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			update := api.UpdateRequest{}
			if cmd.Flags().Changed("title") {
				update.Title = &title
			}
			if cmd.Flags().Changed("path") {
				trimmed := strings.TrimSpace(sourcePath)
				update.SourcePath = &trimmed
			}
			if update.Title == nil && update.SourcePath == nil {
				return errors.New("nothing to update; pass --title or --path")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueUpdate(ids[0], update)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d updated: %s (%s)\n",
					resp.Item.ID, resp.Item.Title, resp.Item.SourcePath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&sourcePath, "path", "p", "", "New source path")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearErrored bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted == clearErrored {
				return errors.New("specify exactly one of --completed or --errored")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if clearCompleted {
					resp, err := client.QueueClearCompleted()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d completed items\n", resp.Removed)
					return nil
				}
				resp, err := client.QueueClearErrored()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared %d errored items\n", resp.Removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed items")
	cmd.Flags().BoolVar(&clearErrored, "errored", false, "Remove only errored items")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				health := resp.Health
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Database Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Readable", boolKind(health.DatabaseReadable), yesNo(health.DatabaseReadable), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Schema", boolKind(health.TableExists), health.SchemaVersion, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Integrity", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Items", statusInfo, fmt.Sprintf("%d", health.TotalItems), colorize))
				if len(health.MissingColumns) > 0 {
					fmt.Fprintln(stdout, renderStatusLine("Missing columns", statusError, strings.Join(health.MissingColumns, ", "), colorize))
				}
				if health.Error != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
