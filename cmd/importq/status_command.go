package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"importq/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			client, dialErr := ctx.dialClient()
			if dialErr != nil {
				// Daemon offline: fall back to reading the store directly.
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"running": false})
				}
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running (run `importq daemon start`)", colorize))
				return printOfflineQueueStats(ctx, cmd)
			}
			defer client.Close()

			resp, err := client.Status()
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp.Status)
			}
			status := resp.Status

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			if status.Control.Paused {
				fmt.Fprintln(stdout, renderStatusLine("Pickup", statusWarn, "Paused", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Pickup", statusOK, "Active", colorize))
			}
			autoKind := statusInfo
			if status.Control.AutoStart {
				autoKind = statusOK
			}
			fmt.Fprintln(stdout, renderStatusLine("Auto-start", autoKind, yesNo(status.Control.AutoStart), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.QueueDBPath, colorize))

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, health := range status.StageHealth {
				kind := statusError
				if health.Ready {
					kind = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine(statusDisplay(health.Name), kind, health.Detail, colorize))
			}

			if status.ActiveItem != nil {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Active Item", colorize) {
					fmt.Fprintln(stdout, line)
				}
				active := status.ActiveItem
				detail := fmt.Sprintf("#%d %s, %s %s", active.ID, active.Title,
					active.Progress.Stage, formatPercent(active.Progress.Percent))
				fmt.Fprintln(stdout, renderStatusLine("Processing", statusOK, detail, colorize))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Queue Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueStatusRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func printOfflineQueueStats(ctx *commandContext, cmd *cobra.Command) error {
	cfg := ctx.configValue()
	if cfg == nil {
		return nil
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Queue Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	stringStats := make(map[string]int, len(stats))
	for status, count := range stats {
		stringStats[string(status)] = count
	}
	rows := buildQueueStatusRows(stringStats)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return nil
	}
	fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
