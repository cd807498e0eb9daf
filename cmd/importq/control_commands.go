package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"importq/internal/ipc"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Promote the next pending item into processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Start(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Start requested")
				return nil
			})
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause pickup of pending items (in-flight work keeps running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Pause(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue paused")
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume pickup of pending items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Resume(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				return nil
			})
		},
	}

	autoStartCmd := &cobra.Command{
		Use:   "autostart <on|off>",
		Short: "Toggle automatic pickup of newly added items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return errors.New("argument must be on or off")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.SetAutoStart(enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Auto-start %s\n", args[0])
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, pauseCmd, resumeCmd, autoStartCmd}
}
