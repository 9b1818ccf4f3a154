package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newRateLimitCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect and drive per-key rate limits",
	}
	cmd.AddCommand(newRateLimitConsumeCommand(ctx))
	cmd.AddCommand(newRateLimitStateCommand(ctx))
	cmd.AddCommand(newRateLimitResetCommand(ctx))
	return cmd
}

func newRateLimitConsumeCommand(ctx *commandContext) *cobra.Command {
	var window time.Duration
	var max int

	cmd := &cobra.Command{
		Use:   "consume <key>",
		Short: "Count one call against a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			err = client.Consume(cmd.Context(), args[0], api.ConsumeRequest{
				WindowMs:    window.Milliseconds(),
				MaxInWindow: max,
			})
			var apiErr *api.Error
			if errors.As(err, &apiErr) && apiErr.Code == "rate_limited" {
				return fmt.Errorf("rate limit exceeded for %s", args[0])
			}
			if err != nil {
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"key": args[0], "admitted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admitted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVarP(&window, "window", "w", time.Minute, "Window length")
	cmd.Flags().IntVarP(&max, "max", "m", 10, "Calls allowed per window")
	return cmd
}

func newRateLimitStateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "state <key>",
		Short: "Show a key's current window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			state, err := client.RateLimit(cmd.Context(), args[0])
			if err != nil {
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, state)
			}
			started := "-"
			if state.WindowStartMs > 0 {
				started = time.UnixMilli(state.WindowStartMs).UTC().Format(time.RFC3339)
			}
			view := newTable("Key", "Window start", "Count").alignRight(2)
			view.add(state.Key, started, fmt.Sprintf("%d", state.Count))
			fmt.Fprintln(cmd.OutOrStdout(), view.render())
			return nil
		},
	}
}

func newRateLimitResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Clear a key's window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.ResetRateLimit(cmd.Context(), args[0]); err != nil {
				return wrapClientError(err, ctx.config)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
			return nil
		},
	}
}
