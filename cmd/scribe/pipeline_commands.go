package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "submit <pipeline-id> <audio-url>",
		Short: "Start a transcription pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Submit(cmd.Context(), api.SubmitRequest{
				PipelineID: args[0],
				UserID:     userID,
				AudioURL:   args[1],
			})
			if err != nil {
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline %s: %s\n", args[0], statusLabel(status.Status, shouldColorize(out)))
			if status.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", status.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User the pipeline belongs to (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <pipeline-id>",
		Short: "Show a pipeline's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				var apiErr *api.Error
				if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
					return fmt.Errorf("pipeline %s not found", args[0])
				}
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			view := newTable("Field", "Value")
			view.add("Pipeline", args[0])
			view.add("Status", statusLabel(status.Status, shouldColorize(out)))
			view.add("Provider request", valueOrDash(status.ProviderRequestID))
			if status.Transcript != nil {
				view.add("Transcript", preview(*status.Transcript, 120))
			}
			if len(status.LLMResult) > 0 {
				view.add("LLM result", preview(string(status.LLMResult), 120))
			}
			if status.Error != "" {
				view.add("Error", status.Error)
			}
			fmt.Fprintln(out, view.render())
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pipelines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.List(cmd.Context(), statuses)
			if err != nil {
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.PipelineListResponse{Items: items})
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No pipelines")
				return nil
			}
			colorize := shouldColorize(out)
			view := newTable("ID", "User", "Status", "Updated", "Detail")
			for _, item := range items {
				detail := item.Error
				if detail == "" && item.Transcript != nil {
					detail = *item.Transcript
				}
				view.add(
					item.PipelineID,
					item.UserID,
					statusLabel(item.Status, colorize),
					valueOrDash(item.UpdatedAt),
					valueOrDash(preview(detail, 48)),
				)
			}
			view.setFooter(fmt.Sprintf("%d pipeline(s)", len(items)))
			fmt.Fprintln(out, view.render())
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma-separated)")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon and store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.config)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			view := newTable("Check", "Value").alignRight(1)
			view.add("Status", health.Status)
			view.add("Store", fmt.Sprintf("%s (ok=%t)", health.Store.Driver, health.Store.OK))
			view.add("Pending invocations", fmt.Sprintf("%d", health.Store.Pending))
			view.add("Data dir", health.DataDir)
			view.add("Free space", formatBytes(health.FreeBytes))
			view.add("Uptime", fmt.Sprintf("%ds", health.UptimeSeconds))
			if health.Store.Error != "" {
				view.add("Store error", health.Store.Error)
			}
			for _, name := range slices.Sorted(maps.Keys(health.Store.Counts)) {
				view.add("Keys: "+name, fmt.Sprintf("%d", health.Store.Counts[name]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), view.render())
			return nil
		},
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
