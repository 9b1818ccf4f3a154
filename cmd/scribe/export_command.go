package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/export"
	"scribe/internal/fileutil"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export pipelines to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(output)
			if target == "" {
				return fmt.Errorf("--output is required")
			}
			target, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.List(cmd.Context(), statuses)
			if err != nil {
				return wrapClientError(err, ctx.config)
			}

			err = fileutil.WriteAtomic(target, 0o644, func(w io.Writer) error {
				return export.WriteXLSX(w, items)
			})
			if err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d pipelines to %s\n", len(items), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination .xlsx file")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only export pipelines in these statuses")
	return cmd
}
