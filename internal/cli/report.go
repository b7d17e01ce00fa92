package cli

import (
	"github.com/spf13/cobra"

	"scnwatch/internal/app"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Evaluate the laboratory exports once and print every metric",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), app.ReportOptions{
			Format: reportFormat,
			Out:    cmd.OutOrStdout(),
		})
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json or yaml")
}
