package cli

import (
	"github.com/spf13/cobra"

	"scnwatch/internal/app"
)

var (
	exportCSVDir   string
	exportXLSXPath string
	exportPNGDir   string
	exportMaxWeeks int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export metrics as CSV files, an XLSX workbook and/or PNG charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVDir:   exportCSVDir,
			XLSXPath: exportXLSXPath,
			PNGDir:   exportPNGDir,
			MaxWeeks: exportMaxWeeks,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVDir, "csv-dir", "", "Directory to write one CSV per metric")
	exportCmd.Flags().StringVar(&exportXLSXPath, "xlsx", "", "Path to write the XLSX workbook")
	exportCmd.Flags().StringVar(&exportPNGDir, "png-dir", "", "Directory to write PNG charts")
	exportCmd.Flags().IntVar(&exportMaxWeeks, "max-weeks", 0, "Most recent weeks to export (defaults to config)")
}
