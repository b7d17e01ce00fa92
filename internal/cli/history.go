package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scnwatch/internal/app"
)

var (
	historyLimit      int
	historyRuns       bool
	historyAntibiotic string
	historyRunID      string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recently emitted alerts, evaluation runs, or a stored weekly series",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		if historyRunID != "" && historyAntibiotic == "" {
			return fmt.Errorf("--run requires --antibiotic")
		}

		opts := app.HistoryOptions{
			Limit:      historyLimit,
			Runs:       historyRuns,
			Antibiotic: historyAntibiotic,
			RunID:      historyRunID,
			Out:        cmd.OutOrStdout(),
		}
		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of rows to display")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "List evaluation runs instead of alerts")
	historyCmd.Flags().StringVar(&historyAntibiotic, "antibiotic", "", "Show the weekly series stored for this antibiotic")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "Run ID for --antibiotic (defaults to the latest run)")
}
