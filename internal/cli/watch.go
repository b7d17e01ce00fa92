package cli

import (
	"github.com/spf13/cobra"

	"scnwatch/internal/app"
)

var watchNow bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-evaluate the sources on a schedule and dispatch new alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Immediate: watchNow})
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchNow, "now", true, "Evaluate once at startup before waiting for the first slot")
}
