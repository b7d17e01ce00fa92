package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"scnwatch/internal/app"
)

var (
	simulateAntibiotic string
	simulateValues     []float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一段月度耐药率序列并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAntibiotic == "" {
			return errors.New("--antibiotic 必须指定")
		}
		if len(simulateValues) < 2 {
			return errors.New("--values 至少需要两个月度数值")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Antibiotic: simulateAntibiotic,
			Values:     simulateValues,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAntibiotic, "antibiotic", "", "抗生素名称，必须属于配置的 panel")
	simulateCmd.Flags().Float64SliceVar(&simulateValues, "values", nil, "按时间顺序的月度耐药率 (%)，最后一个为当月")
}
