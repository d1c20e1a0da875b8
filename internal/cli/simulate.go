package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateCurrency string
	simulatePrevious float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格变动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious <= 0 || simulateCurrent <= 0 {
			return errors.New("--previous 与 --current 必须大于 0")
		}

		result, err := getApp().SimulateAlert(cmd.Context(), simulateCurrency,
			decimal.NewFromFloat(simulatePrevious), decimal.NewFromFloat(simulateCurrent))
		if err != nil {
			return err
		}
		cmd.Printf("alerts dispatched: %d\n", result.Alerts)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "divine", "货币 id")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "上一次价格")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前价格")
}
