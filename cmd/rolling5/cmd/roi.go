package cmd

import (
	"fmt"

	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var roiCmd = &cobra.Command{
	Use:   "roi",
	Short: "Compute leveraged ROI for an entry and exit",
	Long: `Compute the raw and fee-adjusted ROI of a long trade. Leverage,
capital and fee default to the account section of the config.

Example:
  rolling5 roi --entry 100 --exit 101`,
	RunE: runROI,
}

var (
	roiEntry    string
	roiExit     string
	roiLeverage int64
	roiCapital  float64
	roiFee      float64
)

func init() {
	rootCmd.AddCommand(roiCmd)

	roiCmd.Flags().StringVar(&roiEntry, "entry", "", "entry price (required)")
	roiCmd.Flags().StringVar(&roiExit, "exit", "", "exit price (required)")
	roiCmd.Flags().Int64Var(&roiLeverage, "leverage", 0, "leverage multiple")
	roiCmd.Flags().Float64Var(&roiCapital, "capital", 0, "capital at entry")
	roiCmd.Flags().Float64Var(&roiFee, "fee", 0, "fee rate in percent")
	_ = roiCmd.MarkFlagRequired("entry")
	_ = roiCmd.MarkFlagRequired("exit")
}

func runROI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	entry, err := decimal.NewFromString(roiEntry)
	if err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	exit, err := decimal.NewFromString(roiExit)
	if err != nil {
		return fmt.Errorf("exit: %w", err)
	}

	leverage := cfg.Account.Leverage
	if roiLeverage > 0 {
		leverage = roiLeverage
	}
	capital := cfg.Account.StartingCapital
	if roiCapital > 0 {
		capital = roiCapital
	}
	fee := cfg.Account.FeePercent
	if cmd.Flags().Changed("fee") {
		fee = roiFee
	}

	r, err := sim.CalculateROI(entry, exit, leverage,
		decimal.NewFromFloat(capital), decimal.NewFromFloat(fee))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.String())
	return nil
}
