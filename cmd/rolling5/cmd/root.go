package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rolling5",
	Short: "Leveraged order book signal engine",
	Long: `Rolling5 polls a market-data service for order book, volume and spoof
snapshots, enters long positions inside fixed trading windows when the book
clears its thresholds, and closes each position at the next mid price.

It provides tools for:
  - Running the trading cycle with an operator HTTP and websocket surface
  - Generating and validating configuration files
  - Querying, exporting and summarizing the trade ledger
  - Dispatching strategy modules through the circuit breaker
  - Computing leveraged ROI for a hypothetical trade`,
	SilenceUsage: true,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML or JSON); defaults plus ROLLING5_* env when empty")
}
