package cmd

import (
	"fmt"

	"github.com/rustyeddy/rolling5/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  rolling5 config init -o rolling5.yaml
  rolling5 config validate -f rolling5.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "rolling5.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created default configuration: %s\n", configInitOutput)
	fmt.Fprintf(out, "\nEdit the file and run with:\n  rolling5 run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	src := cfgPath
	if src == "" {
		src = "defaults + environment"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %s\n", src)
	fmt.Fprintf(out, "  Account: capital %.2f, leverage %dx, fee %.2f%%, liquidation at %.2f\n",
		cfg.Account.StartingCapital, cfg.Account.Leverage, cfg.Account.FeePercent, cfg.Account.LiquidationThreshold)
	fmt.Fprintf(out, "  Feed: %s %s (timeout %s)\n", cfg.Feed.Mode, feedURL(cfg), cfg.Feed.Timeout)
	fmt.Fprintf(out, "  Strategy: %d windows, offset %s\n", len(cfg.Strategy.Windows), cfg.Strategy.UTCOffset)
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Type)
	return nil
}

func feedURL(cfg *config.Config) string {
	if cfg.Feed.Mode == "ws" {
		return cfg.Feed.WSURL
	}
	return cfg.Feed.BaseURL
}
