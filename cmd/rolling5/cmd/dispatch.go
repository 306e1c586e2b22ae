package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/dispatch"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <module>",
	Short: "Dispatch a strategy module once",
	Long: `Run one strategy module through the dispatcher, honouring the
session's restricted modules. Modules: scalpel, trapx, defcon6, rawstrike.

Example:
  rolling5 dispatch trapx --entry 101.25`,
	Args: cobra.ExactArgs(1),
	RunE: runDispatch,
}

var (
	dispatchEntry string
	dispatchSide  string
)

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().StringVar(&dispatchEntry, "entry", "", "signal entry price (no signal when empty)")
	dispatchCmd.Flags().StringVar(&dispatchSide, "side", "long", "signal side")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	id, err := dispatch.ParseModule(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openSession(cfg, logging.Nop()).Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if st.IsRestricted(string(id)) {
		return fmt.Errorf("%s: %w (capital %s)", id, dispatch.ErrRestricted, st.Capital.StringFixed(2))
	}

	req := dispatch.Request{Capital: st.Capital}
	if dispatchEntry != "" {
		entry, err := decimal.NewFromString(dispatchEntry)
		if err != nil {
			return fmt.Errorf("entry: %w", err)
		}
		side, err := market.ParseSide(dispatchSide)
		if err != nil {
			return err
		}
		req.Signal = &market.Signal{Side: side, Entry: entry}
	}

	d := dispatch.New(dispatch.DefaultRegistry())
	resp, err := d.Dispatch(context.Background(), id, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.String())
	return nil
}
