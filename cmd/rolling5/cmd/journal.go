package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade ledger",
	Long: `Query and display trade records from the configured ledger
(JSON file or SQLite, per journal.type).

Subcommands:
  list     - Show the most recent trades
  show     - Show one trade by ID as an Org-mode block
  day      - List trades closed on a specific day
  export   - Write the ledger as CSV
  summary  - Win rate, profit and balance over the ledger

Examples:
  rolling5 journal list -n 20
  rolling5 journal show 01HZX3...
  rolling5 journal day 2024-05-06
  rolling5 journal export -o trades.csv`,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recent trades",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <trade-id>",
	Short: "Show one trade by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger as CSV",
	Args:  cobra.NoArgs,
	RunE:  runJournalExport,
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the ledger",
	Args:  cobra.NoArgs,
	RunE:  runJournalSummary,
}

var (
	journalListCount int
	journalExportOut string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd, journalShowCmd, journalDayCmd, journalExportCmd, journalSummaryCmd)

	journalListCmd.Flags().IntVarP(&journalListCount, "count", "n", 10, "number of trades to show")
	journalExportCmd.Flags().StringVarP(&journalExportOut, "output", "o", "", "CSV output path (default stdout)")
}

func withLedger(fn func(*config.Config, journal.Ledger) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	l, err := openLedger(cfg, logging.Nop())
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(cfg, l)
}

func runJournalList(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l journal.Ledger) error {
		recs, err := l.LoadAll()
		if err != nil {
			return fmt.Errorf("load trades: %w", err)
		}
		if n := journalListCount; n > 0 && len(recs) > n {
			recs = recs[len(recs)-n:]
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSIDE\tENTRY\tEXIT\tPROFIT\tFEE\tNET\tREASON\tCLOSED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Side, r.Entry.StringFixed(2), r.Exit.StringFixed(2),
				r.Profit.StringFixed(2), r.Fee.StringFixed(2), r.Net.StringFixed(2),
				r.Reason, r.ClosedAt.UTC().Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l journal.Ledger) error {
		rec, err := findTrade(l, args[0])
		if err != nil {
			return fmt.Errorf("get trade: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
		return nil
	})
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l journal.Ledger) error {
		start, end, err := dayBounds(time.Local, args[0])
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		recs, err := closedBetween(l, start, end)
		if err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
		return nil
	})
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l journal.Ledger) error {
		recs, err := l.LoadAll()
		if err != nil {
			return fmt.Errorf("load trades: %w", err)
		}
		if journalExportOut == "" {
			return journal.WriteCSV(cmd.OutOrStdout(), recs)
		}

		f, err := os.Create(journalExportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", journalExportOut, err)
		}
		if err := journal.WriteCSV(f, recs); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", journalExportOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d trades to %s\n", len(recs), journalExportOut)
		return nil
	})
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	return withLedger(func(cfg *config.Config, l journal.Ledger) error {
		recs, err := l.LoadAll()
		if err != nil {
			return fmt.Errorf("load trades: %w", err)
		}
		s := journal.Summarize(recs, cfg.Capital().Starting)
		fmt.Fprintln(cmd.OutOrStdout(), s.String())
		return nil
	})
}
