package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/feed"
	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/market"
	"github.com/rustyeddy/rolling5/runner"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <snapshots.jsonl>",
	Short: "Run the cycle over recorded snapshots",
	Long: `Replay a snapshot file written by feed.record_file through the
evaluator and the simulated engine, one tick per snapshot, on the recorded
clock. Trades go to a fresh JSON ledger and a summary is printed at the end.

Example:
  rolling5 replay snapshots.jsonl --from 2024-05-06T13:00:00Z --close-end`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayFrom     string
	replayTo       string
	replayCloseEnd bool
	replayOut      string
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayFrom, "from", "", "skip snapshots before this RFC3339 time")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "stop before this RFC3339 time")
	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", false, "force exit an open position at the last mid")
	replayCmd.Flags().StringVarP(&replayOut, "output", "o", "replay_trades.json", "ledger file for replayed trades (overwritten)")
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// lastSnapshot remembers the most recent snapshot the cycle saw.
type lastSnapshot struct {
	feed.Source
	snap market.Snapshot
	seen bool
}

func (l *lastSnapshot) Fetch(ctx context.Context) (market.Snapshot, error) {
	snap, err := l.Source.Fetch(ctx)
	if err == nil {
		l.snap, l.seen = snap, true
	}
	return snap, err
}

// ReplayResult is what one replay produced.
type ReplayResult struct {
	Ticks   int
	Summary journal.Summary
	Open    bool
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	from, err := parseBound(replayFrom)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := parseBound(replayTo)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	res, err := replay(cmd.Context(), cfg, args[0], from, to, log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ticks: %d\n", res.Ticks)
	fmt.Fprintln(out, res.Summary.String())
	if res.Open {
		fmt.Fprintln(out, "Position still open at end of replay.")
	}
	return nil
}

func replay(ctx context.Context, cfg *config.Config, path string, from, to time.Time, log *logging.Logger) (ReplayResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rs, err := feed.OpenReplay(path, from, to)
	if err != nil {
		return ReplayResult{}, err
	}
	defer rs.Close()

	if err := os.Remove(replayOut); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ReplayResult{}, fmt.Errorf("reset replay ledger: %w", err)
	}
	ledger := journal.NewJSONLedger(replayOut, log)

	src := &lastSnapshot{Source: rs}
	engine := sim.NewEngine(cfg.Capital(), ledger,
		sim.WithLogger(log),
		sim.WithClock(rs.Now))
	run := runner.New(src, cfg.StrategyParams(), engine,
		runner.WithLogger(log),
		runner.WithClock(rs.Now))

	var res ReplayResult
	for {
		if err := ctx.Err(); err != nil {
			return ReplayResult{}, err
		}
		_, err := run.Tick(ctx)
		if errors.Is(err, feed.ErrReplayDone) {
			break
		}
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay tick %d: %w", res.Ticks+1, err)
		}
		res.Ticks++
	}

	if engine.InPosition() && replayCloseEnd && src.seen {
		if mid, ok := src.snap.Mid(); ok {
			rec, err := engine.ForceExit(mid)
			if err != nil {
				return ReplayResult{}, fmt.Errorf("close at end: %w", err)
			}
			log.Info("closed at end of replay", logging.String("trade", rec.ID))
		}
	}
	res.Open = engine.InPosition()

	recs, err := ledger.LoadAll()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("load replay ledger: %w", err)
	}
	res.Summary = journal.Summarize(recs, cfg.Capital().Starting)
	return res, nil
}
