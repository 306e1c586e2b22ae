package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/rolling5/api"
	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/control"
	"github.com/rustyeddy/rolling5/dispatch"
	"github.com/rustyeddy/rolling5/feed"
	"github.com/rustyeddy/rolling5/health"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/metrics"
	"github.com/rustyeddy/rolling5/runner"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading cycle",
	Long: `Run the trading cycle against the configured market-data service.

Capital is restored from the ledger (then the session store) before the
first tick. The operator API serves /status, /metrics, /command and /ws
unless api.enabled is false. SIGINT or SIGTERM stops the cycle between
ticks.

Example:
  rolling5 run -f rolling5.yaml --dry-run`,
	RunE: runRun,
}

var (
	runDryRun bool
	runManual bool
	runAddr   string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate and report signals without entering")
	runCmd.Flags().BoolVar(&runManual, "manual", false, "hold signals until /confirm")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "operator API listen address (overrides api.addr)")
}

func newSource(cfg *config.Config) (feed.Source, error) {
	switch cfg.Feed.Mode {
	case "ws":
		return feed.NewWSSource(cfg.Feed.WSURL, cfg.FeedTimeout()), nil
	case "http", "":
		return feed.NewHTTPSource(cfg.Feed.BaseURL, cfg.FeedTimeout()), nil
	}
	return nil, fmt.Errorf("unknown feed mode %q", cfg.Feed.Mode)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Runner.DryRun = runDryRun
	}
	if cmd.Flags().Changed("manual") {
		cfg.Runner.Manual = runManual
	}
	if runAddr != "" {
		cfg.API.Addr = runAddr
	}

	log := logging.New(cfg.Log)
	logging.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	ledger, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer ledger.Close()
	session := openSession(cfg, log)

	m := metrics.New()
	tracker := health.NewTracker(cfg.Feed.HealthWindow)
	beat := health.NewHeartbeat(cfg.HeartbeatInterval())
	hub := api.NewHub(log)

	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	if cfg.Feed.RecordFile != "" {
		f, err := os.OpenFile(cfg.Feed.RecordFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open record file: %w", err)
		}
		defer f.Close()
		src = feed.Record(src, f)
		log.Info("recording snapshots", logging.String("file", cfg.Feed.RecordFile))
	}
	src = feed.Observe(src, m, tracker)

	engine := sim.NewEngine(cfg.Capital(), ledger,
		sim.WithLogger(log),
		sim.WithCapitalSaver(session),
		sim.WithCloseListener(m))

	recs, err := ledger.LoadAll()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	st, err := session.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	capital := engine.Restore(recs, st.Capital)
	m.SetCapital(capital.InexactFloat64())
	log.Info("capital restored",
		logging.Capital(capital), logging.Int("trades", len(recs)))

	run := runner.New(src, cfg.StrategyParams(), engine,
		runner.WithTick(cfg.TickInterval()),
		runner.WithBackoff(cfg.BackoffInterval()),
		runner.WithObserver(m),
		runner.WithNotifier(hub),
		runner.WithLogger(log),
		runner.WithDryRun(cfg.Runner.DryRun),
		runner.WithManual(cfg.Runner.Manual))

	disp := dispatch.New(dispatch.DefaultRegistry(),
		dispatch.WithLogger(log),
		dispatch.WithObserver(m))

	router := control.New(control.Deps{
		Runner:     run,
		Dispatcher: disp,
		Session:    session,
		Ledger:     ledger,
		Health:     tracker,
		Heartbeat:  beat,
	}, cfg.API.Allow, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { beat.Run(gctx); return nil })
	g.Go(func() error { return run.Run(gctx) })
	if cfg.API.Enabled {
		srv := api.NewServer(api.Deps{
			Router:    router,
			Runner:    run,
			Health:    tracker,
			Heartbeat: beat,
			Metrics:   m,
			Hub:       hub,
		}, log)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Addr) })
	}

	if err := g.Wait(); err != nil {
		log.Error("engine stopped", logging.Err(err))
		return err
	}
	log.Info("engine stopped")
	return nil
}
