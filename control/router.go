// Package control turns operator intents ("/status", "/run", "/scalpel", ...)
// into calls on the cycle driver, the dispatcher and the stores, and answers
// with plain text.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rustyeddy/rolling5/dispatch"
	"github.com/rustyeddy/rolling5/health"
	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/runner"
	"github.com/rustyeddy/rolling5/sim"
)

// Replies shared with callers and tests.
const (
	MsgUnauthorized = "Unauthorized."
	MsgUnknown      = "Unknown command"
	MsgWelcome      = "Welcome to Rolling5. Authorized to receive signals."
	MsgShutDown     = "System is shut down."
	MsgNoTrade      = "No active trade."
	MsgNoConfirm    = "No trade to confirm."
)

const defaultLogCount = 5

// Deps are the components the router drives. Health and Heartbeat may be nil.
type Deps struct {
	Runner     *runner.Runner
	Dispatcher *dispatch.Dispatcher
	Session    *journal.SessionStore
	Ledger     journal.Ledger
	Health     *health.Tracker
	Heartbeat  *health.Heartbeat
}

type handler func(ctx context.Context, args []string) string

type Router struct {
	deps Deps
	log  *logging.Logger

	// fixed is the configured allow-list. When it is empty, callers
	// authorize themselves with /start.
	fixed map[string]bool

	mu         sync.Mutex
	registered map[string]bool

	cmds map[string]handler
}

func New(deps Deps, allow []string, log *logging.Logger) *Router {
	r := &Router{
		deps:       deps,
		log:        logging.OrNop(log).WithComponent("control"),
		fixed:      make(map[string]bool),
		registered: make(map[string]bool),
	}
	for _, a := range allow {
		if a = strings.TrimSpace(a); a != "" {
			r.fixed[a] = true
		}
	}
	r.cmds = map[string]handler{
		"/status":        r.status,
		"/run":           r.run,
		"/confirm":       r.confirm,
		"/forceexit":     r.forceExit,
		"/emergencyexit": r.emergencyExit,
		"/dryrun":        r.toggleDryRun,
		"/manualmode":    r.toggleManual,
		"/automode":      r.toggleAuto,
		"/shutdown":      r.shutdown,
		"/startup":       r.startup,
		"/syncdump":      r.syncDump,
		"/retry_last":    r.retryLast,
		"/log":           r.tradeLog,
		"/summary":       r.summary,
	}
	for _, id := range dispatch.Modules() {
		r.cmds["/"+string(id)] = r.module(id)
	}
	return r
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	out := []string{"/start"}
	for c := range r.cmds {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Authorized reports whether caller may issue commands.
func (r *Router) Authorized(caller string) bool {
	if len(r.fixed) > 0 {
		return r.fixed[caller]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered[caller]
}

// Handle runs one command line for caller and returns the reply.
func (r *Router) Handle(ctx context.Context, caller, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return MsgUnknown
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if cmd == "/start" {
		return r.start(caller)
	}
	if !r.Authorized(caller) {
		r.log.Warn("unauthorized command",
			logging.String("caller", caller), logging.String("command", cmd))
		return MsgUnauthorized
	}

	h, ok := r.cmds[cmd]
	if !ok {
		return MsgUnknown
	}
	r.log.Debug("command", logging.String("caller", caller), logging.String("command", cmd))
	return h(ctx, args)
}

func (r *Router) start(caller string) string {
	if len(r.fixed) > 0 {
		if !r.fixed[caller] {
			return MsgUnauthorized
		}
		return MsgWelcome
	}
	r.mu.Lock()
	r.registered[caller] = true
	r.mu.Unlock()
	r.log.Info("caller registered", logging.String("caller", caller))
	return MsgWelcome
}

func (r *Router) status(context.Context, []string) string {
	st, err := r.deps.Session.Load()
	if err != nil {
		return "Session store unreachable."
	}
	es := r.deps.Runner.Engine().Status()

	var b strings.Builder
	state := "running"
	if r.deps.Runner.Paused() {
		state = "shut down"
	}
	fmt.Fprintf(&b, "System: %s\n", state)
	fmt.Fprintf(&b, "Mode: %s\n", r.mode())
	module := "none"
	if st.ActiveModule != nil {
		module = *st.ActiveModule
	}
	fmt.Fprintf(&b, "Module: %s\n", module)
	fmt.Fprintf(&b, "Capital: %s (start %s)\n",
		es.Capital.Current.StringFixed(2), es.Capital.Starting.StringFixed(2))
	if es.Position != nil {
		fmt.Fprintf(&b, "Position: %s @ %s\n", es.Position.Side, es.Position.Entry.StringFixed(2))
	} else {
		b.WriteString("Position: flat\n")
	}
	fmt.Fprintf(&b, "Trades: %d\n", es.Trades)
	restricted := "none"
	if len(st.Restricted) > 0 {
		restricted = strings.Join(st.Restricted, ", ")
	}
	fmt.Fprintf(&b, "Restricted: %s", restricted)
	if r.deps.Health != nil {
		fmt.Fprintf(&b, "\nFeed: %s", r.deps.Health.Status())
	}
	return b.String()
}

func (r *Router) mode() string {
	switch {
	case r.deps.Runner.DryRun():
		return "dry run"
	case r.deps.Runner.Manual():
		return "manual"
	}
	return "auto"
}

func (r *Router) run(ctx context.Context, _ []string) string {
	if r.deps.Runner.Paused() {
		return MsgShutDown
	}
	rep, err := r.deps.Runner.Tick(ctx)
	if err != nil {
		r.log.Warn("manual tick failed", logging.Err(err))
		return "Market feed unreachable."
	}
	switch rep.Outcome {
	case runner.OutcomeOpened:
		return fmt.Sprintf("Trade entered: %s @ %s", rep.Position.Side, rep.Position.Entry.StringFixed(2))
	case runner.OutcomeClosed:
		return formatClose(*rep.Trade)
	case runner.OutcomePending:
		return fmt.Sprintf("Signal %s. Manual mode: confirm entry with /confirm.", rep.Decision.Signal)
	case runner.OutcomeSignal:
		return fmt.Sprintf("Signal %s (dry run, not entered).", rep.Decision.Signal)
	case runner.OutcomeSkipped:
		if rep.Decision != nil {
			return fmt.Sprintf("No signal: %s.", rep.Decision.Skip)
		}
		return "Position open, waiting for a usable mark."
	}
	return fmt.Sprintf("Tick: %s", rep.Outcome)
}

func (r *Router) confirm(context.Context, []string) string {
	p, err := r.deps.Runner.Confirm()
	switch {
	case errors.Is(err, runner.ErrNoPending):
		return MsgNoConfirm
	case errors.Is(err, sim.ErrNotFlat):
		return "A trade is already open."
	case err != nil:
		r.log.Warn("confirm failed", logging.Err(err))
		return "Trade entry failed."
	}
	return fmt.Sprintf("Trade entered: %s @ %s", p.Side, p.Entry.StringFixed(2))
}

func (r *Router) forceExit(ctx context.Context, _ []string) string {
	rec, err := r.deps.Runner.ForceExit(ctx)
	switch {
	case errors.Is(err, sim.ErrNoPosition):
		return MsgNoTrade
	case err != nil:
		r.log.Warn("force exit failed", logging.Err(err))
		return "Force exit failed: market feed unreachable."
	}
	return formatClose(rec)
}

func (r *Router) emergencyExit(ctx context.Context, _ []string) string {
	rec, closed, err := r.deps.Runner.EmergencyExit(ctx)
	if err != nil {
		r.log.Error("emergency exit failed", logging.Err(err))
		return "Emergency exit failed: market feed unreachable. System halted."
	}
	if !closed {
		return "No active trades. System halted."
	}
	return "Emergency exit. " + formatClose(rec) + " System halted."
}

func (r *Router) toggleDryRun(context.Context, []string) string {
	on := !r.deps.Runner.DryRun()
	r.deps.Runner.SetDryRun(on)
	return "Dry Run Mode: " + onOff(on)
}

func (r *Router) toggleManual(context.Context, []string) string {
	on := !r.deps.Runner.Manual()
	r.deps.Runner.SetManual(on)
	return "Manual Mode: " + onOff(on)
}

// Auto mode is the inverse of manual mode.
func (r *Router) toggleAuto(context.Context, []string) string {
	auto := r.deps.Runner.Manual()
	r.deps.Runner.SetManual(!auto)
	return "Auto Mode: " + onOff(auto)
}

func (r *Router) shutdown(context.Context, []string) string {
	r.deps.Runner.Pause()
	return "System shutdown. Open positions are still closed at mid."
}

func (r *Router) startup(context.Context, []string) string {
	r.deps.Runner.Resume()
	return "System started."
}

func (r *Router) syncDump(context.Context, []string) string {
	var b strings.Builder
	b.WriteString("Sync dump\n")
	if r.deps.Heartbeat != nil {
		beat := r.deps.Heartbeat.Status()
		fmt.Fprintf(&b, "Heartbeat: last %.4fs, average %.4fs\n", beat.LastPing, beat.AveragePing)
	}
	if r.deps.Health != nil {
		rep := r.deps.Health.Report()
		fmt.Fprintf(&b, "Feed: %s (%d/%d failed)\n", rep.Status, rep.Failures, rep.Attempts)
	}
	lastErr := "none"
	if err := r.deps.Runner.LastError(); err != nil {
		lastErr = err.Error()
	}
	fmt.Fprintf(&b, "Last error: %s\n", lastErr)
	b.WriteString("Modules:")
	for _, s := range r.deps.Dispatcher.Snapshot() {
		state := "stable"
		if s.Unstable {
			state = "unstable"
		}
		fmt.Fprintf(&b, "\n  %s: %s, %d failures", s.Module, state, s.Failures)
	}
	return b.String()
}

func (r *Router) retryLast(context.Context, []string) string {
	sig, err := r.deps.Runner.RetryLast()
	if err != nil {
		return "No signal to resend."
	}
	return fmt.Sprintf("Signal %s resent. Confirm entry with /confirm.", sig)
}

func (r *Router) tradeLog(_ context.Context, args []string) string {
	n := defaultLogCount
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return "Usage: /log <count>"
		}
		n = v
	}
	recs, err := r.deps.Ledger.LoadAll()
	if err != nil {
		r.log.Warn("ledger read failed", logging.Err(err))
		return "Trade ledger unreachable."
	}
	if len(recs) == 0 {
		return "No trades yet."
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return strings.TrimRight(journal.FormatTradesOrg(recs), "\n")
}

func (r *Router) summary(context.Context, []string) string {
	recs, err := r.deps.Ledger.LoadAll()
	if err != nil {
		r.log.Warn("ledger read failed", logging.Err(err))
		return "Trade ledger unreachable."
	}
	return journal.Summarize(recs, r.deps.Runner.Engine().Capital().Starting).String()
}

func (r *Router) module(id dispatch.ModuleID) handler {
	return func(ctx context.Context, _ []string) string {
		st, err := r.deps.Session.Load()
		if err != nil {
			return "Session store unreachable."
		}
		if st.IsRestricted(string(id)) {
			r.log.Info("module refused", logging.Module(string(id)),
				logging.Err(dispatch.ErrRestricted))
			return fmt.Sprintf("%s is restricted while capital is below %s.",
				id, journal.RestrictBelow.StringFixed(2))
		}

		req := dispatch.Request{Capital: r.deps.Runner.Engine().Capital().Current}
		if sig, ok := r.deps.Runner.Pending(); ok {
			req.Signal = &sig
		} else if sig, ok := r.deps.Runner.LastSignal(); ok {
			req.Signal = &sig
		}

		resp, err := r.deps.Dispatcher.Dispatch(ctx, id, req)
		if err != nil {
			return MsgUnknown
		}
		if resp.Outcome == dispatch.OutcomeSuccess {
			if err := r.deps.Session.SetModule(string(id)); err != nil {
				r.log.Warn("active module not saved", logging.Module(string(id)), logging.Err(err))
			}
		}
		return resp.String()
	}
}

func formatClose(rec journal.TradeRecord) string {
	if rec.Liquidated {
		return fmt.Sprintf("Liquidated at %s. Capital reset to %s.",
			rec.Exit.StringFixed(2), rec.Net.StringFixed(2))
	}
	return fmt.Sprintf("Trade closed at %s (%s). Profit %s, fee %s, capital %s.",
		rec.Exit.StringFixed(2), rec.Reason, rec.Profit.StringFixed(2),
		rec.Fee.StringFixed(2), rec.Net.StringFixed(2))
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
