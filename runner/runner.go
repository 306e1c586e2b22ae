// Package runner drives the trading cycle: fetch a snapshot, close the open
// position at mid or evaluate for a new entry, then sleep until the next tick.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/rolling5/feed"
	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/market"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/rustyeddy/rolling5/strategy"
)

const (
	DefaultTick    = 2500 * time.Millisecond
	DefaultBackoff = 5 * time.Second
)

// Tick outcomes.
const (
	OutcomeOpened  = "opened"
	OutcomeClosed  = "closed"
	OutcomeSkipped = "skipped"
	OutcomeSignal  = "signal"
	OutcomePending = "pending"
	OutcomePaused  = "paused"
	OutcomeError   = "error"
)

// Event types published to the Notifier.
const (
	EventSignal  = "signal"
	EventPending = "signal_pending"
	EventOpened  = "trade_opened"
	EventClosed  = "trade_closed"
	EventError   = "tick_error"
)

var (
	ErrNoPending = errors.New("runner: no pending signal")
	ErrNoSignal  = errors.New("runner: no signal seen yet")
	ErrNoMid     = errors.New("runner: order book has no mid")
)

type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Notifier receives cycle events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

// Observer counts tick outcomes and evaluations.
type Observer interface {
	ObserveTick(outcome string)
	ObserveDecision(skip string)
}

type openObserver interface {
	OnTradeOpened()
}

// Report describes what one tick did.
type Report struct {
	Outcome  string               `json:"outcome"`
	Decision *strategy.Decision   `json:"decision,omitempty"`
	Position *sim.Position        `json:"position,omitempty"`
	Trade    *journal.TradeRecord `json:"trade,omitempty"`
}

type Option func(*Runner)

func WithTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.backoff = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.obs = o }
}

func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notify = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.log = logging.OrNop(l).WithComponent("runner") }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithDryRun(on bool) Option {
	return func(r *Runner) { r.dryRun = on }
}

func WithManual(on bool) Option {
	return func(r *Runner) { r.manual = on }
}

type Runner struct {
	src    feed.Source
	params strategy.Params
	engine *sim.Engine
	obs    Observer
	notify Notifier
	log    *logging.Logger
	now    func() time.Time

	tick    time.Duration
	backoff time.Duration

	// tickMu serializes ticks with operator actions that touch the engine.
	tickMu sync.Mutex

	mu       sync.Mutex
	paused   bool
	dryRun   bool
	manual   bool
	pending  *market.Signal
	last     *market.Signal
	lastErr  error
	lastTick time.Time
}

func New(src feed.Source, params strategy.Params, engine *sim.Engine, opts ...Option) *Runner {
	r := &Runner{
		src:     src,
		params:  params,
		engine:  engine,
		log:     logging.Nop(),
		now:     time.Now,
		tick:    DefaultTick,
		backoff: DefaultBackoff,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run ticks until ctx is cancelled. Cancellation is only observed between
// ticks; a tick in flight runs to completion on a detached context.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("cycle started",
		logging.Duration("tick", r.tick),
		logging.Duration("backoff", r.backoff))

	for {
		if ctx.Err() != nil {
			r.log.Info("cycle stopped")
			return nil
		}

		wait := r.tick
		if _, err := r.safeTick(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("tick failed, backing off",
				logging.Err(err), logging.Duration("backoff", r.backoff))
			wait = r.backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("cycle stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) safeTick(ctx context.Context) (rep Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tick panic: %v", p)
			r.setErr(err)
			r.observeTick(OutcomeError)
		}
	}()
	return r.Tick(ctx)
}

// Tick runs one cycle step.
func (r *Runner) Tick(ctx context.Context) (Report, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	r.lastTick = r.now()
	r.mu.Unlock()

	snap, err := r.src.Fetch(ctx)
	if err != nil {
		r.setErr(err)
		r.observeTick(OutcomeError)
		r.publish(EventError, err.Error())
		return Report{Outcome: OutcomeError}, fmt.Errorf("tick: %w", err)
	}
	r.setErr(nil)

	if r.engine.InPosition() {
		return r.closeAtMid(snap)
	}
	if r.Paused() {
		r.observeTick(OutcomePaused)
		return Report{Outcome: OutcomePaused}, nil
	}
	return r.decide(snap)
}

func (r *Runner) closeAtMid(snap market.Snapshot) (Report, error) {
	mid, ok := snap.Mid()
	if !ok {
		r.log.Debug("open position, book has no mid, waiting")
		r.observeTick(OutcomeSkipped)
		return Report{Outcome: OutcomeSkipped}, nil
	}
	rec, closed, err := r.engine.MarkAndMaybeClose(mid)
	if err != nil {
		r.setErr(err)
		r.observeTick(OutcomeError)
		return Report{Outcome: OutcomeError}, fmt.Errorf("tick: %w", err)
	}
	if !closed {
		r.observeTick(OutcomeSkipped)
		return Report{Outcome: OutcomeSkipped}, nil
	}
	r.observeTick(OutcomeClosed)
	r.publish(EventClosed, rec)
	return Report{Outcome: OutcomeClosed, Trade: &rec}, nil
}

func (r *Runner) decide(snap market.Snapshot) (Report, error) {
	d := r.params.Explain(snap, r.now())
	if r.obs != nil {
		r.obs.ObserveDecision(string(d.Skip))
	}
	if !d.OK {
		r.log.Debug("no entry", logging.String("skip", string(d.Skip)))
		r.observeTick(OutcomeSkipped)
		return Report{Outcome: OutcomeSkipped, Decision: &d}, nil
	}

	sig := d.Signal
	r.mu.Lock()
	r.last = &sig
	dry, manual := r.dryRun, r.manual
	if manual && !dry {
		r.pending = &sig
	}
	r.mu.Unlock()

	switch {
	case dry:
		r.log.Info("dry run signal", logging.String("signal", sig.String()))
		r.observeTick(OutcomeSignal)
		r.publish(EventSignal, sig)
		return Report{Outcome: OutcomeSignal, Decision: &d}, nil
	case manual:
		r.log.Info("signal awaiting confirmation", logging.String("signal", sig.String()))
		r.observeTick(OutcomePending)
		r.publish(EventPending, sig)
		return Report{Outcome: OutcomePending, Decision: &d}, nil
	}

	p, err := r.open(sig)
	if err != nil {
		r.observeTick(OutcomeError)
		return Report{Outcome: OutcomeError, Decision: &d}, fmt.Errorf("tick: %w", err)
	}
	r.observeTick(OutcomeOpened)
	return Report{Outcome: OutcomeOpened, Decision: &d, Position: &p}, nil
}

func (r *Runner) open(sig market.Signal) (sim.Position, error) {
	p, err := r.engine.Open(sig)
	if err != nil {
		r.setErr(err)
		return sim.Position{}, err
	}
	if o, ok := r.obs.(openObserver); ok {
		o.OnTradeOpened()
	}
	r.publish(EventOpened, p)
	return p, nil
}

// Confirm opens the pending signal. The signal stays pending if the open
// fails.
func (r *Runner) Confirm() (sim.Position, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	sig := r.pending
	r.mu.Unlock()

	if sig == nil {
		return sim.Position{}, ErrNoPending
	}
	p, err := r.open(*sig)
	if err != nil {
		return sim.Position{}, err
	}

	r.mu.Lock()
	if r.pending == sig {
		r.pending = nil
	}
	r.mu.Unlock()
	return p, nil
}

// ForceExit closes the open position at a freshly fetched mid.
func (r *Runner) ForceExit(ctx context.Context) (journal.TradeRecord, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if !r.engine.InPosition() {
		return journal.TradeRecord{}, sim.ErrNoPosition
	}
	snap, err := r.src.Fetch(ctx)
	if err != nil {
		r.setErr(err)
		return journal.TradeRecord{}, fmt.Errorf("force exit: %w", err)
	}
	mid, ok := snap.Mid()
	if !ok {
		return journal.TradeRecord{}, fmt.Errorf("force exit: %w", ErrNoMid)
	}
	rec, err := r.engine.ForceExit(mid)
	if err != nil {
		return journal.TradeRecord{}, fmt.Errorf("force exit: %w", err)
	}
	r.publish(EventClosed, rec)
	return rec, nil
}

// EmergencyExit pauses the cycle, drops any pending signal and force exits
// the open position, if there is one.
func (r *Runner) EmergencyExit(ctx context.Context) (journal.TradeRecord, bool, error) {
	r.Pause()
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	rec, err := r.ForceExit(ctx)
	if errors.Is(err, sim.ErrNoPosition) {
		return journal.TradeRecord{}, false, nil
	}
	if err != nil {
		return journal.TradeRecord{}, false, err
	}
	return rec, true, nil
}

// RetryLast makes the most recent signal pending again and republishes it.
func (r *Runner) RetryLast() (market.Signal, error) {
	r.mu.Lock()
	if r.last == nil {
		r.mu.Unlock()
		return market.Signal{}, ErrNoSignal
	}
	sig := *r.last
	r.pending = &sig
	r.mu.Unlock()

	r.publish(EventPending, sig)
	return sig, nil
}

func (r *Runner) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	r.log.Info("cycle paused")
}

func (r *Runner) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.log.Info("cycle resumed")
}

func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Runner) SetDryRun(on bool) {
	r.mu.Lock()
	r.dryRun = on
	r.mu.Unlock()
}

func (r *Runner) DryRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dryRun
}

// SetManual switches between manual confirmation and automatic entries.
// Leaving manual mode drops the pending signal.
func (r *Runner) SetManual(on bool) {
	r.mu.Lock()
	r.manual = on
	if !on {
		r.pending = nil
	}
	r.mu.Unlock()
}

func (r *Runner) Manual() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manual
}

func (r *Runner) Pending() (market.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return market.Signal{}, false
	}
	return *r.pending, true
}

func (r *Runner) LastSignal() (market.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return market.Signal{}, false
	}
	return *r.last, true
}

func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runner) LastTick() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTick
}

func (r *Runner) Engine() *sim.Engine { return r.engine }

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) observeTick(outcome string) {
	if r.obs != nil {
		r.obs.ObserveTick(outcome)
	}
}

func (r *Runner) publish(typ string, data any) {
	if r.notify == nil {
		return
	}
	r.notify.Publish(Event{Type: typ, Data: data, Time: r.now()})
}
