package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/rolling5/logging"
)

const (
	DefaultWindow    = time.Hour
	DefaultThreshold = 2

	ReasonUnstable = "module unstable"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFallback Outcome = "fallback"
)

// Response is the answer to a dispatch. A fallback response names the
// fallback module and carries the reason and, when the module ran and
// failed, its error.
type Response struct {
	Module   ModuleID `json:"module"`
	Outcome  Outcome  `json:"outcome"`
	Result   Result   `json:"result"`
	Fallback ModuleID `json:"fallback,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Err      error    `json:"-"`
}

func (r Response) String() string {
	if r.Outcome == OutcomeSuccess {
		return fmt.Sprintf("%s: %s (%s)", r.Module, r.Result.Status, r.Result.Notes)
	}
	return fmt.Sprintf("%s unavailable (%s), routed to %s", r.Module, r.Reason, r.Fallback)
}

// ModuleStats is the observable state of one module's breaker.
type ModuleStats struct {
	Module       ModuleID  `json:"module"`
	Failures     int       `json:"failures"`
	Unstable     bool      `json:"unstable"`
	LastDispatch time.Time `json:"last_dispatch,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Observer is told about every dispatch outcome.
type Observer interface {
	ObserveDispatch(ModuleID, Outcome)
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithWindow(w time.Duration) Option {
	return func(d *Dispatcher) { d.window = w }
}

func WithThreshold(n int) Option {
	return func(d *Dispatcher) { d.threshold = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.log = logging.OrNop(l).WithComponent("dispatch") }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.obs = o }
}

// Dispatcher owns the failure history and last dispatch times. All reads
// and writes of that state happen under mu; module calls do not.
type Dispatcher struct {
	reg       *Registry
	window    time.Duration
	threshold int
	now       func() time.Time
	log       *logging.Logger
	obs       Observer

	mu       sync.Mutex
	failures map[ModuleID][]time.Time
	last     map[ModuleID]time.Time
}

func New(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		now:       time.Now,
		log:       logging.Nop(),
		failures:  make(map[ModuleID][]time.Time),
		last:      make(map[ModuleID]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs module id unless its breaker is open. Module errors and
// panics become fallback responses; only an unregistered id is returned as
// an error.
func (d *Dispatcher) Dispatch(ctx context.Context, id ModuleID, req Request) (Response, error) {
	mod, err := d.reg.Lookup(id)
	if err != nil {
		return Response{}, err
	}

	d.mu.Lock()
	now := d.now()
	d.last[id] = now
	unstable := d.pruneLocked(id, now) >= d.threshold
	d.mu.Unlock()

	if unstable {
		d.log.Warn("module unstable, routing to fallback",
			logging.Module(string(id)), logging.String("fallback", string(FallbackModule)))
		return d.fallback(id, ReasonUnstable, nil), nil
	}

	res, err := invoke(ctx, mod, req)
	if err != nil {
		n := d.RecordFailure(id)
		d.log.Warn("module failed",
			logging.Module(string(id)), logging.Int("failures", n), logging.Err(err))
		return d.fallback(id, err.Error(), err), nil
	}

	d.observe(id, OutcomeSuccess)
	return Response{Module: id, Outcome: OutcomeSuccess, Result: res}, nil
}

func (d *Dispatcher) fallback(id ModuleID, reason string, err error) Response {
	d.observe(id, OutcomeFallback)
	return Response{
		Module:   id,
		Outcome:  OutcomeFallback,
		Fallback: FallbackModule,
		Reason:   reason,
		Err:      err,
		Result:   Result{Strategy: string(FallbackModule), Status: "fallback", Notes: reason},
	}
}

func (d *Dispatcher) observe(id ModuleID, o Outcome) {
	if d.obs != nil {
		d.obs.ObserveDispatch(id, o)
	}
}

func invoke(ctx context.Context, m Module, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module panic: %v", r)
		}
	}()
	return m.Evaluate(ctx, req)
}

// RecordFailure notes a failure for id now and returns the count inside the
// window.
func (d *Dispatcher) RecordFailure(id ModuleID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(id, now)
	d.failures[id] = append(d.failures[id], now)
	return len(d.failures[id])
}

// Unstable reports whether id's breaker is open right now.
func (d *Dispatcher) Unstable(id ModuleID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked(id, d.now()) >= d.threshold
}

// pruneLocked drops failures older than the window and returns what is
// left. A failure exactly window old still counts.
func (d *Dispatcher) pruneLocked(id ModuleID, now time.Time) int {
	fs := d.failures[id]
	cutoff := now.Add(-d.window)
	i := 0
	for i < len(fs) && fs[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		fs = append(fs[:0:0], fs[i:]...)
		if len(fs) == 0 {
			delete(d.failures, id)
		} else {
			d.failures[id] = fs
		}
	}
	return len(fs)
}

// Snapshot returns the breaker state of every registered module.
func (d *Dispatcher) Snapshot() []ModuleStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	out := make([]ModuleStats, 0, len(d.reg.mods))
	for _, id := range d.reg.IDs() {
		n := d.pruneLocked(id, now)
		s := ModuleStats{
			Module:       id,
			Failures:     n,
			Unstable:     n >= d.threshold,
			LastDispatch: d.last[id],
		}
		if n > 0 {
			s.LastFailure = d.failures[id][n-1]
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}
