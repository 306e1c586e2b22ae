package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/market"
	"github.com/rustyeddy/rolling5/sim"
	"github.com/rustyeddy/rolling5/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lv(price string) market.Level {
	return market.Level{Price: d(price), Size: d("1")}
}

// 10:00 on the UTC-4 clock.
var t0 = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

func clock() time.Time { return t0 }

// entrySnapshot fires a long at 101.
func entrySnapshot() market.Snapshot {
	return market.Snapshot{
		Book: market.Book{
			Asks: []market.Level{lv("101"), lv("102")},
			Bids: []market.Level{lv("100"), lv("98")},
		},
		Volume: market.Volume{Bull: d("70"), Bear: d("20")},
		Spoof:  market.Spoof{Ask: d("0.05"), Bid: d("0.05")},
	}
}

// markSnapshot has a mid of 101.5.
func markSnapshot() market.Snapshot {
	return market.Snapshot{
		Book: market.Book{
			Asks: []market.Level{lv("101.6")},
			Bids: []market.Level{lv("101.4")},
		},
	}
}

type step struct {
	snap market.Snapshot
	err  error
}

type fakeSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *fakeSource) Fetch(context.Context) (market.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.steps) == 0 {
		return market.Snapshot{}, errors.New("no more snapshots")
	}
	s := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return s.snap, s.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) Publish(ev Event) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.got {
		out = append(out, ev.Type)
	}
	return out
}

type counter struct {
	mu        sync.Mutex
	ticks     map[string]int
	decisions map[string]int
	opened    int
}

func newCounter() *counter {
	return &counter{ticks: map[string]int{}, decisions: map[string]int{}}
}

func (c *counter) ObserveTick(o string) {
	c.mu.Lock()
	c.ticks[o]++
	c.mu.Unlock()
}

func (c *counter) ObserveDecision(s string) {
	c.mu.Lock()
	c.decisions[s]++
	c.mu.Unlock()
}

func (c *counter) OnTradeOpened() {
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
}

func newEngine(t *testing.T) (*sim.Engine, *journal.JSONLedger) {
	t.Helper()
	l := journal.NewJSONLedger(filepath.Join(t.TempDir(), "trade_log.json"), nil)
	cs := sim.CapitalState{
		Starting:             d("10"),
		Leverage:             250,
		FeeRatePercent:       d("0.34"),
		LiquidationThreshold: d("4.00"),
	}
	return sim.NewEngine(cs, l, sim.WithClock(clock)), l
}

func newRunner(t *testing.T, src *fakeSource, opts ...Option) (*Runner, *journal.JSONLedger) {
	t.Helper()
	e, l := newEngine(t)
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(src, strategy.DefaultParams(), e, opts...), l
}

func TestTickOpensThenClosesAtMid(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}, {snap: markSnapshot()}}}
	ev := &events{}
	obs := newCounter()
	r, ledger := newRunner(t, src, WithNotifier(ev), WithObserver(obs))

	rep, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, rep.Outcome)
	require.NotNil(t, rep.Position)
	assert.True(t, d("101").Equal(rep.Position.Entry))
	assert.True(t, r.Engine().InPosition())

	rep, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, rep.Outcome)
	require.NotNil(t, rep.Trade)
	assert.True(t, d("101.5").Equal(rep.Trade.Exit))
	assert.True(t, d("126.5").Equal(rep.Trade.Net), rep.Trade.Net.String())
	assert.False(t, r.Engine().InPosition())

	recs, err := ledger.LoadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	assert.Equal(t, []string{EventOpened, EventClosed}, ev.types())
	assert.Equal(t, 1, obs.ticks[OutcomeOpened])
	assert.Equal(t, 1, obs.ticks[OutcomeClosed])
	assert.Equal(t, 1, obs.decisions[""])
	assert.Equal(t, 1, obs.opened)
}

func TestTickInPositionWithEmptyBookWaits(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}, {snap: market.Snapshot{}}}}
	r, _ := newRunner(t, src)

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	rep, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	assert.True(t, r.Engine().InPosition())
}

func TestTickFetchErrorIsReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	src := &fakeSource{steps: []step{{err: boom}}}
	ev := &events{}
	r, _ := newRunner(t, src, WithNotifier(ev))

	rep, err := r.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeError, rep.Outcome)
	assert.ErrorIs(t, r.LastError(), boom)
	assert.Equal(t, []string{EventError}, ev.types())
	assert.False(t, r.Engine().InPosition())
}

func TestTickSkipsOutsideWindow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src, WithClock(func() time.Time {
		return time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	}))

	rep, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	require.NotNil(t, rep.Decision)
	assert.Equal(t, strategy.SkipOutsideWindow, rep.Decision.Skip)
}

func TestDryRunNeverOpens(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	ev := &events{}
	r, _ := newRunner(t, src, WithDryRun(true), WithNotifier(ev))

	for i := 0; i < 3; i++ {
		rep, err := r.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSignal, rep.Outcome)
	}
	assert.False(t, r.Engine().InPosition())
	_, pending := r.Pending()
	assert.False(t, pending)

	sig, ok := r.LastSignal()
	require.True(t, ok)
	assert.Equal(t, "long @ 101.00", sig.String())
	assert.Equal(t, []string{EventSignal, EventSignal, EventSignal}, ev.types())
}

func TestManualModeWaitsForConfirm(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src, WithManual(true))

	_, err := r.Confirm()
	assert.ErrorIs(t, err, ErrNoPending)

	rep, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, rep.Outcome)
	assert.False(t, r.Engine().InPosition())

	sig, ok := r.Pending()
	require.True(t, ok)
	assert.True(t, d("101").Equal(sig.Entry))

	p, err := r.Confirm()
	require.NoError(t, err)
	assert.Equal(t, market.Long, p.Side)
	assert.True(t, r.Engine().InPosition())

	_, ok = r.Pending()
	assert.False(t, ok)
}

func TestConfirmKeepsPendingWhenOpenFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src, WithManual(true))

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	_, err = r.Engine().Open(market.Signal{Side: market.Long, Entry: d("99")})
	require.NoError(t, err)

	_, err = r.Confirm()
	assert.ErrorIs(t, err, sim.ErrNotFlat)

	sig, ok := r.Pending()
	require.True(t, ok)
	assert.True(t, d("101").Equal(sig.Entry))
}

func TestLeavingManualDropsPending(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src, WithManual(true))

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	r.SetManual(false)

	_, ok := r.Pending()
	assert.False(t, ok)
	assert.False(t, r.Manual())
}

func TestPausedSkipsEntryButStillCloses(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}, {snap: markSnapshot()}}}
	r, _ := newRunner(t, src)

	r.Pause()
	rep, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, rep.Outcome)
	assert.False(t, r.Engine().InPosition())

	r.Resume()
	rep, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, rep.Outcome)

	r.Pause()
	rep, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, rep.Outcome)
}

func TestForceExit(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}, {snap: markSnapshot()}}}
	r, _ := newRunner(t, src)

	_, err := r.ForceExit(context.Background())
	assert.ErrorIs(t, err, sim.ErrNoPosition)

	_, err = r.Tick(context.Background())
	require.NoError(t, err)

	rec, err := r.ForceExit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, journal.ReasonForceExit, rec.Reason)
	assert.True(t, d("101.5").Equal(rec.Exit))
}

func TestEmergencyExitPausesAndCloses(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}, {snap: markSnapshot()}}}
	r, _ := newRunner(t, src)

	_, closed, err := r.EmergencyExit(context.Background())
	require.NoError(t, err)
	assert.False(t, closed)
	assert.True(t, r.Paused())

	r.Resume()
	_, err = r.Tick(context.Background())
	require.NoError(t, err)

	rec, closed, err := r.EmergencyExit(context.Background())
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, journal.ReasonForceExit, rec.Reason)
	assert.True(t, r.Paused())
}

func TestRetryLast(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src, WithDryRun(true))

	_, err := r.RetryLast()
	assert.ErrorIs(t, err, ErrNoSignal)

	_, err = r.Tick(context.Background())
	require.NoError(t, err)

	sig, err := r.RetryLast()
	require.NoError(t, err)
	assert.True(t, d("101").Equal(sig.Entry))

	pending, ok := r.Pending()
	require.True(t, ok)
	assert.Equal(t, sig, pending)
}

type panicSource struct{}

func (panicSource) Fetch(context.Context) (market.Snapshot, error) { panic("decoder blew up") }

func TestSafeTickRecoversPanic(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	r := New(panicSource{}, strategy.DefaultParams(), e, WithClock(clock))

	_, err := r.safeTick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder blew up")
	assert.Error(t, r.LastError())
}

func TestRunWaitsBackoffAfterError(t *testing.T) {
	t.Parallel()

	// A tick interval this long would never allow a second fetch, so a
	// second fetch proves the backoff interval was used.
	src := &fakeSource{steps: []step{{err: errors.New("down")}}}
	r, _ := newRunner(t, src, WithTick(time.Hour), WithBackoff(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunWaitsTickAfterSuccess(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: market.Snapshot{}}}}
	r, _ := newRunner(t, src, WithTick(5*time.Millisecond), WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

// gatedSource blocks every Fetch until the test releases it.
type gatedSource struct {
	snap    market.Snapshot
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func newGatedSource(snap market.Snapshot) *gatedSource {
	return &gatedSource{
		snap:    snap,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) Fetch(ctx context.Context) (market.Snapshot, error) {
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.ctxErr = ctx.Err()
	g.mu.Unlock()
	return g.snap, nil
}

// runCancelledMidTick starts Run, cancels while the first fetch is blocked,
// then lets the fetch finish and waits for Run to return.
func runCancelledMidTick(t *testing.T, r *Runner, src *gatedSource) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-src.entered:
	case <-time.After(time.Second):
		t.Fatal("fetch never started")
	}
	cancel()
	close(src.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.NoError(t, src.ctxErr, "tick in flight must not see the cancellation")
}

func TestShutdownCompletesInFlightOpen(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	src := newGatedSource(entrySnapshot())
	r := New(src, strategy.DefaultParams(), e, WithClock(clock), WithTick(time.Hour))

	runCancelledMidTick(t, r, src)

	assert.True(t, e.InPosition())
}

func TestShutdownCompletesInFlightClose(t *testing.T) {
	t.Parallel()

	e, ledger := newEngine(t)
	_, err := e.Open(market.Signal{Side: market.Long, Entry: d("101")})
	require.NoError(t, err)

	src := newGatedSource(markSnapshot())
	r := New(src, strategy.DefaultParams(), e, WithClock(clock), WithTick(time.Hour))

	runCancelledMidTick(t, r, src)

	assert.False(t, e.InPosition())
	recs, err := ledger.LoadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, journal.ReasonExit, recs[0].Reason)
	assert.True(t, d("101.5").Equal(recs[0].Exit))
}

func TestRunReturnsImmediatelyWhenCancelled(t *testing.T) {
	t.Parallel()

	src := &fakeSource{steps: []step{{snap: entrySnapshot()}}}
	r, _ := newRunner(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 0, src.Calls())
}
