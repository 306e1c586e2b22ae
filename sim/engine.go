// Package sim holds the position lifecycle: one position at a time, opened
// from a signal and closed against a mark, compounding capital with a full
// reset on liquidation.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/market"
	"github.com/rustyeddy/rolling5/pkg/id"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFlat    = errors.New("sim: position already open")
	ErrNoPosition = errors.New("sim: no open position")
	ErrNoCapital  = errors.New("sim: capital is not positive")
)

// CapitalSaver persists the capital snapshot after each close.
type CapitalSaver interface {
	UpdateCapital(decimal.Decimal) error
}

// CloseListener is notified after a trade closes, outside the engine lock.
type CloseListener interface {
	OnTradeClosed(journal.TradeRecord)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNop(l).WithComponent("sim") }
}

func WithCapitalSaver(s CapitalSaver) Option {
	return func(e *Engine) { e.saver = s }
}

func WithCloseListener(l CloseListener) Option {
	return func(e *Engine) { e.listener = l }
}

type Engine struct {
	mu       sync.Mutex
	capital  CapitalState
	pos      *Position
	trades   int
	ledger   journal.Ledger
	saver    CapitalSaver
	listener CloseListener
	now      func() time.Time
	log      *logging.Logger
}

func NewEngine(cs CapitalState, ledger journal.Ledger, opts ...Option) *Engine {
	if cs.Current.IsZero() {
		cs.Current = cs.Starting
	}
	e := &Engine{
		capital: cs,
		ledger:  ledger,
		now:     time.Now,
		log:     logging.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Restore sets capital from persisted state. The ledger is the source of
// truth: the last record's Net wins when positive, then a positive session
// capital, then the starting capital.
func (e *Engine) Restore(recs []journal.TradeRecord, session decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case len(recs) > 0 && recs[len(recs)-1].Net.IsPositive():
		e.capital.Current = recs[len(recs)-1].Net
	case session.IsPositive():
		e.capital.Current = session
	default:
		e.capital.Current = e.capital.Starting
	}
	e.trades = len(recs)
	e.pos = nil
	return e.capital.Current
}

func (e *Engine) Open(sig market.Signal) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos != nil {
		return Position{}, fmt.Errorf("open %s: %w", sig, ErrNotFlat)
	}
	if sig.Side != market.Long && sig.Side != market.Short {
		return Position{}, fmt.Errorf("open: unknown side %q", sig.Side)
	}
	if !sig.Entry.IsPositive() {
		return Position{}, fmt.Errorf("open: entry must be positive, got %s", sig.Entry)
	}
	if !e.capital.Current.IsPositive() {
		return Position{}, fmt.Errorf("open at capital %s: %w", e.capital.Current, ErrNoCapital)
	}

	p := Position{
		Side:     sig.Side,
		Entry:    sig.Entry,
		OpenFee:  e.capital.OpenFee(),
		OpenedAt: e.now(),
	}
	e.pos = &p

	e.log.Info("trade entered",
		logging.Side(string(p.Side)),
		logging.Price(p.Entry),
		logging.Decimal("fee", p.OpenFee),
		logging.Capital(e.capital.Current))
	return p, nil
}

func (e *Engine) Close(exit decimal.Decimal) (journal.TradeRecord, error) {
	return e.close(exit, journal.ReasonExit)
}

// ForceExit closes the open position at mark on operator request.
func (e *Engine) ForceExit(mark decimal.Decimal) (journal.TradeRecord, error) {
	return e.close(mark, journal.ReasonForceExit)
}

// MarkAndMaybeClose closes the open position at mid. It reports false when
// the engine was flat.
func (e *Engine) MarkAndMaybeClose(mid decimal.Decimal) (journal.TradeRecord, bool, error) {
	rec, err := e.close(mid, journal.ReasonExit)
	if errors.Is(err, ErrNoPosition) {
		return journal.TradeRecord{}, false, nil
	}
	if err != nil {
		return journal.TradeRecord{}, false, err
	}
	return rec, true, nil
}

func (e *Engine) close(exit decimal.Decimal, reason string) (journal.TradeRecord, error) {
	e.mu.Lock()

	if e.pos == nil {
		e.mu.Unlock()
		return journal.TradeRecord{}, fmt.Errorf("close at %s: %w", exit, ErrNoPosition)
	}

	rec := e.settleLocked(*e.pos, exit, reason)

	// The ledger write comes first; state only moves once it is durable.
	if err := e.ledger.Append(rec); err != nil {
		e.mu.Unlock()
		return journal.TradeRecord{}, fmt.Errorf("close trade: %w", err)
	}
	e.capital.Current = rec.Net
	e.pos = nil
	e.trades++

	if e.saver != nil {
		if err := e.saver.UpdateCapital(rec.Net); err != nil {
			e.log.Warn("capital snapshot not saved, ledger is authoritative", logging.Err(err))
		}
	}

	listener := e.listener
	e.mu.Unlock()

	switch {
	case rec.Liquidated:
		e.log.Warn("position liquidated, capital reset",
			logging.Price(rec.Exit), logging.Capital(rec.Net))
	case rec.Reason == journal.ReasonRuin:
		e.log.Warn("capital wiped out, reset to starting",
			logging.Price(rec.Exit),
			logging.Decimal("profit", rec.Profit),
			logging.Capital(rec.Net))
	default:
		e.log.Info("trade closed",
			logging.Price(rec.Exit),
			logging.Decimal("profit", rec.Profit),
			logging.Capital(rec.Net))
	}
	if listener != nil {
		listener.OnTradeClosed(rec)
	}
	return rec, nil
}

// settleLocked applies the close formula without mutating state.
func (e *Engine) settleLocked(p Position, exit decimal.Decimal, reason string) journal.TradeRecord {
	move := p.Move(exit)
	profit := move.Mul(decimal.NewFromInt(e.capital.Leverage))
	net := e.capital.Current.Add(profit).Sub(p.OpenFee)

	rec := journal.TradeRecord{
		ID:       id.New(),
		Entry:    p.Entry,
		Exit:     exit,
		Side:     p.Side,
		Profit:   profit,
		Fee:      p.OpenFee,
		Net:      net,
		Reason:   reason,
		OpenedAt: p.OpenedAt,
		ClosedAt: e.now(),
	}
	switch {
	case e.capital.Liquidates(move):
		rec.Liquidated = true
		rec.Reason = journal.ReasonLiquidation
		rec.Net = e.capital.Starting
	case !net.IsPositive():
		// Account wiped without reaching the threshold.
		rec.Reason = journal.ReasonRuin
		rec.Net = e.capital.Starting
	}
	return rec
}

func (e *Engine) InPosition() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos != nil
}

func (e *Engine) Capital() CapitalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capital
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{State: Flat, Capital: e.capital, Trades: e.trades}
	if e.pos != nil {
		p := *e.pos
		s.State = InPosition
		s.Position = &p
	}
	return s
}
