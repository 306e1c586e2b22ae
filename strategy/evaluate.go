// Package strategy turns a market snapshot into a trade decision.
//
// Evaluation is pure: the same snapshot and clock always give the same answer.
// Gates run in order and the first one that fails ends the evaluation:
//
//  1. trade window (fixed UTC offset clock, "HH:MM" compare)
//  2. both ladders non-empty
//  3. order book metrics (spread, wall gap)
//  4. conviction index from bull/bear volume
//  5. spoof alert
//  6. entry rule: long at best ask when spread and wall gap clear their floors
package strategy

import (
	"errors"
	"time"

	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

// Skip names the gate that stopped an evaluation. It is not an error.
type Skip string

const (
	SkipNone          Skip = ""
	SkipOutsideWindow Skip = "outside trade window"
	SkipEmptyBook     Skip = "empty order book"
	SkipBadBook       Skip = "order book metrics unavailable"
	SkipSpoof         Skip = "spoof alert"
	SkipLowConviction Skip = "conviction below threshold"
	SkipThinBook      Skip = "spread or wall gap below threshold"
)

var errBadLevel = errors.New("order book side is empty")

// Metrics are the intermediate values behind a decision.
type Metrics struct {
	Spread     decimal.Decimal `json:"spread"`
	WallGap    decimal.Decimal `json:"wall_gap"`
	TopAsk     decimal.Decimal `json:"top_ask"`
	TopBid     decimal.Decimal `json:"top_bid"`
	Conviction decimal.Decimal `json:"conviction"`
	SpoofAlert bool            `json:"spoof_alert"`
}

type Decision struct {
	Signal  market.Signal
	OK      bool
	Skip    Skip
	Metrics Metrics
}

// Evaluate runs the default calibration.
func Evaluate(s market.Snapshot, now time.Time) (market.Signal, bool) {
	return DefaultParams().Evaluate(s, now)
}

func (p Params) Evaluate(s market.Snapshot, now time.Time) (market.Signal, bool) {
	d := p.Explain(s, now)
	return d.Signal, d.OK
}

// Explain evaluates the snapshot and reports which gate, if any, stopped it.
func (p Params) Explain(s market.Snapshot, now time.Time) Decision {
	if !p.InTradeWindow(now) {
		return Decision{Skip: SkipOutsideWindow}
	}
	if s.Book.Empty() {
		return Decision{Skip: SkipEmptyBook}
	}

	m, err := AnalyzeBook(s.Book.Asks, s.Book.Bids)
	if err != nil {
		return Decision{Skip: SkipBadBook}
	}
	m.Conviction = Conviction(s.Volume)
	m.SpoofAlert = SpoofAlert(s.Spoof, p.SpoofLimit)

	if m.SpoofAlert {
		return Decision{Skip: SkipSpoof, Metrics: m}
	}
	if m.Conviction.LessThan(p.MinConviction) {
		return Decision{Skip: SkipLowConviction, Metrics: m}
	}
	if m.Spread.GreaterThan(p.MinSpread) && m.WallGap.GreaterThan(p.MinWallGap) {
		return Decision{
			Signal:  market.Signal{Side: market.Long, Entry: m.TopAsk},
			OK:      true,
			Metrics: m,
		}
	}
	return Decision{Skip: SkipThinBook, Metrics: m}
}

// InTradeWindow reports whether now, shifted to the fixed offset clock, falls
// inside any configured window.
func (p Params) InTradeWindow(now time.Time) bool {
	hhmm := now.UTC().Add(p.UTCOffset).Format("15:04")
	for _, w := range p.Windows {
		if w.Contains(hhmm) {
			return true
		}
	}
	return false
}

// AnalyzeBook computes spread and wall gap from the top two levels of each
// side. A missing second level falls back to the best level. Prices are taken
// as quoted; a zero level is not rejected here.
func AnalyzeBook(asks, bids []market.Level) (Metrics, error) {
	if len(asks) == 0 || len(bids) == 0 {
		return Metrics{}, errBadLevel
	}
	ask1, bid1 := asks[0].Price, bids[0].Price
	ask2, bid2 := ask1, bid1
	if len(asks) > 1 {
		ask2 = asks[1].Price
	}
	if len(bids) > 1 {
		bid2 = bids[1].Price
	}
	askGap := ask2.Sub(ask1)
	bidGap := bid1.Sub(bid2)
	return Metrics{
		Spread:  ask1.Sub(bid1),
		WallGap: decimal.Max(askGap, bidGap),
		TopAsk:  ask1,
		TopBid:  bid1,
	}, nil
}

// Conviction is (bull-bear)/(bull+bear) rounded to 3 places, or 0 with no volume.
func Conviction(v market.Volume) decimal.Decimal {
	total := v.Bull.Add(v.Bear)
	if total.IsZero() {
		return decimal.Zero
	}
	return v.Bull.Sub(v.Bear).Div(total).Round(3)
}

// SpoofAlert is true when ask and bid spoof pressure differ by more than limit.
func SpoofAlert(s market.Spoof, limit decimal.Decimal) bool {
	return s.Ask.Sub(s.Bid).Abs().GreaterThan(limit)
}
