package sim

import (
	"time"

	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

type State string

const (
	Flat       State = "flat"
	InPosition State = "in_position"
)

// Position is the single open trade. The open fee is charged at close.
type Position struct {
	Side     market.Side     `json:"side"`
	Entry    decimal.Decimal `json:"entry"`
	OpenFee  decimal.Decimal `json:"open_fee"`
	OpenedAt time.Time       `json:"opened_at"`
}

// Move is the favourable price move from entry to mark.
func (p Position) Move(mark decimal.Decimal) decimal.Decimal {
	return p.Side.Move(p.Entry, mark)
}

// CapitalState is the account the engine compounds.
type CapitalState struct {
	Current              decimal.Decimal `json:"current"`
	Starting             decimal.Decimal `json:"starting"`
	Leverage             int64           `json:"leverage"`
	FeeRatePercent       decimal.Decimal `json:"fee_rate_percent"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
}

// OpenFee is capital * leverage * feeRatePercent / 100.
func (c CapitalState) OpenFee() decimal.Decimal {
	return c.Current.
		Mul(decimal.NewFromInt(c.Leverage)).
		Mul(c.FeeRatePercent.Shift(-2))
}

// Liquidates reports whether a move of this size wipes the position.
func (c CapitalState) Liquidates(move decimal.Decimal) bool {
	return move.Abs().GreaterThanOrEqual(c.LiquidationThreshold)
}

// Status is a point in time view of the engine.
type Status struct {
	State    State        `json:"state"`
	Capital  CapitalState `json:"capital"`
	Position *Position    `json:"position,omitempty"`
	Trades   int          `json:"trades"`
}
