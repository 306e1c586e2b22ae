// Package journal persists closed trades and the session snapshot.
package journal

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ReasonExit        = "EXIT"
	ReasonForceExit   = "FORCE_EXIT"
	ReasonLiquidation = "LIQUIDATION"
	ReasonRuin        = "RUIN"
)

// ErrCorrupt marks a ledger or session file that could not be decoded.
// Loaders log it and carry on with empty state.
var ErrCorrupt = errors.New("journal: corrupt file")

// TradeRecord is one closed trade. Net is the realized capital after the
// close: starting capital when Liquidated is set or the close would leave
// capital at or below zero (Reason RUIN), otherwise capital plus profit less
// the open fee.
type TradeRecord struct {
	ID         string          `json:"id"`
	Entry      decimal.Decimal `json:"entry"`
	Exit       decimal.Decimal `json:"exit"`
	Side       market.Side     `json:"side"`
	Profit     decimal.Decimal `json:"profit"`
	Net        decimal.Decimal `json:"net"`
	Fee        decimal.Decimal `json:"fee"`
	Liquidated bool            `json:"liquidated"`
	Reason     string          `json:"reason"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

func (r TradeRecord) Win() bool {
	return !r.Liquidated && r.Profit.Sub(r.Fee).IsPositive()
}

// Ledger is an append-only, ordered store of trade records. Implementations
// serialise their own writers.
type Ledger interface {
	Append(TradeRecord) error
	LoadAll() ([]TradeRecord, error)
	Close() error
}

// Last returns the newest record in l.
func Last(l Ledger) (TradeRecord, bool, error) {
	recs, err := l.LoadAll()
	if err != nil || len(recs) == 0 {
		return TradeRecord{}, false, err
	}
	return recs[len(recs)-1], true, nil
}
