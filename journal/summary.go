package journal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Summary aggregates a ledger for the earnings report.
type Summary struct {
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	Liquidations int             `json:"liquidations"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	Fees         decimal.Decimal `json:"fees"`
	StartBalance decimal.Decimal `json:"start_balance"`
	EndBalance   decimal.Decimal `json:"end_balance"`
}

// Summarize walks recs in order starting from the starting capital.
// Liquidated trades count as losses and do not contribute to profit totals.
func Summarize(recs []TradeRecord, starting decimal.Decimal) Summary {
	s := Summary{
		StartBalance: starting,
		EndBalance:   starting,
	}
	for _, r := range recs {
		s.Trades++
		s.Fees = s.Fees.Add(r.Fee)
		s.EndBalance = r.Net

		switch {
		case r.Liquidated:
			s.Liquidations++
			s.Losses++
		case r.Win():
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(r.Profit.Sub(r.Fee))
		default:
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(r.Profit.Sub(r.Fee).Abs())
		}
	}
	return s
}

func (s Summary) WinRate() decimal.Decimal {
	if s.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(s.Trades)))
}

// ProfitFactor is gross profit over gross loss, zero when there were no losses.
func (s Summary) ProfitFactor() decimal.Decimal {
	if s.GrossLoss.IsZero() {
		return decimal.Zero
	}
	return s.GrossProfit.Div(s.GrossLoss)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trades: %d (wins %d, losses %d, liquidations %d)\n",
		s.Trades, s.Wins, s.Losses, s.Liquidations)
	fmt.Fprintf(&b, "Win rate: %s%%\n", s.WinRate().Mul(decimal.NewFromInt(100)).StringFixed(1))
	fmt.Fprintf(&b, "Gross profit: %s  Gross loss: %s  Fees: %s\n",
		s.GrossProfit.StringFixed(2), s.GrossLoss.StringFixed(2), s.Fees.StringFixed(2))
	fmt.Fprintf(&b, "Balance: %s -> %s", s.StartBalance.StringFixed(2), s.EndBalance.StringFixed(2))
	return b.String()
}
