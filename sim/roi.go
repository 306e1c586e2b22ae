package sim

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ROI is a what-if calculation for a single leveraged trade.
type ROI struct {
	RawPercent decimal.Decimal `json:"raw_percent"`
	NetPercent decimal.Decimal `json:"net_percent"`
	Profit     decimal.Decimal `json:"profit"`
}

// CalculateROI returns the leveraged percentage return from entry to exit,
// the same less round-trip fees (in percent), and the resulting profit on
// capital.
func CalculateROI(entry, exit decimal.Decimal, leverage int64, capital, feePercent decimal.Decimal) (ROI, error) {
	if !entry.IsPositive() {
		return ROI{}, fmt.Errorf("roi: entry must be positive, got %s", entry)
	}
	if leverage <= 0 {
		return ROI{}, fmt.Errorf("roi: leverage must be positive, got %d", leverage)
	}

	raw := exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(leverage)).Mul(hundred)
	net := raw.Sub(feePercent)
	return ROI{
		RawPercent: raw,
		NetPercent: net,
		Profit:     net.Shift(-2).Mul(capital),
	}, nil
}

func (r ROI) String() string {
	return fmt.Sprintf("ROI: %s%% (net %s%%), profit %s",
		r.RawPercent.StringFixed(2), r.NetPercent.StringFixed(2), r.Profit.StringFixed(2))
}
