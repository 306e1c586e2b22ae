package journal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

func sampleRecord(n int) TradeRecord {
	return TradeRecord{
		ID:       fmt.Sprintf("01HTRADE%04d", n),
		Entry:    d("2500"),
		Exit:     d("2501"),
		Side:     market.Long,
		Profit:   d("250"),
		Fee:      d("8.5"),
		Net:      d("251.5"),
		Reason:   ReasonExit,
		OpenedAt: t0.Add(time.Duration(n) * time.Minute),
		ClosedAt: t0.Add(time.Duration(n)*time.Minute + 2500*time.Millisecond),
	}
}

func liquidatedRecord(n int) TradeRecord {
	r := sampleRecord(n)
	r.Exit = d("2525")
	r.Profit = d("6250")
	r.Net = d("10")
	r.Liquidated = true
	r.Reason = ReasonLiquidation
	return r
}
