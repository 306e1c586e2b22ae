package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Volume is the recent bull/bear traded volume split.
type Volume struct {
	Bull decimal.Decimal `json:"bull_volume"`
	Bear decimal.Decimal `json:"bear_volume"`
}

// Spoof carries the spoof tracker's pressure estimates for each side.
type Spoof struct {
	Ask decimal.Decimal `json:"ask_spoof"`
	Bid decimal.Decimal `json:"bid_spoof"`
}

// Snapshot is one cycle's consistent read of the market. Build it with
// NewSnapshot; the ladders are copied so later changes to the caller's slices
// do not leak in.
type Snapshot struct {
	Book    Book      `json:"orderbook"`
	Book10s Book      `json:"ob_10s"`
	Volume  Volume    `json:"volume"`
	Spoof   Spoof     `json:"spoof"`
	Time    time.Time `json:"time"`
}

func NewSnapshot(book, book10s Book, vol Volume, spoof Spoof, at time.Time) Snapshot {
	return Snapshot{
		Book:    book.clone(),
		Book10s: book10s.clone(),
		Volume:  vol,
		Spoof:   spoof,
		Time:    at,
	}
}

// Mid is the midpoint of the primary book.
func (s Snapshot) Mid() (decimal.Decimal, bool) {
	return s.Book.Mid()
}
