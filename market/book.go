package market

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Level is one rung of an order book ladder.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// UnmarshalJSON accepts the feed's [price, size] pairs. Either element may be
// a JSON number or a numeric string; size may be omitted.
func (l *Level) UnmarshalJSON(b []byte) error {
	var raw []decimal.Decimal
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("level: empty price/size pair")
	}
	l.Price = raw[0]
	l.Size = decimal.Zero
	if len(raw) > 1 {
		l.Size = raw[1]
	}
	return nil
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([]decimal.Decimal{l.Price, l.Size})
}

// Book is an order book with asks ascending and bids descending from the top.
type Book struct {
	Asks []Level `json:"asks"`
	Bids []Level `json:"bids"`
}

func (b Book) Empty() bool {
	return len(b.Asks) == 0 || len(b.Bids) == 0
}

func (b Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

func (b Book) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// Mid is the midpoint of the top of book. ok is false when either side is empty.
func (b Book) Mid() (mid decimal.Decimal, ok bool) {
	ask, okA := b.BestAsk()
	bid, okB := b.BestBid()
	if !okA || !okB {
		return decimal.Zero, false
	}
	return ask.Add(bid).Div(decimal.NewFromInt(2)), true
}

func (b Book) clone() Book {
	return Book{
		Asks: append([]Level(nil), b.Asks...),
		Bids: append([]Level(nil), b.Bids...),
	}
}
