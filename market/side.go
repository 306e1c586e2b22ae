package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Move is the signed favourable price move for a position on this side.
func (s Side) Move(entry, exit decimal.Decimal) decimal.Decimal {
	if s == Short {
		return entry.Sub(exit)
	}
	return exit.Sub(entry)
}

// Signal is a trade decision produced by an evaluator.
type Signal struct {
	Side  Side            `json:"side"`
	Entry decimal.Decimal `json:"entry"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s @ %s", s.Side, s.Entry.StringFixed(2))
}
