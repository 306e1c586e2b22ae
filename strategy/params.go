package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Window is an inclusive trading window in "HH:MM" local (offset) time.
type Window struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func (w Window) Contains(hhmm string) bool {
	return w.Start <= hhmm && hhmm <= w.End
}

func (w Window) validate() error {
	for _, s := range []string{w.Start, w.End} {
		if _, err := time.Parse("15:04", s); err != nil || len(s) != 5 {
			return fmt.Errorf("window time %q must be zero-padded HH:MM", s)
		}
	}
	if w.End < w.Start {
		return fmt.Errorf("window %s-%s ends before it starts", w.Start, w.End)
	}
	return nil
}

// Params is the evaluator calibration.
type Params struct {
	Windows       []Window
	UTCOffset     time.Duration
	MinSpread     decimal.Decimal
	MinWallGap    decimal.Decimal
	MinConviction decimal.Decimal
	SpoofLimit    decimal.Decimal
}

// DefaultWindows are the session windows the engine was calibrated on.
func DefaultWindows() []Window {
	return []Window{
		{Start: "02:00", End: "03:00"}, // Tokyo apex
		{Start: "06:00", End: "07:00"}, // London build-up
		{Start: "09:30", End: "11:00"}, // US open
		{Start: "21:00", End: "22:00"}, // Tokyo prep
	}
}

func DefaultParams() Params {
	return Params{
		Windows:       DefaultWindows(),
		UTCOffset:     -4 * time.Hour,
		MinSpread:     decimal.RequireFromString("0.4"),
		MinWallGap:    decimal.RequireFromString("0.6"),
		MinConviction: decimal.RequireFromString("0.2"),
		SpoofLimit:    decimal.RequireFromString("0.2"),
	}
}

func (p Params) Validate() error {
	if len(p.Windows) == 0 {
		return fmt.Errorf("strategy: at least one trade window is required")
	}
	for _, w := range p.Windows {
		if err := w.validate(); err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
	}
	if p.MinSpread.IsNegative() || p.MinWallGap.IsNegative() || p.SpoofLimit.IsNegative() {
		return fmt.Errorf("strategy: thresholds must not be negative")
	}
	return nil
}
