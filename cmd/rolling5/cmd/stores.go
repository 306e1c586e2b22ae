package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/rolling5/config"
	"github.com/rustyeddy/rolling5/journal"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/shopspring/decimal"
)

// openLedger opens the ledger backend the config names.
func openLedger(cfg *config.Config, log *logging.Logger) (journal.Ledger, error) {
	switch cfg.Journal.Type {
	case "sqlite":
		l, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return l, nil
	default:
		return journal.NewJSONLedger(cfg.Journal.TradesFile, log), nil
	}
}

func openSession(cfg *config.Config, log *logging.Logger) *journal.SessionStore {
	return journal.NewSessionStore(cfg.Journal.SessionFile,
		decimal.NewFromFloat(cfg.Account.StartingCapital), log)
}

func findTrade(l journal.Ledger, id string) (journal.TradeRecord, error) {
	if s, ok := l.(*journal.SQLiteLedger); ok {
		return s.GetTrade(id)
	}
	recs, err := l.LoadAll()
	if err != nil {
		return journal.TradeRecord{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return journal.TradeRecord{}, fmt.Errorf("trade %q not found", id)
}

// closedBetween returns trades closed in [start, end).
func closedBetween(l journal.Ledger, start, end time.Time) ([]journal.TradeRecord, error) {
	if s, ok := l.(*journal.SQLiteLedger); ok {
		return s.ListClosedBetween(start, end)
	}
	recs, err := l.LoadAll()
	if err != nil {
		return nil, err
	}
	var out []journal.TradeRecord
	for _, r := range recs {
		if !r.ClosedAt.Before(start) && r.ClosedAt.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
