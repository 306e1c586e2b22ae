package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

// SQLiteLedger stores trade records in a sqlite database. Insertion order
// is kept by an autoincrement sequence column.
type SQLiteLedger struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	l, err := NewSQLiteFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLiteFromDB wraps an already opened handle and applies the schema.
func NewSQLiteFromDB(db *sql.DB) (*SQLiteLedger, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

const insertTrade = `
	INSERT INTO trades
	(trade_id, side, entry_price, exit_price, profit, net, fee, liquidated, reason, open_time, close_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectTrades = `
	SELECT trade_id, side, entry_price, exit_price, profit, net, fee, liquidated, reason, open_time, close_time
	FROM trades`

func (j *SQLiteLedger) Append(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(insertTrade,
		t.ID, string(t.Side), t.Entry.String(), t.Exit.String(),
		t.Profit.String(), t.Net.String(), t.Fee.String(),
		t.Liquidated, t.Reason, t.OpenedAt.UTC(), t.ClosedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (j *SQLiteLedger) LoadAll() ([]TradeRecord, error) {
	return j.query(selectTrades + ` ORDER BY seq ASC`)
}

// GetTrade returns a single trade record by ID.
func (j *SQLiteLedger) GetTrade(id string) (TradeRecord, error) {
	recs, err := j.query(selectTrades+` WHERE trade_id = ?`, id)
	if err != nil {
		return TradeRecord{}, err
	}
	if len(recs) == 0 {
		return TradeRecord{}, fmt.Errorf("trade %q not found", id)
	}
	return recs[0], nil
}

// ListClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLiteLedger) ListClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	return j.query(selectTrades+` WHERE close_time >= ? AND close_time < ? ORDER BY seq ASC`,
		start.UTC(), end.UTC())
}

func (j *SQLiteLedger) query(q string, args ...any) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	out := []TradeRecord{}
	for rows.Next() {
		var (
			rec                           TradeRecord
			side                          string
			entry, exit, profit, net, fee string
		)
		if err := rows.Scan(
			&rec.ID, &side, &entry, &exit, &profit, &net, &fee,
			&rec.Liquidated, &rec.Reason, &rec.OpenedAt, &rec.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Side = market.Side(side)
		if err := parseDecimals(
			[]string{entry, exit, profit, net, fee},
			&rec.Entry, &rec.Exit, &rec.Profit, &rec.Net, &rec.Fee,
		); err != nil {
			return nil, fmt.Errorf("trade %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLiteLedger) Close() error {
	return j.db.Close()
}

func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	for i, s := range src {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse %q: %w", s, err)
		}
		*dst[i] = v
	}
	return nil
}
