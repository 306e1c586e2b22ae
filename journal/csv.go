package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"trade_id", "side", "entry_price", "exit_price", "profit", "fee",
	"net", "liquidated", "reason", "open_time", "close_time",
}

// WriteCSV writes records to w with a header row.
func WriteCSV(w io.Writer, recs []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range recs {
		err := cw.Write([]string{
			t.ID,
			string(t.Side),
			t.Entry.String(),
			t.Exit.String(),
			t.Profit.String(),
			t.Fee.String(),
			t.Net.String(),
			strconv.FormatBool(t.Liquidated),
			t.Reason,
			t.OpenedAt.UTC().Format(time.RFC3339),
			t.ClosedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
