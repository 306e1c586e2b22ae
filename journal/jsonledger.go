package journal

import (
	"fmt"
	"sync"

	"github.com/rustyeddy/rolling5/logging"
)

// JSONLedger keeps every record in one JSON array file. Each Append reads
// the whole file, adds the record and rewrites it.
type JSONLedger struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
}

func NewJSONLedger(path string, log *logging.Logger) *JSONLedger {
	return &JSONLedger{
		path: path,
		log:  logging.OrNop(log).WithComponent("ledger"),
	}
}

func (j *JSONLedger) Path() string { return j.path }

func (j *JSONLedger) Append(r TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs, err := j.loadLocked()
	if err != nil {
		return err
	}
	recs = append(recs, r)

	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := writeFileAtomic(j.path, b); err != nil {
		return fmt.Errorf("append trade %s: %w", r.ID, err)
	}
	return nil
}

func (j *JSONLedger) LoadAll() ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.loadLocked()
}

// loadLocked treats a missing or undecodable file as an empty ledger. Only
// I/O errors are returned.
func (j *JSONLedger) loadLocked() ([]TradeRecord, error) {
	b, err := readFile(j.path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return []TradeRecord{}, nil
	}

	var recs []TradeRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		j.log.Warn("ledger unreadable, starting empty",
			logging.String("path", j.path),
			logging.Err(fmt.Errorf("%w: %v", ErrCorrupt, err)))
		return []TradeRecord{}, nil
	}
	return recs, nil
}

func (j *JSONLedger) Close() error { return nil }
