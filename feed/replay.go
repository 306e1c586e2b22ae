package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rustyeddy/rolling5/market"
)

// ErrReplayDone is returned by ReplaySource once every snapshot was served.
var ErrReplayDone = errors.New("feed: replay exhausted")

const maxReplayLine = 4 << 20

// ReplaySource serves recorded snapshots, one per Fetch, in file order. The
// file holds one JSON snapshot per line, as written by Record. Snapshot times
// are kept so the evaluator sees the recorded clock.
//
// Snapshots outside [from, to) are skipped; a zero bound is open.
type ReplaySource struct {
	mu   sync.Mutex
	f    *os.File
	sc   *bufio.Scanner
	from time.Time
	to   time.Time
	last time.Time
	n    int
}

func OpenReplay(path string, from, to time.Time) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxReplayLine)
	return &ReplaySource{f: f, sc: sc, from: from, to: to}, nil
}

func (s *ReplaySource) Fetch(ctx context.Context) (market.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return market.Snapshot{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return market.Snapshot{}, &FetchError{Endpoint: s.f.Name(), Err: err}
			}
			return market.Snapshot{}, ErrReplayDone
		}
		s.n++
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var snap market.Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			return market.Snapshot{}, &FetchError{Endpoint: s.f.Name(), Err: fmt.Errorf("decode line %d: %w", s.n, err)}
		}
		if !inRange(snap.Time, s.from, s.to) {
			continue
		}
		s.last = snap.Time
		return market.NewSnapshot(snap.Book, snap.Book10s, snap.Volume, snap.Spoof, snap.Time), nil
	}
}

// Now is the time of the last snapshot served. It is the replay clock.
func (s *ReplaySource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ReplaySource) Close() error { return s.f.Close() }

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

type recorder struct {
	src Source
	mu  sync.Mutex
	w   io.Writer
	err error
}

// Record wraps src so every successful snapshot is also appended to w as one
// JSON line. A write failure stops recording but never fails the fetch.
func Record(src Source, w io.Writer) Source {
	return &recorder{src: src, w: w}
}

func (r *recorder) Fetch(ctx context.Context) (market.Snapshot, error) {
	snap, err := r.src.Fetch(ctx)
	if err != nil {
		return snap, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		b, merr := json.Marshal(snap)
		if merr == nil {
			b = append(b, '\n')
			_, merr = r.w.Write(b)
		}
		r.err = merr
	}
	return snap, nil
}
