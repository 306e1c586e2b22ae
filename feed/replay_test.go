package feed

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/rolling5/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var replayT0 = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

func snapAt(i int, mid string) market.Snapshot {
	book := market.Book{
		Asks: []market.Level{{Price: d(mid).Add(d("0.5")), Size: d("1")}},
		Bids: []market.Level{{Price: d(mid).Sub(d("0.5")), Size: d("2")}},
	}
	return market.NewSnapshot(book, book,
		market.Volume{Bull: d("70"), Bear: d("20")},
		market.Spoof{Ask: d("0.05"), Bid: d("0.05")},
		replayT0.Add(time.Duration(i)*time.Minute))
}

// recordFile records n snapshots plus one failed fetch into a temp file.
func recordFile(t *testing.T, n int) string {
	t.Helper()
	i := 0
	src := sourceFunc(func(context.Context) (market.Snapshot, error) {
		defer func() { i++ }()
		if i == 1 {
			return market.Snapshot{}, &FetchError{Endpoint: PathVolume, Err: errors.New("boom")}
		}
		return snapAt(i, "100"), nil
	})

	var buf bytes.Buffer
	rec := Record(src, &buf)
	for k := 0; k < n+1; k++ {
		_, _ = rec.Fetch(context.Background())
	}

	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRecordThenReplay(t *testing.T) {
	path := recordFile(t, 3)

	src, err := OpenReplay(path, time.Time{}, time.Time{})
	require.NoError(t, err)
	defer src.Close()

	var times []time.Time
	for {
		snap, err := src.Fetch(context.Background())
		if errors.Is(err, ErrReplayDone) {
			break
		}
		require.NoError(t, err)
		mid, ok := snap.Mid()
		require.True(t, ok)
		assert.True(t, mid.Equal(d("100")), "mid %s", mid)
		assert.Equal(t, snap.Time, src.Now())
		times = append(times, snap.Time)
	}

	// the failed fetch at i=1 was not recorded
	require.Len(t, times, 3)
	assert.True(t, times[0].Equal(replayT0))
	assert.True(t, times[1].Equal(replayT0.Add(2*time.Minute)))
	assert.True(t, times[2].Equal(replayT0.Add(3*time.Minute)))

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrReplayDone)
}

func TestReplayWindow(t *testing.T) {
	path := recordFile(t, 5)

	src, err := OpenReplay(path, replayT0.Add(2*time.Minute), replayT0.Add(4*time.Minute))
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Time.Equal(replayT0.Add(2*time.Minute)))

	second, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Time.Equal(replayT0.Add(3*time.Minute)))

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrReplayDone)
}

func TestReplayBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("\n{not json}\n"), 0o644))

	src, err := OpenReplay(path, time.Time{}, time.Time{})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Fetch(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "line 2")
}

func TestOpenReplayMissingFile(t *testing.T) {
	_, err := OpenReplay(filepath.Join(t.TempDir(), "none.jsonl"), time.Time{}, time.Time{})
	assert.Error(t, err)
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestRecordStopsOnWriteError(t *testing.T) {
	src := sourceFunc(func(context.Context) (market.Snapshot, error) { return snapAt(0, "100"), nil })
	w := &failWriter{}
	rec := Record(src, w)

	for i := 0; i < 3; i++ {
		_, err := rec.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, w.n)
}
