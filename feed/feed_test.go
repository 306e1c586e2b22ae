package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var bodies = map[string]string{
	PathOrderBook:    `{"asks":[[101,1],[102,1]],"bids":[["100","1"],["98","2.5"]]}`,
	PathOrderBook10s: `{"asks":[[101.5,3]],"bids":[[99,1]]}`,
	PathVolume:       `{"bull_volume":70,"bear_volume":20}`,
	PathSpoof:        `{"ask_spoof":0.05,"bid_spoof":"0.05"}`,
}

func newServer(t *testing.T, override map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range bodies {
		body := body
		h := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
		if o, ok := override[path]; ok {
			h = o
		}
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceFetch(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil)
	snap, err := NewHTTPSource(srv.URL+"/", time.Second).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Book.Asks, 2)
	assert.True(t, snap.Book.Asks[0].Price.Equal(d("101")))
	assert.True(t, snap.Book.Bids[1].Size.Equal(d("2.5")))
	assert.True(t, snap.Book10s.Asks[0].Price.Equal(d("101.5")))
	assert.True(t, snap.Volume.Bull.Equal(d("70")))
	assert.True(t, snap.Spoof.Bid.Equal(d("0.05")))
	assert.False(t, snap.Time.IsZero())

	mid, ok := snap.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.5")))
}

func TestHTTPSourceAnyFailureIsFetchError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		h    http.HandlerFunc
		msg  string
	}{
		{
			name: "server error",
			path: PathVolume,
			h: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "volume offline", http.StatusBadGateway)
			},
			msg: "status 502",
		},
		{
			name: "malformed payload",
			path: PathSpoof,
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ask_spoof":`))
			},
			msg: "decode response",
		},
		{
			name: "bad level",
			path: PathOrderBook10s,
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"asks":[[]],"bids":[]}`))
			},
			msg: "decode response",
		},
		{
			name: "not found",
			path: PathOrderBook,
			h:    http.NotFound,
			msg:  "status 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, map[string]http.HandlerFunc{tt.path: tt.h})
			snap, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background())
			require.Error(t, err)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.path, fe.Endpoint)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Empty(t, snap.Book.Asks)
		})
	}
}

func TestHTTPSourceTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := newServer(t, map[string]http.HandlerFunc{
		PathOrderBook: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer close(release)

	start := time.Now()
	_, err := NewHTTPSource(srv.URL, 100*time.Millisecond).Fetch(context.Background())
	require.Error(t, err)
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPSourceUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSource(url, time.Second).Fetch(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "execute request")
}

func TestObserve(t *testing.T) {
	t.Parallel()

	var ok, failed int32
	obs := ObserverFunc(func(_ time.Duration, err error) {
		if err != nil {
			atomic.AddInt32(&failed, 1)
			return
		}
		atomic.AddInt32(&ok, 1)
	})

	srv := newServer(t, nil)
	src := Observe(NewHTTPSource(srv.URL, time.Second), obs)
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	bad := Observe(sourceFunc(func(context.Context) (market.Snapshot, error) {
		return market.Snapshot{}, &FetchError{Endpoint: "x", Err: errors.New("boom")}
	}), obs)
	_, err = bad.Fetch(context.Background())
	require.Error(t, err)

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 1, failed)
}

type sourceFunc func(context.Context) (market.Snapshot, error)

func (f sourceFunc) Fetch(ctx context.Context) (market.Snapshot, error) { return f(ctx) }

func wsServer(t *testing.T, reply func(req string) string) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply(string(msg))))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSourceFetch(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	url := wsServer(t, func(req string) string {
		got <- req
		return `{"orderbook":` + bodies[PathOrderBook] +
			`,"ob_10s":` + bodies[PathOrderBook10s] +
			`,"volume":` + bodies[PathVolume] +
			`,"spoof":` + bodies[PathSpoof] + `}`
	})

	snap, err := NewWSSource(url, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FeedRequest, <-got)
	assert.True(t, snap.Book.Asks[1].Price.Equal(d("102")))
	assert.True(t, snap.Volume.Bear.Equal(d("20")))
}

func TestWSSourceBadPayload(t *testing.T) {
	t.Parallel()

	url := wsServer(t, func(string) string { return `{"orderbook":{"asks":"nope"}}` })
	_, err := NewWSSource(url, time.Second).Fetch(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, url, fe.Endpoint)
}

func TestWSSourceDialFailure(t *testing.T) {
	t.Parallel()

	_, err := NewWSSource("ws://127.0.0.1:1/ws", 200*time.Millisecond).Fetch(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "dial")
}
