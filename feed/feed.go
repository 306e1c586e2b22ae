// Package feed reads market snapshots from the market-data service.
//
// A fetch either returns a complete snapshot or a *FetchError. Partial reads
// are dropped and nothing here retries; the cycle driver owns that policy.
package feed

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rustyeddy/rolling5/market"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Endpoint paths on the market-data service.
const (
	PathOrderBook    = "/orderbook"
	PathOrderBook10s = "/orderbook10s"
	PathVolume       = "/volume_feed"
	PathSpoof        = "/spoof_tracker"
)

// FeedRequest is the message the websocket feed expects before it answers
// with one snapshot document.
const FeedRequest = "BOT_FEED_REQUEST"

const DefaultTimeout = 15 * time.Second

type Source interface {
	Fetch(ctx context.Context) (market.Snapshot, error)
}

// FetchError reports which read failed. Any FetchError means the whole
// snapshot is unusable.
type FetchError struct {
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Observer receives the outcome of every fetch.
type Observer interface {
	ObserveFetch(latency time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(time.Duration, error)

func (f ObserverFunc) ObserveFetch(d time.Duration, err error) { f(d, err) }

type observed struct {
	src Source
	obs []Observer
	now func() time.Time
}

// Observe wraps src so each fetch is reported to every observer.
func Observe(src Source, obs ...Observer) Source {
	return &observed{src: src, obs: obs, now: time.Now}
}

func (o *observed) Fetch(ctx context.Context) (market.Snapshot, error) {
	start := o.now()
	snap, err := o.src.Fetch(ctx)
	lat := o.now().Sub(start)
	for _, ob := range o.obs {
		ob.ObserveFetch(lat, err)
	}
	return snap, err
}
