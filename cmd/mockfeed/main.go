// Command mockfeed serves a synthetic market-data service: the four snapshot
// endpoints plus the websocket snapshot feed, driven by a random walk.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rustyeddy/rolling5/feed"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	addr  string
	seed  int64
	start float64
	fail  float64
)

var rootCmd = &cobra.Command{
	Use:   "mockfeed",
	Short: "Serve a synthetic order book feed for local runs",
	Long: `mockfeed answers /orderbook, /orderbook10s, /volume_feed and
/spoof_tracker with a random-walk market, and /ws with one snapshot per
BOT_FEED_REQUEST message.

Example:
  mockfeed --addr :8090 --seed 7`,
	SilenceUsage: true,
	RunE:         serve,
}

func main() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	rootCmd.Flags().Float64Var(&start, "price", 100, "starting mid price")
	rootCmd.Flags().Float64Var(&fail, "fail-rate", 0, "fraction of requests answered with 503")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	log := logging.New(logging.Config{Level: "info", Format: "text"})
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := newMarket(seed, decimal.NewFromFloat(start))
	m.failRate = fail

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(m, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("mock feed listening", logging.String("addr", addr), logging.Any("seed", seed))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// synthMarket is a random walk around a mid price. Every read advances it.
type synthMarket struct {
	mu       sync.Mutex
	rng      *rand.Rand
	mid      decimal.Decimal
	failRate float64
}

func newMarket(seed int64, mid decimal.Decimal) *synthMarket {
	return &synthMarket{rng: rand.New(rand.NewSource(seed)), mid: mid}
}

func (m *synthMarket) fails() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failRate > 0 && m.rng.Float64() < m.failRate
}

// cents returns a random value in [lo, hi) rounded to 0.01.
func (m *synthMarket) cents(lo, hi float64) decimal.Decimal {
	return decimal.NewFromFloat(lo + m.rng.Float64()*(hi-lo)).Round(2)
}

func (m *synthMarket) book(depth int) market.Book {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mid = m.mid.Add(m.cents(-0.5, 0.5))
	half := m.cents(0.05, 0.5)

	var b market.Book
	ask, bid := m.mid.Add(half), m.mid.Sub(half)
	for i := 0; i < depth; i++ {
		b.Asks = append(b.Asks, market.Level{Price: ask, Size: m.cents(0.1, 5)})
		b.Bids = append(b.Bids, market.Level{Price: bid, Size: m.cents(0.1, 5)})
		ask = ask.Add(m.cents(0.05, 1.2))
		bid = bid.Sub(m.cents(0.05, 1.2))
	}
	return b
}

func (m *synthMarket) volume() market.Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	return market.Volume{Bull: m.cents(0, 100), Bear: m.cents(0, 100)}
}

func (m *synthMarket) spoof() market.Spoof {
	m.mu.Lock()
	defer m.mu.Unlock()
	return market.Spoof{Ask: m.cents(0, 0.3), Bid: m.cents(0, 0.3)}
}

func (m *synthMarket) snapshot() market.Snapshot {
	return market.NewSnapshot(m.book(5), m.book(5), m.volume(), m.spoof(), time.Now().UTC())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newRouter(m *synthMarket, log *logging.Logger) http.Handler {
	r := mux.NewRouter()

	serveJSON := func(produce func() any) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			if m.fails() {
				http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(produce()); err != nil {
				log.Warn("encode response", logging.Err(err))
			}
		}
	}

	r.HandleFunc(feed.PathOrderBook, serveJSON(func() any { return m.book(5) })).Methods(http.MethodGet)
	r.HandleFunc(feed.PathOrderBook10s, serveJSON(func() any { return m.book(5) })).Methods(http.MethodGet)
	r.HandleFunc(feed.PathVolume, serveJSON(func() any { return m.volume() })).Methods(http.MethodGet)
	r.HandleFunc(feed.PathSpoof, serveJSON(func() any { return m.spoof() })).Methods(http.MethodGet)
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		serveSnapshots(m, log, w, req)
	})
	return r
}

// serveSnapshots answers every feed request on the socket with one snapshot.
func serveSnapshots(m *synthMarket, log *logging.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade", logging.Err(err))
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) != feed.FeedRequest {
			continue
		}
		b, err := json.Marshal(m.snapshot())
		if err != nil {
			log.Warn("encode snapshot", logging.Err(err))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
