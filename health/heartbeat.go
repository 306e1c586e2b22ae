package health

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultPulse = 15 * time.Second
	latencyLog   = 20
)

// Heartbeat pulses on an interval and keeps the gaps between the last 20
// pulses.
type Heartbeat struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	last      time.Time
	latencies []time.Duration
}

func NewHeartbeat(interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultPulse
	}
	return &Heartbeat{interval: interval, now: time.Now, last: time.Now()}
}

// Run pulses until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	tk := time.NewTicker(h.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			h.Pulse()
		}
	}
}

func (h *Heartbeat) Pulse() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.latencies = append(h.latencies, now.Sub(h.last))
	if len(h.latencies) > latencyLog {
		h.latencies = h.latencies[len(h.latencies)-latencyLog:]
	}
	h.last = now
}

type Beat struct {
	LastPing    float64 `json:"last_ping"`
	AveragePing float64 `json:"average_ping"`
}

// Status reports seconds since the last pulse and the mean pulse gap.
func (h *Heartbeat) Status() Beat {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := Beat{LastPing: round4(h.now().Sub(h.last).Seconds())}
	if len(h.latencies) > 0 {
		var sum time.Duration
		for _, l := range h.latencies {
			sum += l
		}
		b.AveragePing = round4((sum / time.Duration(len(h.latencies))).Seconds())
	}
	return b
}

func (h *Heartbeat) Latencies() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.latencies...)
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}
