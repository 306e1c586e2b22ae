package api

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/runner"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBuffer = 256

// Hub fans cycle events out to every connected websocket client. It
// implements runner.Notifier.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	log        *logging.Logger

	mu sync.RWMutex
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        logging.OrNop(log).WithComponent("hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", logging.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", logging.Int("clients", n))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	slow := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			slow++
		}
	}
	if slow > 0 {
		h.log.Warn("dropped slow clients",
			logging.Int("dropped", slow), logging.Int("clients", len(h.clients)))
	}
}

// Publish queues ev for broadcast. It never blocks the cycle; events are
// dropped when the queue is full.
func (h *Hub) Publish(ev runner.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event not encoded", logging.String("type", ev.Type), logging.Err(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.log.Warn("event dropped, hub busy", logging.String("type", ev.Type))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
