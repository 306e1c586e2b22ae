package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/rolling5/market"
)

// WSSource asks a websocket feed for one snapshot per fetch. A new
// connection is dialled each time.
type WSSource struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	now     func() time.Time
}

func NewWSSource(url string, timeout time.Duration) *WSSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WSSource{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		now:     time.Now,
	}
}

func (s *WSSource) Fetch(ctx context.Context) (market.Snapshot, error) {
	fail := func(err error) (market.Snapshot, error) {
		return market.Snapshot{}, &FetchError{Endpoint: s.url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fail(fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(FeedRequest)); err != nil {
		return fail(fmt.Errorf("send request: %w", err))
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}

	var snap market.Snapshot
	if err := json.Unmarshal(msg, &snap); err != nil {
		return fail(fmt.Errorf("decode snapshot: %w", err))
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return market.NewSnapshot(snap.Book, snap.Book10s, snap.Volume, snap.Spoof, s.now()), nil
}
