package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rustyeddy/rolling5/market"
	"golang.org/x/sync/errgroup"
)

// HTTPSource fetches the four market resources concurrently.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// WithClient replaces the HTTP client. Used by tests.
func (s *HTTPSource) WithClient(c *http.Client) *HTTPSource {
	s.httpClient = c
	return s
}

func (s *HTTPSource) BaseURL() string { return s.baseURL }

func (s *HTTPSource) Fetch(ctx context.Context) (market.Snapshot, error) {
	var (
		book, book10s market.Book
		vol           market.Volume
		spoof         market.Spoof
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.get(gctx, PathOrderBook, &book) })
	g.Go(func() error { return s.get(gctx, PathOrderBook10s, &book10s) })
	g.Go(func() error { return s.get(gctx, PathVolume, &vol) })
	g.Go(func() error { return s.get(gctx, PathSpoof, &spoof) })
	if err := g.Wait(); err != nil {
		return market.Snapshot{}, err
	}

	return market.NewSnapshot(book, book10s, vol, spoof, s.now()), nil
}

func (s *HTTPSource) get(ctx context.Context, path string, v any) error {
	fail := func(err error) error {
		return &FetchError{Endpoint: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
