// Package api serves the operator HTTP surface: health, metrics, commands and
// a websocket stream of cycle events.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rustyeddy/rolling5/control"
	"github.com/rustyeddy/rolling5/health"
	"github.com/rustyeddy/rolling5/logging"
	"github.com/rustyeddy/rolling5/metrics"
	"github.com/rustyeddy/rolling5/runner"
	"github.com/rustyeddy/rolling5/sim"
)

const (
	maxCommandBody  = 4 << 10
	shutdownTimeout = 5 * time.Second
)

// Deps are the components behind the routes. Metrics, Health and Heartbeat
// may be nil.
type Deps struct {
	Router    *control.Router
	Runner    *runner.Runner
	Health    *health.Tracker
	Heartbeat *health.Heartbeat
	Metrics   *metrics.Metrics
	Hub       *Hub
}

type Server struct {
	deps Deps
	log  *logging.Logger
	mux  *mux.Router
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status    string         `json:"status"`
	Feed      *health.Report `json:"feed,omitempty"`
	Heartbeat *health.Beat   `json:"heartbeat,omitempty"`
	Engine    sim.Status     `json:"engine"`
	Paused    bool           `json:"paused"`
	DryRun    bool           `json:"dry_run"`
	Manual    bool           `json:"manual"`
	Clients   int            `json:"clients"`
}

type CommandRequest struct {
	Caller string `json:"caller"`
	Text   string `json:"text"`
}

type CommandResponse struct {
	Reply string `json:"reply"`
}

func NewServer(deps Deps, log *logging.Logger) *Server {
	s := &Server{
		deps: deps,
		log:  logging.OrNop(log).WithComponent("api"),
		mux:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(requestID, recovery(s.log), accessLog(s.log))

	s.mux.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.deps.Hub != nil {
		s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			serveWS(s.deps.Hub, w, r)
		}).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", logging.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: health.StatusOK,
		Engine: s.deps.Runner.Engine().Status(),
		Paused: s.deps.Runner.Paused(),
		DryRun: s.deps.Runner.DryRun(),
		Manual: s.deps.Runner.Manual(),
	}
	if s.deps.Health != nil {
		rep := s.deps.Health.Report()
		resp.Feed = &rep
		resp.Status = rep.Status
	}
	if s.deps.Heartbeat != nil {
		beat := s.deps.Heartbeat.Status()
		resp.Heartbeat = &beat
	}
	if s.deps.Hub != nil {
		resp.Clients = s.deps.Hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req CommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid command body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" || req.Text == "" {
		http.Error(w, "caller and text are required", http.StatusBadRequest)
		return
	}

	reply := s.deps.Router.Handle(r.Context(), req.Caller, req.Text)
	s.writeJSON(w, http.StatusOK, CommandResponse{Reply: reply})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response not written", logging.Err(err))
	}
}
