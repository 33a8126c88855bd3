// Package httpui is the thin HTTP surface: a greeting at /, a single
// endpoint to set a max bid, and the health/metrics endpoints mounted
// alongside it.
package httpui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/health"
	"github.com/dpc/sniper/internal/persistence"
)

// Server wires the router; ServeHTTP delegates to it so Server can be
// handed straight to http.Server.
type Server struct {
	router      chi.Router
	persistence persistence.Persistence
	writer      eventlog.Writer
	logger      *slog.Logger
}

// New builds the router. health is optional; when non-nil its liveness and
// readiness handlers are mounted at /healthz and /readyz.
func New(p persistence.Persistence, writer eventlog.Writer, h *health.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{router: chi.NewRouter(), persistence: p, writer: writer, logger: logger}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/", s.handleIndex)
	s.router.Post("/bid/", s.handleSetMaxBid)
	s.router.Handle("/metrics", promhttp.Handler())
	if h != nil {
		s.router.Get("/healthz", h.LivenessHandler())
		s.router.Get("/readyz", h.ReadinessHandler())
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Hello, World!")
}

type setMaxBidRequest struct {
	Item  eventlog.ItemId `json:"item"`
	Price eventlog.Amount `json:"price"`
}

func (s *Server) handleSetMaxBid(w http.ResponseWriter, r *http.Request) {
	var req setMaxBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, fmt.Errorf("decoding request body: %w", err))
		return
	}

	ctx := r.Context()
	conn, err := s.persistence.GetConnection(ctx)
	if err != nil {
		s.fail(w, fmt.Errorf("opening connection: %w", err))
		return
	}
	defer conn.Close()

	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		s.fail(w, fmt.Errorf("starting transaction: %w", err))
		return
	}

	event := eventlog.UiEvent{Inner: eventlog.UiMaxBidSet{Bid: eventlog.ItemBid{Item: req.Item, Price: req.Price}}}
	if _, err := s.writer.Write(ctx, tx, []eventlog.Event{event}); err != nil {
		_ = tx.Rollback(ctx)
		s.fail(w, fmt.Errorf("appending max bid event: %w", err))
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.fail(w, fmt.Errorf("committing max bid event: %w", err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", slog.Any("error", err))
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Something went wrong: %s", err.Error())
}
