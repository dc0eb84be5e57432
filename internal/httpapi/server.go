// Package httpapi serves the leaderboard read from the ledger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reactally/internal/model"
	"reactally/internal/rank"
	"reactally/internal/util"
)

// Ledger is the read side of the reaction store.
type Ledger interface {
	Totals(ctx context.Context, reaction string) ([]model.UserTotal, error)
	MostRecentDate(ctx context.Context, reaction string) (time.Time, bool, error)
}

// Defaults apply when a request omits a parameter.
type Defaults struct {
	Marker     string
	Limit      int
	Descending bool
}

type Server struct {
	ledger   Ledger
	names    rank.NameResolver
	defaults Defaults
	log      zerolog.Logger
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func NewServer(ledger Ledger, names rank.NameResolver, defaults Defaults, opts ...Option) *Server {
	s := &Server{ledger: ledger, names: names, defaults: defaults, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type leaderboardResponse struct {
	Marker   string             `json:"marker"`
	LastSeen string             `json:"lastSeen,omitempty"`
	Entries  []model.RankedUser `json:"entries"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Get("/leaderboard", s.handleLeaderboard)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("http server started")
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	marker := util.NormalizeMarker(q.Get("marker"))
	if marker == "" {
		marker = s.defaults.Marker
	}
	limit := s.defaults.Limit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	descending := s.defaults.Descending
	switch q.Get("order") {
	case "":
	case "desc":
		descending = true
	case "asc":
		descending = false
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "order must be asc or desc")
		return
	}

	ctx := r.Context()
	totals, err := s.ledger.Totals(ctx, marker)
	if err != nil {
		s.log.Error().Err(err).Str("reaction", marker).Msg("leaderboard totals failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "ledger unavailable")
		return
	}
	last, ok, err := s.ledger.MostRecentDate(ctx, marker)
	if err != nil {
		s.log.Error().Err(err).Str("reaction", marker).Msg("leaderboard freshness failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "ledger unavailable")
		return
	}
	resp := leaderboardResponse{
		Marker:  marker,
		Entries: rank.Leaderboard(ctx, s.names, totals, limit, descending, s.log),
	}
	if ok {
		resp.LastSeen = last.Format(model.DateLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
