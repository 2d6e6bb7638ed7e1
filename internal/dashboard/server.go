package dashboard

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
)

//go:embed static/index.html
var static embed.FS

const (
	topLimit        = 10
	defaultLimit    = 50
	defaultRefresh  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the read-only market dashboard.
type Server struct {
	store   Store
	hub     *Hub
	router  *mux.Router
	addr    string
	refresh time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRefresh sets how often connected WebSocket clients receive a fresh summary.
func WithRefresh(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer wires routes over store.
func NewServer(store Store, addr string, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		store:   store,
		hub:     NewHub(log),
		router:  mux.NewRouter(),
		addr:    addr,
		refresh: defaultRefresh,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.logRequests, cors)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/top-yield", s.handleTopYield).Methods(http.MethodGet)
	api.HandleFunc("/undervalued", s.handleUndervalued).Methods(http.MethodGet)
	api.HandleFunc("/high-liquidity", s.handleHighLiquidity).Methods(http.MethodGet)
	api.HandleFunc("/signals", s.handleSignals).Methods(http.MethodGet)
	api.HandleFunc("/premium-distribution", s.handleDistribution).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/songs", s.handleSongs).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, pushing a summary to WebSocket clients on every refresh tick.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return ctx.Err()
		case err, ok := <-errCh:
			if ok {
				return err
			}
			return nil
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh broadcasts the current summary to WebSocket clients.
func (s *Server) Refresh(ctx context.Context) {
	if s.hub.Clients() == 0 {
		return
	}
	snap, err := s.store.Latest(ctx)
	if err != nil {
		return
	}
	if err := s.hub.Broadcast(s.summary(snap)); err != nil {
		s.log.Warn().Err(err).Msg("summary broadcast failed")
	}
}

type summaryResponse struct {
	market.Summary
	Timestamp time.Time `json:"timestamp"`
	DataCount int       `json:"data_count"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (s *Server) summary(snap Snapshot) summaryResponse {
	return summaryResponse{
		Summary:   market.Summarize(snap.Orders),
		Timestamp: s.now(),
		DataCount: len(snap.Orders),
		Source:    snap.Source,
		UpdatedAt: snap.At,
	}
}

// snapshot loads the latest data or writes the error response and returns false.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (Snapshot, bool) {
	snap, err := s.store.Latest(r.Context())
	if errors.Is(err, ErrNoData) || (err == nil && len(snap.Orders) == 0) {
		s.writeError(w, http.StatusNotFound, ErrNoData.Error())
		return Snapshot{}, false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load data")
		return Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, s.summary(snap))
	}
}

func buyOrders(orders []market.EnrichedOrder) []market.EnrichedOrder {
	return market.FilterBuy.Apply(orders)
}

func (s *Server) handleTopYield(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(market.TopBy(buyOrders(snap.Orders), market.ByYield, topLimit, false)))
	}
}

func (s *Server) handleUndervalued(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(market.TopBy(buyOrders(snap.Orders), market.BySpread, topLimit, true)))
	}
}

func (s *Server) handleHighLiquidity(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(market.TopBy(snap.Orders, market.ByLiquidity, topLimit, false)))
	}
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, market.SignalShares(snap.Orders))
	}
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, market.SpreadDistribution(snap.Orders))
	}
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshot(w, r); ok {
		s.writeJSON(w, http.StatusOK, market.SongStats(snap.Orders))
	}
}

// handleOrders serves /api/orders?filter=&sort=&order=asc|desc&limit=.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := market.ParseFilter(q.Get("filter"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var key market.SortKey
	if raw := q.Get("sort"); raw != "" {
		if key, err = market.ParseSortKey(raw); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ascending := strings.EqualFold(q.Get("order"), "asc")

	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	orders := filter.Apply(snap.Orders)
	if key != "" {
		orders = market.TopBy(orders, key, limit, ascending)
	} else if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	s.writeJSON(w, http.StatusOK, nonNil(orders))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "timestamp": s.now(), "clients": s.hub.Clients()}
	if snap, err := s.store.Latest(r.Context()); err == nil {
		status["orders"] = len(snap.Orders)
		status["updated_at"] = snap.At
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var initial any
	if snap, err := s.store.Latest(r.Context()); err == nil {
		initial = s.summary(snap)
	}
	s.hub.Serve(w, r, initial)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "index missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg, "timestamp": s.now()})
}

func nonNil(orders []market.EnrichedOrder) []market.EnrichedOrder {
	if orders == nil {
		return []market.EnrichedOrder{}
	}
	return orders
}

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		id, _ := r.Context().Value(ctxKey{}).(string)
		s.log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
