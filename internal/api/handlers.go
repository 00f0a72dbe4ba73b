package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/ingest"
	"github.com/leighmcculloch/stellar-events-api/internal/metrics"
	"github.com/leighmcculloch/stellar-events-api/internal/store"
)

// Server wires the event store and ingestion controller to the HTTP
// surface described by the external interface contract.
type Server struct {
	store          *store.Store
	ctrl           *ingest.Controller
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	logger         *zap.Logger
	startedAt      time.Time
}

// NewServer builds a Server. metricsHandler is typically metrics.Handler
// bound to the same registry m was built against.
func NewServer(st *store.Store, ctrl *ingest.Controller, m *metrics.Metrics, metricsHandler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		store:          st,
		ctrl:           ctrl,
		metrics:        m,
		metricsHandler: metricsHandler,
		logger:         logger,
		startedAt:      time.Now(),
	}
}

// Handler returns the top-level mux. The event routes are reachable both
// unprefixed and under /v1; health is served at /health and its /v1/status
// alias, and metrics only at /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleListEvents)
	mux.HandleFunc("/events/", s.handleGetEvent)
	mux.HandleFunc("/v1/events", s.handleListEvents)
	mux.HandleFunc("/v1/events/", s.handleGetEvent)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)
	return mux
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	status := http.StatusOK
	defer func() {
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		s.metrics.RequestsTotal.WithLabelValues("/events", strconv.Itoa(status)).Inc()
	}()

	params, aerr := parseListParams(r)
	if aerr != nil {
		status = aerr.Status
		writeError(w, aerr)
		return
	}

	// The continuation query key matches the direction this request is
	// already paging in: a before-paginated (ascending) request continues
	// with another before, an after-paginated (or default descending)
	// request continues with another after.
	dirLabel := "after"
	if params.Direction == store.After {
		dirLabel = "before"
	}

	qp := store.QueryParams{
		Filters:     params.Filters,
		StartLedger: params.Ledger,
		StartCursor: params.Cursor,
		Direction:   params.Direction,
		Limit:       params.Limit,
	}

	result, err := s.store.Query(r.Context(), qp, s.backfillFunc())
	if err != nil {
		aerr := mapError(err, "ledger")
		status = aerr.Status
		if status >= http.StatusInternalServerError {
			s.logger.Error("list events query failed", zap.Error(err))
		}
		writeError(w, aerr)
		return
	}

	events := make([]eventResponse, 0, len(result.Events))
	for _, e := range result.Events {
		events = append(events, toEventResponse(e))
	}

	resp := listResponse{
		Object:  "list",
		URL:     r.URL.Path,
		HasMore: result.HasMore,
		Data:    events,
	}
	if result.HasMore {
		resp.Next = buildNextURL(r, result.NextCursor, dirLabel)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	defer func() {
		s.metrics.RequestsTotal.WithLabelValues("/events/{id}", strconv.Itoa(status)).Inc()
	}()

	id := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	id = strings.TrimPrefix(id, "/events/")

	tuple, err := cursor.Decode(id)
	if err != nil {
		aerr := newAPIError(http.StatusBadRequest, "invalid_cursor", "id", err.Error())
		status = aerr.Status
		writeError(w, aerr)
		return
	}

	// A point lookup never triggers on-demand backfill: an expired or
	// never-ingested partition simply reports not_found.
	p, ok := s.store.Get(tuple.Ledger)
	if !ok {
		aerr := newAPIError(http.StatusNotFound, "not_found", "id", "event not found")
		status = aerr.Status
		writeError(w, aerr)
		return
	}

	for _, e := range p.Events {
		if e.Tuple == tuple {
			writeJSON(w, status, toEventResponse(e))
			return
		}
	}

	aerr := newAPIError(http.StatusNotFound, "not_found", "id", "event not found")
	status = aerr.Status
	writeError(w, aerr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:            "ok",
		PartitionsCached:  s.store.Count(),
		PartitionsExpired: s.store.PartitionsExpired(),
	}
	if latest, ok := s.store.Latest(); ok {
		resp.LatestIngested = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// backfillFunc adapts the controller's BackfillIfNeeded to the
// store.BackfillFunc signature, isolating the store package from importing
// ingest directly.
func (s *Server) backfillFunc() store.BackfillFunc {
	if s.ctrl == nil {
		return nil
	}
	return s.ctrl.BackfillIfNeeded
}
