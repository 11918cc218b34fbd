// Package api exposes the risk engine over HTTP. All endpoints are read-only;
// caller-supplied parameters are clamped server-side before any query runs.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shielded-risk/internal/config"
	"shielded-risk/internal/correlate"
	"shielded-risk/internal/ledger"
	"shielded-risk/internal/observability"
	"shielded-risk/internal/storage"
)

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller wires the correlator and pattern store to HTTP routes.
type Controller struct {
	correlator *correlate.Correlator
	store      storage.PatternStore
	pinger     Pinger // nil means always healthy
	cfg        config.APIConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewController returns a new controller. pinger and metrics may be nil.
func NewController(correlator *correlate.Correlator, store storage.PatternStore, pinger Pinger, cfg config.APIConfig, logger *zap.Logger, metrics *observability.Metrics) *Controller {
	return &Controller{
		correlator: correlator,
		store:      store,
		pinger:     pinger,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// NewRouter returns the router with all risk endpoints.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.HandleHealth).Methods("GET")

	api := r.PathPrefix("/api/risk").Subrouter()
	api.HandleFunc("/risky-round-trips", c.instrument("risky-round-trips", c.HandleRiskyRoundTrips)).Methods("GET")
	api.HandleFunc("/linkability", c.instrument("linkability", c.HandleLinkability)).Methods("GET")
	api.HandleFunc("/batch-patterns", c.instrument("batch-patterns", c.HandleBatchPatterns)).Methods("GET")

	return r
}

// statusRecorder captures the written status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *Controller) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		started := time.Now()
		next(rec, r)
		if c.metrics != nil {
			c.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			c.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
		}
	}
}

// HandleHealth reports process and backend liveness.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if c.pinger != nil {
		if err := c.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "errored",
				"error":  "database connection error",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueryError maps backend failures onto the API error taxonomy.
func (c *Controller) handleQueryError(w http.ResponseWriter, route string, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		c.logger.Error("ledger unavailable", zap.String("route", route), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable, try again later")
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		c.logger.Error("query failed", zap.String("route", route), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}
