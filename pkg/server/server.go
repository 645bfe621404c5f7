// Package server exposes the latest reading, database queries and the live
// feed over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/NotCoffee418/sml_power_meter/pkg/metrics"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const maxQueryBytes = 64 << 10

const helpText = `Service is running.

GET /now - get the latest meter reading
GET /api/now - get the latest meter reading as JSON
POST /api/query - query the database with readonly SQLite statements
GET /ws - live feed of meter readings as JSON
GET /metrics - Prometheus metrics
`

type LatestSource interface {
	Get() (types.MeterReading, bool)
}

type Querier interface {
	ReadonlyQuery(ctx context.Context, statement string) (*meterdb.QueryResult, error)
}

type Server struct {
	latest LatestSource
	query  Querier
	feed   http.Handler
	log    *logrus.Entry
}

// New returns a server. query and feed may be nil; their routes then answer
// 503 Service Unavailable.
func New(latest LatestSource, query Querier, feed http.Handler) *Server {
	return &Server{
		latest: latest,
		query:  query,
		feed:   feed,
		log:    logrus.WithField("component", "server"),
	}
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(metrics.HTTPMiddleware(routePattern))

	router.Get("/", s.handleRoot)
	router.Get("/now", s.handleNow)
	router.Get("/api/now", s.handleAPINow)
	router.Post("/api/query", s.handleQuery)
	router.Get("/ws", s.handleFeed)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	return router
}

// routePattern keeps unmatched paths out of the metric labels.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Now listening for HTTP requests on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, helpText)
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest.Get()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	io.WriteString(w, reading.String())
}

func (s *Server) handleAPINow(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest.Get()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	json.NewEncoder(w).Encode(reading)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("database not available"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxQueryBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	statement := strings.TrimSpace(string(body))
	if statement == "" {
		writeError(w, http.StatusBadRequest, errors.New("empty query"))
		return
	}

	result, err := s.query.ReadonlyQuery(r.Context(), statement)
	if err != nil {
		s.log.WithError(err).Debug("query failed")
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, "live feed not available", http.StatusServiceUnavailable)
		return
	}
	s.feed.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
