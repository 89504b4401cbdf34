// Package server exposes a [featstore.Store] over HTTP.
//
// Routes:
//
//	GET /features?ref=&start=&end=&limit=  NDJSON, one feature per line
//	GET /refs                              reference list
//	GET /refs/{name}                       reference membership
//	GET /stats                             global and cache statistics
//	GET /metrics                           Prometheus exposition
//	GET /healthz                           200 once feature queries can run
//
// Errors are JSON objects {"error": "..."} with a status derived from the
// store's sentinel errors.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/readiness"
)

const shutdownTimeout = 5 * time.Second

// Server serves one store.
type Server struct {
	store    *featstore.Store
	logger   *slog.Logger
	registry *prometheus.Registry
	mux      *http.ServeMux
}

// New registers the store's collector and the process collectors on a fresh
// registry and builds the routes. A nil logger discards.
func New(store *featstore.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry := prometheus.NewRegistry()

	for _, c := range []prometheus.Collector{
		store.Collector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	s := &Server{store: store, logger: logger, registry: registry, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /features", s.handleFeatures)
	s.mux.HandleFunc("GET /refs", s.handleRefs)
	s.mux.HandleFunc("GET /refs/{name}", s.handleRef)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return s, nil
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info("serving", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleFeatures(w http.ResponseWriter, req *http.Request) {
	q, limit, err := parseFeatureQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	// Collected before writing so that a failure still gets its own status.
	features, err := s.store.Collect(req.Context(), q)
	if err != nil {
		s.fail(w, req, err)

		return
	}

	if limit > 0 && len(features) > limit {
		features = features[:limit]
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Feature-Count", strconv.Itoa(len(features)))

	enc := json.NewEncoder(w)

	for i := range features {
		if err := enc.Encode(&features[i]); err != nil {
			s.logger.Debug("write features", "err", err)

			return
		}
	}
}

func parseFeatureQuery(req *http.Request) (featstore.Query, int, error) {
	values := req.URL.Query()

	q := featstore.Query{Ref: values.Get("ref")}
	if q.Ref == "" {
		return featstore.Query{}, 0, errors.New("missing ref")
	}

	var err error

	q.Start, err = strconv.ParseInt(values.Get("start"), 10, 64)
	if err != nil {
		return featstore.Query{}, 0, fmt.Errorf("start: %w", err)
	}

	q.End, err = strconv.ParseInt(values.Get("end"), 10, 64)
	if err != nil {
		return featstore.Query{}, 0, fmt.Errorf("end: %w", err)
	}

	limit := 0

	if raw := values.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return featstore.Query{}, 0, fmt.Errorf("limit: invalid value %q", raw)
		}
	}

	return q, limit, nil
}

func (s *Server) handleRefs(w http.ResponseWriter, req *http.Request) {
	refs, err := s.store.References(req.Context())
	if err != nil {
		s.fail(w, req, err)

		return
	}

	if refs == nil {
		refs = []feature.Reference{}
	}

	writeJSON(w, http.StatusOK, refs)
}

type refResponse struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

func (s *Server) handleRef(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")

	exists, err := s.store.HasReference(req.Context(), name)
	if err != nil {
		s.fail(w, req, err)

		return
	}

	writeJSON(w, http.StatusOK, refResponse{Name: name, Exists: exists})
}

type cacheResponse struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Joins      uint64 `json:"joins"`
	FillErrors uint64 `json:"fill_errors"`
	Evictions  uint64 `json:"evictions"`
	InFlight   int    `json:"in_flight"`
	Entries    int    `json:"entries"`
	Size       int    `json:"size"`
	MaxSize    int    `json:"max_size"`
}

type statsResponse struct {
	State string          `json:"state"`
	Stats featstore.Stats `json:"stats"`
	Cache cacheResponse   `json:"cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := s.store.GlobalStats(req.Context())
	if err != nil {
		s.fail(w, req, err)

		return
	}

	cs := s.store.CacheStats()

	writeJSON(w, http.StatusOK, statsResponse{
		State: s.store.State().String(),
		Stats: stats,
		Cache: cacheResponse{
			Hits:       cs.Hits,
			Misses:     cs.Misses,
			Joins:      cs.Joins,
			FillErrors: cs.FillErrors,
			Evictions:  cs.Evictions,
			InFlight:   cs.InFlight,
			Entries:    cs.Entries,
			Size:       cs.Size,
			MaxSize:    cs.MaxSize,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.store.State()

	switch state {
	case readiness.FeaturesReady, readiness.StatsReady:
		writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"state": state.String()})
	}
}

func (s *Server) fail(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.Log(req.Context(), level, "request failed", "path", req.URL.Path, "status", status, "err", err)

	writeError(w, status, err)
}

// statusFor maps store errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, featstore.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, featstore.ErrChunkOverflow):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, featstore.ErrInitialization), errors.Is(err, featstore.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
