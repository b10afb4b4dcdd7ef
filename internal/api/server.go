// Package api serves store contents over a read-only HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/monitoring"
	"github.com/sells-group/kurve-cli/internal/store"
)

// Server holds the dependencies of the API handlers.
type Server struct {
	store   store.Store
	metrics *monitoring.Metrics
	origins []string
	log     *zap.Logger
}

// NewServer creates a Server. metrics may be nil, which disables /metrics.
func NewServer(st store.Store, metrics *monitoring.Metrics, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		store:   st,
		metrics: metrics,
		origins: corsOrigins,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/readings/{granularity}", s.listReadings)
		r.Get("/averages/{granularity}", s.listAverages)
		r.Get("/tariffs", s.listTariffs)
		r.Get("/tariffs/current", s.currentTariff)
		r.Get("/runs", s.listRuns)
	})

	return r
}

// observe logs each request and records it in the metrics registry under
// its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, elapsed)
		}
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
