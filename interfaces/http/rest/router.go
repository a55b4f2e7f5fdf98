package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/interfaces/http/rest/handlers"
	"github.com/teesha-ghevariya/to-do/interfaces/http/rest/middleware"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
	"github.com/teesha-ghevariya/to-do/pkg/observability"
)

// ReadinessCheck reports whether the backing store can serve requests
type ReadinessCheck func(ctx context.Context) error

// RouterConfig selects the optional parts of the HTTP surface
type RouterConfig struct {
	EnableCORS    bool
	CORSOrigins   []string
	EnableMetrics bool
	Breaker       middleware.CircuitBreakerConfig
}

// Router creates and configures the HTTP router
type Router struct {
	service    *services.NodeService
	errHandler *pkgerrors.ErrorHandler
	metrics    *observability.Collector
	ready      ReadinessCheck
	config     RouterConfig
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	service *services.NodeService,
	errHandler *pkgerrors.ErrorHandler,
	metrics *observability.Collector,
	ready ReadinessCheck,
	config RouterConfig,
	logger *zap.Logger,
) *Router {
	if config.Breaker.Name == "" {
		config.Breaker = middleware.DefaultCircuitBreakerConfig("node-api")
	}
	return &Router{
		service:    service,
		errHandler: errHandler,
		metrics:    metrics,
		ready:      ready,
		config:     config,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger(rt.logger))
	router.Use(rt.errHandler.Middleware)
	if rt.config.EnableMetrics && rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.config.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errHandler.HandleStatus(w, r, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.config.EnableMetrics && rt.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	router.Route("/api/nodes", func(r chi.Router) {
		r.Use(middleware.CircuitBreaker(rt.config.Breaker, rt.errHandler, rt.metrics, rt.logger))

		nodeHandler := handlers.NewNodeHandler(rt.service, rt.errHandler, rt.logger)
		r.Get("/", nodeHandler.ListRoots)
		r.Post("/", nodeHandler.CreateNode)

		// fixed paths before {nodeID}
		r.Get("/search", nodeHandler.Search)
		r.Get("/starred", nodeHandler.ListStarred)
		r.Get("/export", nodeHandler.Export)
		r.Post("/import", nodeHandler.Import)
		r.Post("/batch", nodeHandler.BatchUpdate)

		r.Route("/{nodeID}", func(r chi.Router) {
			r.Get("/", nodeHandler.GetNode)
			r.Put("/", nodeHandler.UpdateNode)
			r.Delete("/", nodeHandler.DeleteNode)
			r.Get("/children", nodeHandler.ListChildren)
			r.Put("/move", nodeHandler.MoveNode)
			r.Patch("/complete", nodeHandler.ToggleComplete)
			r.Patch("/expand", nodeHandler.ToggleExpand)
			r.Patch("/star", nodeHandler.ToggleStar)
			r.Patch("/notes", nodeHandler.UpdateNotes)
			r.Post("/tags", nodeHandler.AddTag)
			r.Delete("/tags/{tag}", nodeHandler.RemoveTag)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports ready once the store answers
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.ready != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rt.ready(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			rt.errHandler.Handle(w, req, pkgerrors.NewUnavailableError("node store").WithCause(err))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
