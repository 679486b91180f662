package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/flightfusion/internal/observability"
	"github.com/yegors/flightfusion/pkg/logger"
)

// Router wires the API handlers, the WebSocket endpoint and the metrics endpoint
type Router struct {
	handler   *Handler
	websocket http.HandlerFunc
	metrics   *observability.Collector
	logger    *logger.Logger
}

// NewRouter creates a new router. websocket and metrics may be nil.
func NewRouter(handler *Handler, websocket http.HandlerFunc, metrics *observability.Collector, log *logger.Logger) *Router {
	return &Router{
		handler:   handler,
		websocket: websocket,
		metrics:   metrics,
		logger:    log.Named("router"),
	}
}

// Routes returns the HTTP handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rt.logger))
	if rt.metrics != nil {
		r.Use(rt.metrics.Middleware)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/flights", rt.handler.GetFlights)
		r.Get("/flights/{callsign}", rt.handler.GetFlight)
		r.Get("/board", rt.handler.GetBoard)
		r.Get("/zone", rt.handler.GetZone)
		r.Get("/schedules/{flightNumber}", rt.handler.GetSchedule)
	})

	if rt.websocket != nil {
		r.Get("/ws", rt.websocket)
	}
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	return r
}
