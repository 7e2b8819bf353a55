package api

import (
	"github.com/gorilla/mux"

	"github.com/theblitlabs/parity-flsim/internal/api/handlers"
	"github.com/theblitlabs/parity-flsim/internal/api/middleware"
	"github.com/theblitlabs/parity-flsim/internal/telemetry"
)

// Router wraps mux.Router to add more functionality
type Router struct {
	*mux.Router
	middleware []mux.MiddlewareFunc
	endpoint   string
}

// NewRouter creates and configures a new router with all dependencies
func NewRouter(
	simulationHandler *handlers.SimulationHandler,
	hub *handlers.Hub,
	healthHandler *handlers.HealthHandler,
	endpoint string,
) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		middleware: []mux.MiddlewareFunc{
			middleware.Logging,
			telemetry.MetricsMiddleware,
		},
		endpoint: endpoint,
	}

	r.setup()
	r.registerRoutes(simulationHandler, hub, healthHandler)

	return r
}

// setup configures the base router with middleware and common settings
func (r *Router) setup() {
	for _, m := range r.middleware {
		r.Use(m)
	}
}

// registerRoutes registers all application routes
func (r *Router) registerRoutes(simulationHandler *handlers.SimulationHandler, hub *handlers.Hub, healthHandler *handlers.HealthHandler) {
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods("GET")
	r.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")

	api := r.PathPrefix(r.endpoint).Subrouter()
	api.HandleFunc("/simulation", simulationHandler.GetStatus).Methods("GET")
	api.HandleFunc("/rounds", simulationHandler.ListRounds).Methods("GET")
	api.HandleFunc("/rounds/{round:[0-9]+}", simulationHandler.GetRound).Methods("GET")
	api.HandleFunc("/stream", hub.ServeWS).Methods("GET")
}

// AddMiddleware adds a new middleware to the router
func (r *Router) AddMiddleware(middleware mux.MiddlewareFunc) {
	r.Use(middleware)
}
