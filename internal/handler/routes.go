package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"rtgsim/internal/middleware"
	"rtgsim/pkg/logger"
)

// RouterDeps collects what the gateway router needs. Runs may be nil when no
// run store is configured; its endpoints then answer 503.
type RouterDeps struct {
	Simulations *SimulationHandler
	Policies    *PolicyHandler
	Stream      *StreamHandler
	Runs        *RunsHandler
	RateLimiter *middleware.RateLimiter
	Logger      logger.Logger
}

// NewRouter builds the gateway's route table.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger).Log)
	r.Use(middleware.BodyLimit(1 << 20))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Limit)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"rtgsim-gateway"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/simulations", deps.Simulations.Create).Methods("POST")
	api.HandleFunc("/simulations/{id}", deps.Simulations.Status).Methods("GET")
	api.HandleFunc("/simulations/{id}", deps.Simulations.Delete).Methods("DELETE")
	api.HandleFunc("/simulations/{id}/step", deps.Simulations.Step).Methods("POST")
	api.HandleFunc("/simulations/{id}/run", deps.Simulations.Run).Methods("POST")
	api.HandleFunc("/simulations/{id}/transactions", deps.Simulations.Inject).Methods("POST")
	api.HandleFunc("/simulations/{id}/transactions/{txId}", deps.Simulations.GetTransaction).Methods("GET")
	api.HandleFunc("/simulations/{id}/agents/{agentId}", deps.Simulations.AgentBalance).Methods("GET")
	api.HandleFunc("/simulations/{id}/queue", deps.Simulations.Queue).Methods("GET")
	api.HandleFunc("/simulations/{id}/events", deps.Simulations.Events).Methods("GET")
	api.HandleFunc("/simulations/{id}/summary", deps.Simulations.Summary).Methods("GET")
	api.HandleFunc("/simulations/{id}/stream", deps.Stream.Events).Methods("GET")

	api.HandleFunc("/policies/validate", deps.Policies.Validate).Methods("POST")

	if deps.Runs != nil {
		api.HandleFunc("/simulations/{id}/archive", deps.Runs.Archive).Methods("POST")
		api.HandleFunc("/runs", deps.Runs.List).Methods("GET")
		api.HandleFunc("/runs/{id}", deps.Runs.Get).Methods("GET")
		api.HandleFunc("/cache/{hash}/{seed}", deps.Runs.CachedSummary).Methods("GET")
	}

	return r
}
