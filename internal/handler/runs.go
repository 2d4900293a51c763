package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rtgsim/internal/domain"
	"rtgsim/internal/engine"
	"rtgsim/internal/evalcache"
	"rtgsim/internal/runstore"
	"rtgsim/pkg/errors"
	"rtgsim/pkg/logger"
)

// RunsHandler archives finished simulations and serves persisted runs. Both
// the store and the cache are optional; endpoints answer 503 when the
// backing service is not configured.
type RunsHandler struct {
	registry *Registry
	repo     *runstore.Repository
	cache    *evalcache.Cache
	logger   logger.Logger
}

func NewRunsHandler(registry *Registry, repo *runstore.Repository, cache *evalcache.Cache, log logger.Logger) *RunsHandler {
	return &RunsHandler{
		registry: registry,
		repo:     repo,
		cache:    cache,
		logger:   log,
	}
}

// Archive persists a simulation's current state as a finished run and drops
// the instance from the registry.
func (h *RunsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Run store is not configured")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid simulation id")
		return
	}
	in, err := h.registry.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "Simulation not found")
		return
	}

	var summary domain.RunSummary
	var events []domain.Event
	var cfg domain.ScenarioConfig
	_ = in.WithSim(func(sim *engine.Simulation) error {
		summary = sim.Summary()
		events = sim.Events()
		cfg = sim.Config()
		return nil
	})

	rec := runstore.RunRecord{
		ID:             in.ID,
		ScenarioName:   in.ScenarioName,
		ScenarioHash:   in.ScenarioHash,
		Seed:           cfg.Seed,
		HorizonTicks:   cfg.HorizonTicks,
		CompletedTicks: summary.CompletedTicks,
		SettledCount:   summary.SettledCount,
		SettledValue:   summary.SettledValue,
		TotalCost:      summary.TotalCost,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.repo.SaveRun(r.Context(), rec, events, summary); err != nil {
		h.logger.Error("Run archive failed", map[string]interface{}{
			"simulation_id": in.ID.String(),
			"error":         err.Error(),
		})
		h.respondError(w, http.StatusInternalServerError, "Failed to archive run")
		return
	}

	if h.cache != nil {
		if err := h.cache.Put(r.Context(), in.ScenarioHash, cfg.Seed, summary); err != nil {
			h.logger.Warn("Summary cache write failed", map[string]interface{}{
				"scenario_hash": in.ScenarioHash,
				"error":         err.Error(),
			})
		}
	}

	_ = h.registry.Remove(in.ID)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  rec.ID,
		"summary": summary,
	})
}

// Get returns one persisted run's metadata.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Run store is not configured")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	rec, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, errors.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// List returns recent runs for one scenario hash.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Run store is not configured")
		return
	}

	hash := r.URL.Query().Get("scenario_hash")
	if hash == "" {
		h.respondError(w, http.StatusBadRequest, "scenario_hash query parameter is required")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	recs, err := h.repo.ListRuns(r.Context(), hash, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  recs,
		"count": len(recs),
	})
}

// CachedSummary returns the memoized summary for a scenario/seed pair.
func (h *RunsHandler) CachedSummary(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Evaluation cache is not configured")
		return
	}

	vars := mux.Vars(r)
	seed, err := strconv.ParseInt(vars["seed"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "seed must be an integer")
		return
	}

	summary, err := h.cache.Get(r.Context(), vars["hash"], seed)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Cache lookup failed")
		return
	}
	if summary == nil {
		h.respondError(w, http.StatusNotFound, "No cached summary for this scenario and seed")
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}

func (h *RunsHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
	}
}

func (h *RunsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
