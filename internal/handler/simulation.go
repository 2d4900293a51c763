package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rtgsim/internal/domain"
	"rtgsim/internal/engine"
	"rtgsim/internal/scenario"
	"rtgsim/pkg/errors"
	"rtgsim/pkg/logger"
	"rtgsim/pkg/validator"
)

// SimulationHandler manages the lifecycle endpoints of live simulations.
type SimulationHandler struct {
	registry  *Registry
	validator *validator.Validator
	logger    logger.Logger
}

func NewSimulationHandler(registry *Registry, val *validator.Validator, log logger.Logger) *SimulationHandler {
	return &SimulationHandler{
		registry:  registry,
		validator: val,
		logger:    log,
	}
}

// Create builds a simulation from a YAML scenario document in the request
// body and registers it.
func (h *SimulationHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		h.respondError(w, http.StatusBadRequest, "Scenario document is required")
		return
	}

	cfg, err := scenario.Parse(body)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sim, err := engine.New(*cfg, h.logger)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	in := h.registry.Add(sim, cfg.Name, scenario.Hash(body))
	h.logger.Info("Simulation created", map[string]interface{}{
		"simulation_id": in.ID.String(),
		"scenario":      cfg.Name,
		"seed":          cfg.Seed,
		"horizon_ticks": cfg.HorizonTicks,
	})

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":            in.ID,
		"scenario":      cfg.Name,
		"scenario_hash": in.ScenarioHash,
		"seed":          cfg.Seed,
		"horizon_ticks": cfg.HorizonTicks,
	})
}

type stepRequest struct {
	Ticks int64 `json:"ticks" validate:"omitempty,gt=0"`
}

// Step advances a simulation by the requested number of ticks (default 1)
// and returns the events each tick produced.
func (h *SimulationHandler) Step(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	req := stepRequest{Ticks: 1}
	if r.ContentLength > 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
			h.respondValidationErrors(w, valErrs)
			return
		}
		if req.Ticks == 0 {
			req.Ticks = 1
		}
	}

	var ticks []domain.TickEvents
	err := in.WithSim(func(sim *engine.Simulation) error {
		for i := int64(0); i < req.Ticks; i++ {
			te, err := sim.StepTick()
			if err != nil {
				return err
			}
			ticks = append(ticks, te)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrHorizonReached) {
		h.respondEngineError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticks":           ticks,
		"horizon_reached": errors.Is(err, errors.ErrHorizonReached),
		"current_tick":    h.currentTick(in),
	})
}

// Run advances a simulation to its horizon and returns the summary.
func (h *SimulationHandler) Run(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	var summary domain.RunSummary
	err := in.WithSim(func(sim *engine.Simulation) error {
		if err := sim.Run(r.Context()); err != nil {
			return err
		}
		summary = sim.Summary()
		return nil
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}

type injectRequest struct {
	SenderID     string `json:"sender_id" validate:"required"`
	ReceiverID   string `json:"receiver_id" validate:"required"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	ArrivalTick  int64  `json:"arrival_tick" validate:"gte=0"`
	DeadlineTick int64  `json:"deadline_tick" validate:"required,gt=0"`
	Priority     int    `json:"priority" validate:"gte=0,lte=10"`
}

// Inject schedules an external transaction for arrival.
func (h *SimulationHandler) Inject(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	var req injectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		h.respondValidationErrors(w, valErrs)
		return
	}

	var txID uuid.UUID
	err := in.WithSim(func(sim *engine.Simulation) error {
		var err error
		txID, err = sim.SubmitExternalTransaction(
			req.SenderID, req.ReceiverID, req.Amount,
			req.ArrivalTick, req.DeadlineTick, req.Priority,
		)
		return err
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction_id": txID,
	})
}

// Status reports the current tick and configuration of one simulation.
func (h *SimulationHandler) Status(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	var resp map[string]interface{}
	_ = in.WithSim(func(sim *engine.Simulation) error {
		cfg := sim.Config()
		resp = map[string]interface{}{
			"id":            in.ID,
			"scenario":      in.ScenarioName,
			"seed":          cfg.Seed,
			"current_tick":  sim.CurrentTick(),
			"horizon_ticks": cfg.HorizonTicks,
			"halted":        sim.Halted(),
			"total_balance": sim.TotalBalance(),
			"created_at":    in.CreatedAt,
		}
		return nil
	})

	h.respondJSON(w, http.StatusOK, resp)
}

// AgentBalance returns one agent's balance and cost breakdown.
func (h *SimulationHandler) AgentBalance(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}
	agentID := mux.Vars(r)["agentId"]

	var balance int64
	var costs domain.CostBreakdown
	err := in.WithSim(func(sim *engine.Simulation) error {
		var err error
		if balance, err = sim.AgentBalance(agentID); err != nil {
			return err
		}
		costs, err = sim.AgentCosts(agentID)
		return err
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":   agentID,
		"balance":    balance,
		"costs":      costs,
		"total_cost": costs.Total(),
	})
}

// GetTransaction returns a point-in-time snapshot of one transaction.
func (h *SimulationHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	txID, err := uuid.Parse(mux.Vars(r)["txId"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	var tx domain.Transaction
	err = in.WithSim(func(sim *engine.Simulation) error {
		var err error
		tx, err = sim.Transaction(txID)
		return err
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, tx)
}

// Queue returns the central queue contents in settlement attempt order.
func (h *SimulationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	var ids []uuid.UUID
	_ = in.WithSim(func(sim *engine.Simulation) error {
		ids = sim.CentralQueueContents()
		return nil
	})

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue":  ids,
		"length": len(ids),
	})
}

// Events returns the event log, optionally filtered with ?from_tick=N.
func (h *SimulationHandler) Events(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	fromTick := int64(-1)
	if v := r.URL.Query().Get("from_tick"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "from_tick must be an integer")
			return
		}
		fromTick = parsed
	}

	var events []domain.Event
	_ = in.WithSim(func(sim *engine.Simulation) error {
		for _, ev := range sim.Events() {
			if ev.Tick >= fromTick {
				events = append(events, ev)
			}
		}
		return nil
	})

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// Summary returns the aggregate result record for the run so far.
func (h *SimulationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	in, ok := h.instance(w, r)
	if !ok {
		return
	}

	var summary domain.RunSummary
	_ = in.WithSim(func(sim *engine.Simulation) error {
		summary = sim.Summary()
		return nil
	})

	h.respondJSON(w, http.StatusOK, summary)
}

// Delete removes a simulation instance from the registry.
func (h *SimulationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid simulation id")
		return
	}
	if err := h.registry.Remove(id); err != nil {
		h.respondError(w, http.StatusNotFound, "Simulation not found")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *SimulationHandler) instance(w http.ResponseWriter, r *http.Request) (*Instance, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid simulation id")
		return nil, false
	}
	in, err := h.registry.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "Simulation not found")
		return nil, false
	}
	return in, true
}

func (h *SimulationHandler) currentTick(in *Instance) int64 {
	var tick int64
	_ = in.WithSim(func(sim *engine.Simulation) error {
		tick = sim.CurrentTick()
		return nil
	})
	return tick
}

func (h *SimulationHandler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrUnknownAgent),
		errors.Is(err, errors.ErrTransactionNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrHorizonReached),
		errors.Is(err, errors.ErrSimulationHalted):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrNonPositiveAmount),
		errors.Is(err, errors.ErrDeadlineNotAfterArrival),
		errors.Is(err, errors.ErrSenderIsReceiver),
		errors.Is(err, errors.ErrUnknownPolicyTree):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Simulation request failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Simulation request failed")
	}
}

func (h *SimulationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
	}
}

func (h *SimulationHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *SimulationHandler) respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}
