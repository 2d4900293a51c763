package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rtgsim/internal/domain"
	"rtgsim/internal/engine"
	"rtgsim/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (CORS)
	},
}

// StreamHandler pushes new simulation events to websocket clients.
type StreamHandler struct {
	registry *Registry
	interval time.Duration
	logger   logger.Logger
}

func NewStreamHandler(registry *Registry, interval time.Duration, log logger.Logger) *StreamHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StreamHandler{
		registry: registry,
		interval: interval,
		logger:   log,
	}
}

// Events upgrades the connection and streams every event the simulation
// emits from this point on. The engine only advances via the step endpoints,
// so the stream polls the event log and forwards what is new.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid simulation id", http.StatusBadRequest)
		return
	}
	in, err := h.registry.Get(id)
	if err != nil {
		http.Error(w, "Simulation not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	h.logger.Info("Event stream client connected", map[string]interface{}{
		"simulation_id": in.ID.String(),
	})

	sent := 0
	if sent, err = h.sendNewEvents(in, conn, sent); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, err = h.sendNewEvents(in, conn, sent)
			if err != nil {
				h.logger.Debug("Event stream closed", map[string]interface{}{
					"simulation_id": in.ID.String(),
					"error":         err.Error(),
				})
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) sendNewEvents(in *Instance, conn *websocket.Conn, sent int) (int, error) {
	var pending []domain.Event
	var tick int64
	_ = in.WithSim(func(sim *engine.Simulation) error {
		all := sim.Events()
		if len(all) > sent {
			pending = all[sent:]
		}
		tick = sim.CurrentTick()
		return nil
	})

	if len(pending) == 0 {
		return sent, nil
	}

	err := conn.WriteJSON(map[string]interface{}{
		"type":         "events",
		"current_tick": tick,
		"events":       pending,
	})
	if err != nil {
		return sent, err
	}
	return sent + len(pending), nil
}
