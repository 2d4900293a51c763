// Package handler provides HTTP and websocket handlers for the simulation
// gateway.
package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rtgsim/internal/engine"
	"rtgsim/pkg/errors"
)

// Instance is one live simulation held by the gateway. The engine itself is
// single-threaded, so every access goes through the instance mutex.
type Instance struct {
	ID           uuid.UUID
	ScenarioName string
	ScenarioHash string
	CreatedAt    time.Time

	mu  sync.Mutex
	sim *engine.Simulation
}

// WithSim runs fn with exclusive access to the underlying engine.
func (in *Instance) WithSim(fn func(*engine.Simulation) error) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return fn(in.sim)
}

// Registry tracks live simulation instances by id.
type Registry struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[uuid.UUID]*Instance)}
}

func (r *Registry) Add(sim *engine.Simulation, scenarioName, scenarioHash string) *Instance {
	in := &Instance{
		ID:           uuid.New(),
		ScenarioName: scenarioName,
		ScenarioHash: scenarioHash,
		CreatedAt:    time.Now().UTC(),
		sim:          sim,
	}
	r.mu.Lock()
	r.instances[in.ID] = in
	r.mu.Unlock()
	return in
}

func (r *Registry) Get(id uuid.UUID) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[id]
	if !ok {
		return nil, errors.ErrSimulationNotFound
	}
	return in, nil
}

func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return errors.ErrSimulationNotFound
	}
	delete(r.instances, id)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
