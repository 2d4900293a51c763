package store

import (
	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

// Agents is the ordered participant registry. Iteration order is the
// scenario's declaration order, which keeps per-tick sweeps deterministic.
type Agents struct {
	byID  map[string]*domain.Agent
	order []string
}

func NewAgents() *Agents {
	return &Agents{byID: make(map[string]*domain.Agent)}
}

func (s *Agents) Add(a *domain.Agent) error {
	if _, exists := s.byID[a.ID]; exists {
		return errors.ErrDuplicateAgent
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *Agents) Get(id string) (*domain.Agent, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrUnknownAgent
	}
	return a, nil
}

func (s *Agents) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// All iterates agents in declaration order.
func (s *Agents) All() []*domain.Agent {
	out := make([]*domain.Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Agents) Len() int {
	return len(s.order)
}

// TotalBalance sums every agent balance; the conservation invariant says this
// changes only through designated external-liquidity agents.
func (s *Agents) TotalBalance() int64 {
	var total int64
	for _, id := range s.order {
		total += s.byID[id].Balance
	}
	return total
}
