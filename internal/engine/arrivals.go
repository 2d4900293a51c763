package engine

import (
	"github.com/google/uuid"

	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

// SubmitExternalTransaction injects an obligation outside the arrival
// generator, for external scenario scripting. The transaction is created and
// queryable immediately; it enters the sender's internal queue at its arrival
// tick (clamped to the current tick if already past).
func (s *Simulation) SubmitExternalTransaction(senderID, receiverID string, amount, arrivalTick, deadlineTick int64, priority int) (uuid.UUID, error) {
	if !s.agents.Has(senderID) {
		return uuid.Nil, errors.Wrap(errors.ErrUnknownAgent, "sender "+senderID)
	}
	if !s.agents.Has(receiverID) {
		return uuid.Nil, errors.Wrap(errors.ErrUnknownAgent, "receiver "+receiverID)
	}
	if s.policies[senderID].Payment == nil {
		return uuid.Nil, errors.Wrap(errors.ErrUnknownPolicyTree, "sender "+senderID+" (payment)")
	}
	if arrivalTick < s.tick {
		arrivalTick = s.tick
	}
	tx, err := domain.NewTransaction(s.newID(), senderID, receiverID,
		amount, arrivalTick, deadlineTick, priority, true, s.cfg.HorizonTicks)
	if err != nil {
		return uuid.Nil, err
	}
	s.txs.Add(tx)
	s.injections = append(s.injections, injection{txID: tx.ID, arrivalTick: arrivalTick})
	return tx.ID, nil
}

// runArrivals delivers due injections and then draws generated arrivals from
// the seeded stream, one Bernoulli trial per agent per tick.
func (s *Simulation) runArrivals(tick int64) ([]domain.Event, error) {
	var events []domain.Event

	remaining := s.injections[:0]
	for _, inj := range s.injections {
		if inj.arrivalTick > tick {
			remaining = append(remaining, inj)
			continue
		}
		tx, err := s.txs.Get(inj.txID)
		if err != nil {
			return events, err
		}
		sender, err := s.agents.Get(tx.SenderID)
		if err != nil {
			return events, err
		}
		sender.EnqueueInternal(tx.ID)
		events = append(events, arrivalEvent(tx, tick, "injected"))
	}
	s.injections = remaining

	cfg := s.cfg.Arrivals
	if cfg.Rate <= 0 || s.agents.Len() < 2 {
		return events, nil
	}
	agents := s.agents.All()
	for i, sender := range agents {
		if s.rng.Float64() >= cfg.Rate {
			continue
		}
		receiver := agents[s.pickOther(i, len(agents))]
		amount := cfg.MinAmount + s.rangeInt63(cfg.MaxAmount-cfg.MinAmount)
		deadline := tick + cfg.MinDeadlineOffset + s.rangeInt63(cfg.MaxDeadlineOffset-cfg.MinDeadlineOffset)
		priority := cfg.MinPriority + s.rangeInt(cfg.MaxPriority-cfg.MinPriority)
		// Programmatic configs may carry zero minimums; clamp after drawing
		// so the stream consumes the same number of draws regardless of the
		// bounds.
		if amount < 1 {
			amount = 1
		}
		if deadline <= tick {
			deadline = tick + 1
		}

		tx, err := domain.NewTransaction(s.newID(), sender.ID, receiver.ID,
			amount, tick, deadline, priority, cfg.Divisible, s.cfg.HorizonTicks)
		if err != nil {
			return events, errors.Wrap(err, "arrival generation")
		}
		s.txs.Add(tx)
		sender.EnqueueInternal(tx.ID)
		events = append(events, arrivalEvent(tx, tick, "generated"))
	}
	return events, nil
}

// pickOther draws a uniform counterparty index, skipping the sender.
func (s *Simulation) pickOther(self, n int) int {
	idx := s.rng.Intn(n - 1)
	if idx >= self {
		idx++
	}
	return idx
}

func (s *Simulation) rangeInt63(span int64) int64 {
	if span <= 0 {
		return 0
	}
	return s.rng.Int63n(span + 1)
}

func (s *Simulation) rangeInt(span int) int {
	if span <= 0 {
		return 0
	}
	return s.rng.Intn(span + 1)
}

func arrivalEvent(tx *domain.Transaction, tick int64, source string) domain.Event {
	id := tx.ID
	return domain.Event{
		Tick:          tick,
		Type:          domain.EventArrival,
		TransactionID: &id,
		AgentID:       tx.SenderID,
		Amount:        tx.Amount,
		Details: map[string]interface{}{
			"receiver_id":   tx.ReceiverID,
			"deadline_tick": tx.DeadlineTick,
			"priority":      tx.Priority,
			"source":        source,
		},
	}
}
