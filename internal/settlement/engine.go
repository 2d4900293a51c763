// Package settlement implements immediate gross settlement against the
// central queue: full remaining amount, payer debited and payee credited
// atomically, with an in-tick mechanical retry as incoming credits free
// liquidity. This retry is the queue doing its job, not a policy decision,
// which is why central-queue delay is priced separately from a strategic
// Hold.
package settlement

import (
	"github.com/google/uuid"

	"rtgsim/internal/domain"
	"rtgsim/internal/store"
	"rtgsim/pkg/logger"
)

type Engine struct {
	txs    *store.Transactions
	agents *store.Agents
	queue  *store.CentralQueue
	log    logger.Logger
}

func NewEngine(txs *store.Transactions, agents *store.Agents, queue *store.CentralQueue, log logger.Logger) *Engine {
	return &Engine{txs: txs, agents: agents, queue: queue, log: log}
}

// SettleTick scans the queue in priority order, settling the head of each
// sender's outbound stream when available liquidity covers it, and repeats
// until a full pass settles nothing. An obligation admitted earlier in this
// tick settles in the same tick.
func (e *Engine) SettleTick(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for {
		progressed := false
		// Head-of-line per sender: once one of a sender's obligations is
		// blocked, its later ones wait too.
		blocked := make(map[string]bool)

		for _, entry := range e.queue.Entries() {
			tx, err := e.txs.Get(entry.TxID)
			if err != nil {
				return events, err
			}
			if blocked[tx.SenderID] {
				continue
			}
			ev, ok, err := e.trySettle(tx, tick)
			if err != nil {
				return events, err
			}
			if !ok {
				blocked[tx.SenderID] = true
				continue
			}
			events = append(events, ev)
			progressed = true
		}
		if !progressed {
			return events, nil
		}
	}
}

func (e *Engine) trySettle(tx *domain.Transaction, tick int64) (domain.Event, bool, error) {
	sender, err := e.agents.Get(tx.SenderID)
	if err != nil {
		return domain.Event{}, false, err
	}
	receiver, err := e.agents.Get(tx.ReceiverID)
	if err != nil {
		return domain.Event{}, false, err
	}
	amount := tx.RemainingAmount
	// External-source agents settle against liquidity injected from outside
	// the system; their balance may go arbitrarily negative.
	if !sender.ExternalSource && sender.AvailableLiquidity() < amount {
		return domain.Event{}, false, nil
	}

	if err := e.txs.Settle(tx.ID, amount, tick); err != nil {
		return domain.Event{}, false, err
	}
	sender.Balance -= amount
	receiver.Balance += amount
	e.queue.Remove(tx.ID)

	id := tx.ID
	return domain.Event{
		Tick:          tick,
		Type:          domain.EventSettlement,
		TransactionID: &id,
		AgentID:       sender.ID,
		Amount:        amount,
		Details: map[string]interface{}{
			"receiver_id": receiver.ID,
			"mode":        "gross",
		},
	}, true, nil
}

// SettleForNetting settles one queue member as part of an LSM offset or
// cycle; the liquidity feasibility check has already been done by the
// optimizer across the whole group.
func (e *Engine) SettleForNetting(txID uuid.UUID, tick int64, mode string) (domain.Event, error) {
	tx, err := e.txs.Get(txID)
	if err != nil {
		return domain.Event{}, err
	}
	sender, err := e.agents.Get(tx.SenderID)
	if err != nil {
		return domain.Event{}, err
	}
	receiver, err := e.agents.Get(tx.ReceiverID)
	if err != nil {
		return domain.Event{}, err
	}
	amount := tx.RemainingAmount
	if err := e.txs.Settle(tx.ID, amount, tick); err != nil {
		return domain.Event{}, err
	}
	sender.Balance -= amount
	receiver.Balance += amount
	e.queue.Remove(tx.ID)

	id := tx.ID
	return domain.Event{
		Tick:          tick,
		Type:          domain.EventSettlement,
		TransactionID: &id,
		AgentID:       sender.ID,
		Amount:        amount,
		Details: map[string]interface{}{
			"receiver_id": receiver.ID,
			"mode":        mode,
		},
	}, nil
}
