// Package costs converts settlement outcomes into economic penalties:
// recurring overdraft, delay and opportunity costs plus the one-time
// deadline-miss, split-friction and end-of-period charges.
package costs

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rtgsim/internal/domain"
	"rtgsim/internal/store"
	"rtgsim/pkg/logger"
)

type Engine struct {
	txs    *store.Transactions
	agents *store.Agents
	queue  *store.CentralQueue
	rates  domain.CostRates
	log    logger.Logger
}

func NewEngine(txs *store.Transactions, agents *store.Agents, queue *store.CentralQueue, rates domain.CostRates, log logger.Logger) *Engine {
	return &Engine{txs: txs, agents: agents, queue: queue, rates: rates, log: log}
}

// mulFloor multiplies an integer amount by decimal factors and floors,
// never rounding up, so accrual cannot manufacture value.
func mulFloor(amount int64, factors ...decimal.Decimal) int64 {
	v := decimal.NewFromInt(amount)
	for _, f := range factors {
		v = v.Mul(f)
	}
	return v.Floor().IntPart()
}

// AccrueRecurring charges every per-tick cost and emits one cost_accrual
// event per agent that accrued anything this tick.
func (e *Engine) AccrueRecurring(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for _, agent := range e.agents.All() {
		overdraft := int64(0)
		if agent.Balance < 0 {
			overdraft = mulFloor(-agent.Balance, e.rates.OverdraftRate)
		}

		delay := int64(0)
		for _, txID := range agent.InternalQueue {
			tx, err := e.txs.Get(txID)
			if err != nil {
				return nil, err
			}
			delay += e.delayCost(tx, tick, e.rates.InternalDelayRate)
		}
		for _, entry := range e.queue.Entries() {
			tx, err := e.txs.Get(entry.TxID)
			if err != nil {
				return nil, err
			}
			if tx.SenderID != agent.ID {
				continue
			}
			delay += e.delayCost(tx, tick, e.rates.CentralDelayRate)
		}

		collateral := mulFloor(agent.PostedCollateral, e.rates.CollateralRate)
		pool := mulFloor(agent.PoolAllocation, e.rates.PoolRate)

		total := overdraft + delay + collateral + pool
		if total == 0 {
			continue
		}
		agent.Costs.Overdraft += overdraft
		agent.Costs.Delay += delay
		agent.Costs.CollateralOpportunity += collateral
		agent.Costs.PoolOpportunity += pool

		events = append(events, domain.Event{
			Tick:    tick,
			Type:    domain.EventCostAccrual,
			AgentID: agent.ID,
			Amount:  total,
			Details: map[string]interface{}{
				"overdraft":              overdraft,
				"delay":                  delay,
				"collateral_opportunity": collateral,
				"pool_opportunity":       pool,
			},
		})
	}
	return events, nil
}

// delayCost prices one unsettled obligation for one tick: queue-specific base
// rate, scaled by the priority band and by the overdue multiplier once past
// deadline.
func (e *Engine) delayCost(tx *domain.Transaction, tick int64, baseRate decimal.Decimal) int64 {
	factors := []decimal.Decimal{baseRate, e.rates.BandMultiplier(tx.Priority)}
	if tick > tx.DeadlineTick {
		factors = append(factors, e.rates.OverdueMultiplier)
	}
	return mulFloor(tx.RemainingAmount, factors...)
}

// ChargeSplitFriction charges the one-time split cost: one charge per split
// operation regardless of how many children it produced.
func (e *Engine) ChargeSplitFriction(agent *domain.Agent, txID uuid.UUID, tick int64) domain.Event {
	agent.Costs.SplitFriction += e.rates.SplitFrictionCost
	id := txID
	return domain.Event{
		Tick:          tick,
		Type:          domain.EventCostAccrual,
		TransactionID: &id,
		AgentID:       agent.ID,
		Amount:        e.rates.SplitFrictionCost,
		Details:       map[string]interface{}{"cost": "split_friction"},
	}
}

// ChargeDeadlineMiss charges the one-time penalty at the tick an obligation
// first becomes overdue.
func (e *Engine) ChargeDeadlineMiss(agent *domain.Agent, txID uuid.UUID, tick int64) domain.Event {
	agent.Costs.DeadlineMiss += e.rates.DeadlineMissPenalty
	id := txID
	return domain.Event{
		Tick:          tick,
		Type:          domain.EventCostAccrual,
		TransactionID: &id,
		AgentID:       agent.ID,
		Amount:        e.rates.DeadlineMissPenalty,
		Details:       map[string]interface{}{"cost": "deadline_miss"},
	}
}

// ChargeEndOfPeriod penalizes obligations that are unsettled AND overdue at a
// period boundary. Unsettled-but-not-overdue obligations are deliberately not
// penalized; the two predicates are distinct.
func (e *Engine) ChargeEndOfPeriod(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for _, tx := range e.txs.All() {
		if tx.IsSettled() || !tx.IsOverdue() || tx.WasSplit {
			continue
		}
		agent, err := e.agents.Get(tx.SenderID)
		if err != nil {
			return nil, err
		}
		agent.Costs.EndOfPeriod += e.rates.EndOfPeriodPenalty
		id := tx.ID
		events = append(events, domain.Event{
			Tick:          tick,
			Type:          domain.EventEndOfPeriod,
			TransactionID: &id,
			AgentID:       agent.ID,
			Amount:        e.rates.EndOfPeriodPenalty,
			Details:       map[string]interface{}{"remaining_amount": tx.RemainingAmount},
		})
	}
	return events, nil
}
