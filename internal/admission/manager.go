// Package admission runs the per-tick policy sweep over every agent's
// internal queue and moves obligations into the shared central queue: Hold
// leaves an obligation queued, Release admits it with a declared queue
// priority, Split atomically replaces it with children. Collateral and
// bank-budget trees are applied here too, once per agent per tick.
package admission

import (
	"github.com/google/uuid"

	"rtgsim/internal/costs"
	"rtgsim/internal/domain"
	"rtgsim/internal/policy"
	"rtgsim/internal/store"
	"rtgsim/pkg/errors"
	"rtgsim/pkg/logger"
)

// Decision is one interpreter verdict for one queued obligation.
type Decision struct {
	AgentID string
	TxID    uuid.UUID
	Action  policy.Action
}

type Manager struct {
	txs      *store.Transactions
	agents   *store.Agents
	queue    *store.CentralQueue
	costs    *costs.Engine
	policies map[string]domain.PolicySet
	params   map[string]float64
	period   int64
	newID    func() uuid.UUID
	log      logger.Logger
}

func NewManager(
	txs *store.Transactions,
	agents *store.Agents,
	queue *store.CentralQueue,
	costEngine *costs.Engine,
	policies map[string]domain.PolicySet,
	params map[string]float64,
	periodLength int64,
	newID func() uuid.UUID,
	log logger.Logger,
) *Manager {
	return &Manager{
		txs:      txs,
		agents:   agents,
		queue:    queue,
		costs:    costEngine,
		policies: policies,
		params:   params,
		period:   periodLength,
		newID:    newID,
		log:      log,
	}
}

// EvaluatePolicies applies each agent's collateral and bank-budget trees and
// collects one payment decision per internally-queued obligation. Decisions
// are applied by the later Splitting and CentralQueueAdmission phases.
func (m *Manager) EvaluatePolicies(tick int64) ([]Decision, []domain.Event, error) {
	var decisions []Decision
	var events []domain.Event

	for _, agent := range m.agents.All() {
		set := m.policies[agent.ID]

		if set.Collateral != nil {
			action, err := policy.Evaluate(set.Collateral, m.agentContext(agent, tick))
			if err != nil {
				return nil, nil, errors.Wrap(err, "collateral tree evaluation failed")
			}
			events = append(events, m.applyCollateralAction(agent, action, tick)...)
		}

		if set.BankBudget != nil {
			action, err := policy.Evaluate(set.BankBudget, m.agentContext(agent, tick))
			if err != nil {
				return nil, nil, errors.Wrap(err, "bank budget tree evaluation failed")
			}
			events = append(events, m.applyBudgetAction(agent, action, tick)...)
		}

		if set.Payment == nil {
			continue
		}
		for _, txID := range agent.InternalQueue {
			tx, err := m.txs.Get(txID)
			if err != nil {
				return nil, nil, err
			}
			action, err := policy.Evaluate(set.Payment, m.paymentContext(agent, tx, tick))
			if err != nil {
				return nil, nil, errors.Wrap(err, "payment tree evaluation failed")
			}
			decisions = append(decisions, Decision{AgentID: agent.ID, TxID: txID, Action: action})
			id := txID
			events = append(events, domain.Event{
				Tick:          tick,
				Type:          domain.EventDecision,
				TransactionID: &id,
				AgentID:       agent.ID,
				Details:       map[string]interface{}{"action": string(action.Kind)},
			})
		}
	}
	return decisions, events, nil
}

// ApplySplits executes the Split decisions: each split atomically replaces
// the obligation with N children at the same internal-queue position and
// charges exactly one split-friction cost regardless of N.
func (m *Manager) ApplySplits(decisions []Decision, tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for _, d := range decisions {
		if d.Action.Kind != policy.ActionSplit {
			continue
		}
		agent, err := m.agents.Get(d.AgentID)
		if err != nil {
			return nil, err
		}
		tx, err := m.txs.Get(d.TxID)
		if err != nil {
			return nil, err
		}
		count := int(d.Action.Param("count", 2))
		if int64(count) > tx.RemainingAmount {
			count = int(tx.RemainingAmount)
		}
		if count < 2 {
			continue
		}

		amounts := store.EqualSplitAmounts(tx.RemainingAmount, count)
		childIDs := make([]uuid.UUID, count)
		for i := range childIDs {
			childIDs[i] = m.newID()
		}
		children, err := m.txs.Split(d.TxID, childIDs, amounts, tick)
		if err != nil {
			return nil, errors.Wrap(err, "split failed")
		}
		if !agent.ReplaceInternal(d.TxID, childIDs) {
			return nil, errors.ErrNotInInternalQueue
		}

		childList := make([]string, len(children))
		for i, c := range children {
			childList[i] = c.ID.String()
		}
		id := d.TxID
		events = append(events, domain.Event{
			Tick:          tick,
			Type:          domain.EventSplit,
			TransactionID: &id,
			AgentID:       agent.ID,
			Amount:        tx.Amount,
			Details:       map[string]interface{}{"children": childList},
		})
		events = append(events, m.costs.ChargeSplitFriction(agent, d.TxID, tick))
	}
	return events, nil
}

// AdmitReleases executes the Release decisions: the obligation leaves the
// sender's internal queue and joins the central queue with its declared
// priority and submission tick.
func (m *Manager) AdmitReleases(decisions []Decision, tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for _, d := range decisions {
		if d.Action.Kind != policy.ActionRelease {
			continue
		}
		agent, err := m.agents.Get(d.AgentID)
		if err != nil {
			return nil, err
		}
		tx, err := m.txs.Get(d.TxID)
		if err != nil {
			return nil, err
		}
		declared := clampQueuePriority(int(d.Action.Param("queue_priority", float64(domain.MaxPriority-tx.Priority))))
		if !agent.DequeueInternal(d.TxID) {
			return nil, errors.ErrNotInInternalQueue
		}
		tx.AdmitToCentralQueue(declared, tick)
		m.queue.Push(tx.ID, declared, tick)

		id := d.TxID
		events = append(events, domain.Event{
			Tick:          tick,
			Type:          domain.EventAdmission,
			TransactionID: &id,
			AgentID:       agent.ID,
			Amount:        tx.RemainingAmount,
			Details:       map[string]interface{}{"queue_priority": declared},
		})
	}
	return events, nil
}

func (m *Manager) applyCollateralAction(agent *domain.Agent, action policy.Action, tick int64) []domain.Event {
	switch action.Kind {
	case policy.ActionPostCollateral:
		amount := int64(action.Param("amount", 0))
		if headroom := agent.CollateralCap - agent.PostedCollateral; amount > headroom {
			amount = headroom
		}
		if amount <= 0 {
			return nil
		}
		agent.PostedCollateral += amount
		return []domain.Event{{
			Tick: tick, Type: domain.EventCollateralPost, AgentID: agent.ID, Amount: amount,
			Details: map[string]interface{}{"posted_collateral": agent.PostedCollateral},
		}}
	case policy.ActionWithdrawCollateral:
		amount := int64(action.Param("amount", 0))
		if amount > agent.PostedCollateral {
			amount = agent.PostedCollateral
		}
		// Never withdraw credit the agent is currently using.
		if free := agent.AvailableLiquidity(); amount > free {
			amount = free
		}
		if amount <= 0 {
			return nil
		}
		agent.PostedCollateral -= amount
		return []domain.Event{{
			Tick: tick, Type: domain.EventCollateralWithdraw, AgentID: agent.ID, Amount: amount,
			Details: map[string]interface{}{"posted_collateral": agent.PostedCollateral},
		}}
	default:
		return nil
	}
}

func (m *Manager) applyBudgetAction(agent *domain.Agent, action policy.Action, tick int64) []domain.Event {
	switch action.Kind {
	case policy.ActionAllocatePool:
		fraction := action.Param("fraction", 0)
		free := agent.Balance - agent.PoolAllocation
		if free <= 0 {
			return nil
		}
		amount := int64(float64(free) * fraction)
		if amount <= 0 {
			return nil
		}
		agent.PoolAllocation += amount
		return []domain.Event{{
			Tick: tick, Type: domain.EventPoolAllocation, AgentID: agent.ID, Amount: amount,
			Details: map[string]interface{}{"pool_allocation": agent.PoolAllocation},
		}}
	case policy.ActionDrainPool:
		fraction := action.Param("fraction", 0)
		amount := int64(float64(agent.PoolAllocation) * fraction)
		if amount <= 0 {
			return nil
		}
		agent.PoolAllocation -= amount
		return []domain.Event{{
			Tick: tick, Type: domain.EventPoolDrain, AgentID: agent.ID, Amount: amount,
			Details: map[string]interface{}{"pool_allocation": agent.PoolAllocation},
		}}
	default:
		return nil
	}
}

func (m *Manager) agentContext(agent *domain.Agent, tick int64) policy.Context {
	fields := map[string]float64{
		policy.FieldTick:                float64(tick),
		policy.FieldBalance:             float64(agent.Balance),
		policy.FieldAvailableLiquidity:  float64(agent.AvailableLiquidity()),
		policy.FieldCreditLimit:         float64(agent.CreditLimit),
		policy.FieldPostedCollateral:    float64(agent.PostedCollateral),
		policy.FieldCollateralCap:       float64(agent.CollateralCap),
		policy.FieldPoolAllocation:      float64(agent.PoolAllocation),
		policy.FieldInternalQueueLength: float64(len(agent.InternalQueue)),
		policy.FieldCentralQueueLength:  float64(m.queue.Len()),
		policy.FieldTicksToPeriodEnd:    float64(m.ticksToPeriodEnd(tick)),
	}
	return policy.Context{Fields: fields, Params: m.params}
}

func (m *Manager) paymentContext(agent *domain.Agent, tx *domain.Transaction, tick int64) policy.Context {
	ctx := m.agentContext(agent, tick)
	ctx.Fields[policy.FieldAmount] = float64(tx.Amount)
	ctx.Fields[policy.FieldRemainingAmount] = float64(tx.RemainingAmount)
	ctx.Fields[policy.FieldPriority] = float64(tx.Priority)
	ctx.Fields[policy.FieldTicksToDeadline] = float64(tx.DeadlineTick - tick)
	ctx.Fields[policy.FieldTicksInQueue] = float64(tick - tx.ArrivalTick)
	overdue := 0.0
	if tx.IsOverdue() {
		overdue = 1
	}
	ctx.Fields[policy.FieldIsOverdue] = overdue
	return ctx
}

func (m *Manager) ticksToPeriodEnd(tick int64) int64 {
	if m.period <= 0 {
		return -1
	}
	return m.period - 1 - (tick % m.period)
}

func clampQueuePriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > domain.MaxPriority {
		return domain.MaxPriority
	}
	return p
}
