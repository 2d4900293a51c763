package admission

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgsim/internal/costs"
	"rtgsim/internal/domain"
	"rtgsim/internal/policy"
	"rtgsim/internal/store"
	"rtgsim/pkg/logger"
)

type fixture struct {
	txs    *store.Transactions
	agents *store.Agents
	queue  *store.CentralQueue
	rates  domain.CostRates
	mgr    *Manager
}

func newFixture(t *testing.T, policies map[string]domain.PolicySet, rates domain.CostRates) *fixture {
	t.Helper()
	f := &fixture{
		txs:    store.NewTransactions(),
		agents: store.NewAgents(),
		queue:  store.NewCentralQueue(),
		rates:  rates,
	}
	costEngine := costs.NewEngine(f.txs, f.agents, f.queue, rates, logger.NewNop())
	rng := rand.New(rand.NewSource(7))
	newID := func() uuid.UUID {
		id, err := uuid.NewRandomFromReader(rng)
		require.NoError(t, err)
		return id
	}
	f.mgr = NewManager(f.txs, f.agents, f.queue, costEngine, policies, nil, 0, newID, logger.NewNop())
	return f
}

func (f *fixture) addAgent(t *testing.T, a *domain.Agent) *domain.Agent {
	t.Helper()
	require.NoError(t, f.agents.Add(a))
	return a
}

func (f *fixture) queueInternal(t *testing.T, agent *domain.Agent, amount int64, priority int) *domain.Transaction {
	t.Helper()
	tx, err := domain.NewTransaction(uuid.New(), agent.ID, "other", amount, 0, 100, priority, true, 0)
	require.NoError(t, err)
	f.txs.Add(tx)
	agent.EnqueueInternal(tx.ID)
	return tx
}

func leaf(id string, kind policy.ActionKind, params map[string]float64) *policy.Node {
	return &policy.Node{ID: id, Action: &policy.Action{Kind: kind, Params: params}}
}

func TestEvaluatePoliciesCollectsPaymentDecisions(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("r", policy.ActionRelease, nil)},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})
	tx := f.queueInternal(t, alpha, 100, 5)

	decisions, events, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, tx.ID, decisions[0].TxID)
	assert.Equal(t, policy.ActionRelease, decisions[0].Action.Kind)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDecision, events[0].Type)
	assert.Equal(t, "release", events[0].Details["action"])
}

func TestAdmitReleasesMovesToCentralQueue(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("r", policy.ActionRelease, map[string]float64{"queue_priority": 2})},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})
	tx := f.queueInternal(t, alpha, 100, 5)

	decisions, _, err := f.mgr.EvaluatePolicies(3)
	require.NoError(t, err)
	events, err := f.mgr.AdmitReleases(decisions, 3)
	require.NoError(t, err)

	assert.Empty(t, alpha.InternalQueue)
	assert.True(t, f.queue.Contains(tx.ID))
	assert.True(t, tx.InCentralQueue())
	assert.Equal(t, 2, *tx.DeclaredCentralQueuePriority)
	assert.Equal(t, int64(3), *tx.CentralQueueSubmissionTick)

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAdmission, events[0].Type)
}

func TestDefaultQueuePriorityInvertsTransactionPriority(t *testing.T) {
	// Without a declared queue_priority, urgent transactions (high priority)
	// map to low queue numbers, which settle first.
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("r", policy.ActionRelease, nil)},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})
	urgent := f.queueInternal(t, alpha, 100, 9)
	casual := f.queueInternal(t, alpha, 100, 1)

	decisions, _, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	_, err = f.mgr.AdmitReleases(decisions, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, *urgent.DeclaredCentralQueuePriority)
	assert.Equal(t, 9, *casual.DeclaredCentralQueuePriority)
	assert.Equal(t, []uuid.UUID{urgent.ID, casual.ID}, f.queue.IDs())
}

func TestHoldLeavesInternalQueueUntouched(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("h", policy.ActionHold, nil)},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})
	tx := f.queueInternal(t, alpha, 100, 5)

	decisions, _, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)

	_, err = f.mgr.ApplySplits(decisions, 0)
	require.NoError(t, err)
	_, err = f.mgr.AdmitReleases(decisions, 0)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{tx.ID}, alpha.InternalQueue)
	assert.Equal(t, 0, f.queue.Len())
}

func TestApplySplitsChargesOneFriction(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.SplitFrictionCost = 50
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("s", policy.ActionSplit, map[string]float64{"count": 4})},
	}
	f := newFixture(t, policies, rates)
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})
	tx := f.queueInternal(t, alpha, 100, 5)

	decisions, _, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	events, err := f.mgr.ApplySplits(decisions, 0)
	require.NoError(t, err)

	// Four children replace the parent in place, one friction charge.
	assert.Len(t, alpha.InternalQueue, 4)
	assert.True(t, tx.WasSplit)
	assert.Equal(t, int64(50), alpha.Costs.SplitFriction)

	var total int64
	for _, id := range alpha.InternalQueue {
		child, err := f.txs.Get(id)
		require.NoError(t, err)
		require.NotNil(t, child.ParentID)
		total += child.RemainingAmount
	}
	assert.Equal(t, int64(100), total)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSplit, events[0].Type)
	assert.Equal(t, domain.EventCostAccrual, events[1].Type)
}

func TestSplitCountClampedToRemaining(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Payment: leaf("s", policy.ActionSplit, map[string]float64{"count": 10})},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})
	f.addAgent(t, &domain.Agent{ID: "other"})

	// Only 3 minor units: a 10-way split clamps to 3 one-unit children.
	f.queueInternal(t, alpha, 3, 5)

	decisions, _, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	_, err = f.mgr.ApplySplits(decisions, 0)
	require.NoError(t, err)

	assert.Len(t, alpha.InternalQueue, 3)

	// A 1-unit obligation cannot split at all and stays queued.
	beta := f.addAgent(t, &domain.Agent{ID: "beta", Balance: 1000})
	f.mgr.policies["beta"] = domain.PolicySet{Payment: leaf("s", policy.ActionSplit, map[string]float64{"count": 10})}
	one := f.queueInternal(t, beta, 1, 5)

	decisions, _, err = f.mgr.EvaluatePolicies(1)
	require.NoError(t, err)
	_, err = f.mgr.ApplySplits(decisions, 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{one.ID}, beta.InternalQueue)
	assert.False(t, one.WasSplit)
}

func TestCollateralActionsClamped(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Collateral: leaf("p", policy.ActionPostCollateral, map[string]float64{"amount": 10000})},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 0, CollateralCap: 600})

	_, events, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)

	// Clamped to the cap.
	assert.Equal(t, int64(600), alpha.PostedCollateral)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCollateralPost, events[0].Type)
	assert.Equal(t, int64(600), events[0].Amount)

	// A second tick has no headroom left and emits nothing.
	_, events, err = f.mgr.EvaluatePolicies(1)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int64(600), alpha.PostedCollateral)
}

func TestWithdrawCollateralNeverBelowUsage(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {Collateral: leaf("w", policy.ActionWithdrawCollateral, map[string]float64{"amount": 500})},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	// Balance -400 with 500 posted: only 100 of liquidity is free.
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: -400, PostedCollateral: 500})

	_, events, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(100), events[0].Amount)
	assert.Equal(t, int64(400), alpha.PostedCollateral)
}

func TestBudgetPoolAllocationAndDrain(t *testing.T) {
	policies := map[string]domain.PolicySet{
		"alpha": {BankBudget: leaf("a", policy.ActionAllocatePool, map[string]float64{"fraction": 0.25})},
	}
	f := newFixture(t, policies, domain.DefaultCostRates())
	alpha := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 1000})

	_, events, err := f.mgr.EvaluatePolicies(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPoolAllocation, events[0].Type)
	assert.Equal(t, int64(250), alpha.PoolAllocation)
	// Pool-parked funds no longer count as available.
	assert.Equal(t, int64(750), alpha.AvailableLiquidity())

	f.mgr.policies["alpha"] = domain.PolicySet{
		BankBudget: leaf("d", policy.ActionDrainPool, map[string]float64{"fraction": 1}),
	}
	_, events, err = f.mgr.EvaluatePolicies(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPoolDrain, events[0].Type)
	assert.Equal(t, int64(0), alpha.PoolAllocation)
}
