package costs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgsim/internal/domain"
	"rtgsim/internal/store"
	"rtgsim/pkg/logger"
)

type fixture struct {
	txs    *store.Transactions
	agents *store.Agents
	queue  *store.CentralQueue
	engine *Engine
}

func newFixture(t *testing.T, rates domain.CostRates) *fixture {
	t.Helper()
	f := &fixture{
		txs:    store.NewTransactions(),
		agents: store.NewAgents(),
		queue:  store.NewCentralQueue(),
	}
	f.engine = NewEngine(f.txs, f.agents, f.queue, rates, logger.NewNop())
	return f
}

func (f *fixture) addAgent(t *testing.T, a *domain.Agent) *domain.Agent {
	t.Helper()
	require.NoError(t, f.agents.Add(a))
	return a
}

func (f *fixture) addTx(t *testing.T, sender, receiver string, amount, deadline int64, priority int) *domain.Transaction {
	t.Helper()
	tx, err := domain.NewTransaction(uuid.New(), sender, receiver, amount, 0, deadline, priority, true, 0)
	require.NoError(t, err)
	f.txs.Add(tx)
	return tx
}

func TestMulFloorNeverRoundsUp(t *testing.T) {
	rate := decimal.RequireFromString("0.001")
	assert.Equal(t, int64(0), mulFloor(999, rate))
	assert.Equal(t, int64(1), mulFloor(1000, rate))
	assert.Equal(t, int64(1), mulFloor(1999, rate))
}

func TestOverdraftAccrual(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.OverdraftRate = decimal.RequireFromString("0.01")

	f := newFixture(t, rates)
	debtor := f.addAgent(t, &domain.Agent{ID: "debtor", Balance: -10000})
	solvent := f.addAgent(t, &domain.Agent{ID: "solvent", Balance: 5000})

	events, err := f.engine.AccrueRecurring(3)
	require.NoError(t, err)

	assert.Equal(t, int64(100), debtor.Costs.Overdraft)
	assert.Equal(t, int64(0), solvent.Costs.Overdraft)

	// One accrual event, only for the agent that accrued.
	require.Len(t, events, 1)
	assert.Equal(t, "debtor", events[0].AgentID)
	assert.Equal(t, domain.EventCostAccrual, events[0].Type)
	assert.Equal(t, int64(100), events[0].Amount)
}

func TestDelayCostsByQueueAndBand(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.InternalDelayRate = decimal.RequireFromString("0.001")
	rates.CentralDelayRate = decimal.RequireFromString("0.002")
	rates.HighBandMultiplier = decimal.RequireFromString("3")

	f := newFixture(t, rates)
	sender := f.addAgent(t, &domain.Agent{ID: "sender", Balance: 0})
	f.addAgent(t, &domain.Agent{ID: "receiver", Balance: 0})

	internal := f.addTx(t, "sender", "receiver", 100000, 50, 5) // mid band, x1
	central := f.addTx(t, "sender", "receiver", 100000, 50, 9)  // high band, x3
	sender.EnqueueInternal(internal.ID)
	central.AdmitToCentralQueue(1, 0)
	f.queue.Push(central.ID, 1, 0)

	_, err := f.engine.AccrueRecurring(1)
	require.NoError(t, err)

	// internal: 100000*0.001*1 = 100; central: 100000*0.002*3 = 600.
	assert.Equal(t, int64(700), sender.Costs.Delay)
}

func TestDelayCostOverdueMultiplier(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.CentralDelayRate = decimal.RequireFromString("0.001")
	rates.OverdueMultiplier = decimal.RequireFromString("2")

	f := newFixture(t, rates)
	sender := f.addAgent(t, &domain.Agent{ID: "sender", Balance: 0})
	f.addAgent(t, &domain.Agent{ID: "receiver", Balance: 0})

	tx := f.addTx(t, "sender", "receiver", 10000, 5, 5)
	f.queue.Push(tx.ID, 5, 0)

	// At the deadline tick the multiplier does not yet apply.
	_, err := f.engine.AccrueRecurring(5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sender.Costs.Delay)

	// Past it, the accrual doubles.
	_, err = f.engine.AccrueRecurring(6)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sender.Costs.Delay)
}

func TestCollateralAndPoolOpportunityCosts(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.CollateralRate = decimal.RequireFromString("0.001")
	rates.PoolRate = decimal.RequireFromString("0.002")

	f := newFixture(t, rates)
	agent := f.addAgent(t, &domain.Agent{ID: "alpha", Balance: 0, PostedCollateral: 10000, PoolAllocation: 5000})

	_, err := f.engine.AccrueRecurring(1)
	require.NoError(t, err)

	assert.Equal(t, int64(10), agent.Costs.CollateralOpportunity)
	assert.Equal(t, int64(10), agent.Costs.PoolOpportunity)
}

func TestChargeDeadlineMissOnce(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.DeadlineMissPenalty = 500

	f := newFixture(t, rates)
	agent := f.addAgent(t, &domain.Agent{ID: "alpha"})
	tx := f.addTx(t, "alpha", "beta", 1000, 5, 5)

	ev := f.engine.ChargeDeadlineMiss(agent, tx.ID, 5)
	assert.Equal(t, int64(500), agent.Costs.DeadlineMiss)
	assert.Equal(t, int64(500), ev.Amount)
	assert.Equal(t, tx.ID, *ev.TransactionID)
}

func TestChargeSplitFrictionPerOperation(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.SplitFrictionCost = 250

	f := newFixture(t, rates)
	agent := f.addAgent(t, &domain.Agent{ID: "alpha"})

	f.engine.ChargeSplitFriction(agent, uuid.New(), 1)
	f.engine.ChargeSplitFriction(agent, uuid.New(), 2)
	assert.Equal(t, int64(500), agent.Costs.SplitFriction)
}

func TestEndOfPeriodChargesOnlyOverdueUnsettled(t *testing.T) {
	rates := domain.DefaultCostRates()
	rates.EndOfPeriodPenalty = 1000

	f := newFixture(t, rates)
	agent := f.addAgent(t, &domain.Agent{ID: "alpha"})
	f.addAgent(t, &domain.Agent{ID: "beta"})

	overdue := f.addTx(t, "alpha", "beta", 100, 5, 5)
	f.addTx(t, "alpha", "beta", 100, 50, 5) // pending, deadline not yet missed
	settled := f.addTx(t, "alpha", "beta", 100, 5, 5)
	splitParent := f.addTx(t, "alpha", "beta", 100, 5, 5)

	_, err := f.txs.MarkOverdue(overdue.ID, 5)
	require.NoError(t, err)
	require.NoError(t, f.txs.Settle(settled.ID, 100, 3))
	_, err = f.txs.Split(splitParent.ID, []uuid.UUID{uuid.New(), uuid.New()}, []int64{50, 50}, 4)
	require.NoError(t, err)
	_, err = f.txs.MarkOverdue(splitParent.ID, 5)
	require.NoError(t, err)

	events, err := f.engine.ChargeEndOfPeriod(10)
	require.NoError(t, err)

	// Only the overdue unsettled non-split obligation and the two overdue
	// split children are candidates; the children are not overdue yet, so a
	// single charge lands.
	require.Len(t, events, 1)
	assert.Equal(t, overdue.ID, *events[0].TransactionID)
	assert.Equal(t, int64(1000), agent.Costs.EndOfPeriod)
}
