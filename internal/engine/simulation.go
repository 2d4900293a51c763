// Package engine owns the simulation clock: it wires the stores, the
// admission manager, the settlement engine, the LSM optimizer and the cost
// accruer together and drives the fixed per-tick phase sequence. One
// Simulation instance is single-threaded and fully deterministic for a given
// (seed, config); independent instances share nothing and may run in
// parallel.
package engine

import (
	"context"
	"math/rand"

	"github.com/google/uuid"

	"rtgsim/internal/admission"
	"rtgsim/internal/costs"
	"rtgsim/internal/domain"
	"rtgsim/internal/lsm"
	"rtgsim/internal/settlement"
	"rtgsim/internal/store"
	"rtgsim/pkg/errors"
	"rtgsim/pkg/logger"
)

type Simulation struct {
	cfg      domain.ScenarioConfig
	rng      *rand.Rand
	policies map[string]domain.PolicySet

	txs    *store.Transactions
	agents *store.Agents
	queue  *store.CentralQueue

	admission *admission.Manager
	settler   *settlement.Engine
	optimizer *lsm.Optimizer
	costs     *costs.Engine

	tick       int64
	halted     bool
	events     []domain.Event
	injections []injection

	log logger.Logger
}

type injection struct {
	txID        uuid.UUID
	arrivalTick int64
}

// New validates every policy tree, registers the agents and returns a ready
// simulation at tick 0. A policy validation failure carries the complete
// issue list; no tick can execute against an invalid tree.
func New(cfg domain.ScenarioConfig, log logger.Logger) (*Simulation, error) {
	if cfg.HorizonTicks <= 0 {
		return nil, errors.Wrap(errors.ErrHorizonReached, "horizon must be positive")
	}
	if err := ValidatePolicies(cfg); err != nil {
		return nil, err
	}

	s := &Simulation{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		txs:    store.NewTransactions(),
		agents: store.NewAgents(),
		queue:  store.NewCentralQueue(),
		log:    log,
	}

	policies := make(map[string]domain.PolicySet, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		agent := &domain.Agent{
			ID:               ac.ID,
			Balance:          ac.Balance,
			CreditLimit:      ac.CreditLimit,
			PostedCollateral: ac.PostedCollateral,
			CollateralCap:    ac.CollateralCap,
			ExternalSource:   ac.ExternalSource,
		}
		if err := s.agents.Add(agent); err != nil {
			return nil, errors.Wrap(err, "agent "+ac.ID)
		}
		// The generator may draw any agent as sender, so with arrivals
		// enabled a payment tree is mandatory: without one the obligation
		// would sit in the internal queue with no decision ever taken.
		if cfg.Arrivals.Rate > 0 && ac.Policies.Payment == nil {
			return nil, errors.Wrap(errors.ErrUnknownPolicyTree, "agent "+ac.ID+" (payment)")
		}
		policies[ac.ID] = ac.Policies
	}
	s.policies = policies

	s.costs = costs.NewEngine(s.txs, s.agents, s.queue, cfg.Rates, log)
	s.admission = admission.NewManager(s.txs, s.agents, s.queue, s.costs,
		policies, policyParams(cfg), cfg.PeriodLength, s.newID, log)
	s.settler = settlement.NewEngine(s.txs, s.agents, s.queue, log)
	s.optimizer = lsm.NewOptimizer(s.txs, s.agents, s.queue, s.settler,
		cfg.BilateralOffsets, cfg.MaxCycleLength, s.newID, log)
	return s, nil
}

// policyParams exposes the configured cost rates (plus scenario extras) to
// decision trees as named parameters.
func policyParams(cfg domain.ScenarioConfig) map[string]float64 {
	params := map[string]float64{
		"overdraft_rate":        cfg.Rates.OverdraftRate.InexactFloat64(),
		"internal_delay_rate":   cfg.Rates.InternalDelayRate.InexactFloat64(),
		"central_delay_rate":    cfg.Rates.CentralDelayRate.InexactFloat64(),
		"overdue_multiplier":    cfg.Rates.OverdueMultiplier.InexactFloat64(),
		"collateral_rate":       cfg.Rates.CollateralRate.InexactFloat64(),
		"pool_rate":             cfg.Rates.PoolRate.InexactFloat64(),
		"deadline_miss_penalty": float64(cfg.Rates.DeadlineMissPenalty),
		"split_friction_cost":   float64(cfg.Rates.SplitFrictionCost),
		"end_of_period_penalty": float64(cfg.Rates.EndOfPeriodPenalty),
	}
	for k, v := range cfg.PolicyParams {
		params[k] = v
	}
	return params
}

// newID draws a transaction id from the seeded stream so runs replay
// identically.
func (s *Simulation) newID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		// rand.Rand.Read cannot fail; keep the compiler honest.
		panic(err)
	}
	return id
}

// StepTick advances one tick through the fixed phase sequence:
// Arrivals, PolicyEvaluation, Splitting, CentralQueueAdmission,
// GrossSettlement, LsmOptimization, CostAccrual, OverdueDetection and, on a
// period boundary, EndOfPeriodPenalty. A failure inside any phase aborts the
// current tick, leaves prior ticks intact and halts the instance.
func (s *Simulation) StepTick() (domain.TickEvents, error) {
	te := domain.TickEvents{Tick: s.tick}
	if s.halted {
		return te, errors.ErrSimulationHalted
	}
	if s.tick >= s.cfg.HorizonTicks {
		return te, errors.ErrHorizonReached
	}
	tick := s.tick

	fail := func(err error) (domain.TickEvents, error) {
		s.halted = true
		s.log.Error("tick aborted", map[string]interface{}{
			"tick":  tick,
			"error": err.Error(),
		})
		return te, err
	}

	evs, err := s.runArrivals(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	decisions, evs, err := s.admission.EvaluatePolicies(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.admission.ApplySplits(decisions, tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.admission.AdmitReleases(decisions, tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.settler.SettleTick(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.optimizer.Optimize(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.costs.AccrueRecurring(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	evs, err = s.detectOverdue(tick)
	te.Events = append(te.Events, evs...)
	if err != nil {
		return fail(err)
	}

	if s.cfg.PeriodLength > 0 && (tick+1)%s.cfg.PeriodLength == 0 {
		evs, err = s.costs.ChargeEndOfPeriod(tick)
		te.Events = append(te.Events, evs...)
		if err != nil {
			return fail(err)
		}
	}

	s.events = append(s.events, te.Events...)
	s.tick++
	return te, nil
}

// Run drives ticks to the horizon. Cancellation is coarse: the context is
// checked only at tick boundaries.
func (s *Simulation) Run(ctx context.Context) error {
	for s.tick < s.cfg.HorizonTicks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.StepTick(); err != nil {
			return err
		}
	}
	return nil
}

// detectOverdue marks every unsettled obligation past its deadline and
// charges the one-time deadline-miss penalty on the first mark. Split
// parents are marked for status bookkeeping but not charged; their children
// carry the exposure.
func (s *Simulation) detectOverdue(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for _, tx := range s.txs.All() {
		if tx.IsSettled() || tx.MissedDeadlineTick != nil || tick < tx.DeadlineTick {
			continue
		}
		if tx.ArrivalTick > tick {
			continue
		}
		newly, err := s.txs.MarkOverdue(tx.ID, tx.DeadlineTick)
		if err != nil {
			return events, err
		}
		if !newly {
			continue
		}
		id := tx.ID
		events = append(events, domain.Event{
			Tick:          tick,
			Type:          domain.EventOverdue,
			TransactionID: &id,
			AgentID:       tx.SenderID,
			Amount:        tx.RemainingAmount,
			Details:       map[string]interface{}{"deadline_tick": tx.DeadlineTick},
		})
		if tx.WasSplit {
			continue
		}
		agent, err := s.agents.Get(tx.SenderID)
		if err != nil {
			return events, err
		}
		events = append(events, s.costs.ChargeDeadlineMiss(agent, tx.ID, tick))
	}
	return events, nil
}

func (s *Simulation) CurrentTick() int64 {
	return s.tick
}

// Halted reports whether a prior tick failed and left the instance unusable.
func (s *Simulation) Halted() bool {
	return s.halted
}

func (s *Simulation) Config() domain.ScenarioConfig {
	return s.cfg
}

// AgentBalance returns one agent's current balance.
func (s *Simulation) AgentBalance(agentID string) (int64, error) {
	a, err := s.agents.Get(agentID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// AgentCosts returns one agent's accumulated cost breakdown.
func (s *Simulation) AgentCosts(agentID string) (domain.CostBreakdown, error) {
	a, err := s.agents.Get(agentID)
	if err != nil {
		return domain.CostBreakdown{}, err
	}
	return a.Costs, nil
}

// Transaction returns a value snapshot; internal arena pointers never cross
// the boundary.
func (s *Simulation) Transaction(txID uuid.UUID) (domain.Transaction, error) {
	return s.txs.Snapshot(txID)
}

// CentralQueueContents lists the queued transaction ids in settlement order.
func (s *Simulation) CentralQueueContents() []uuid.UUID {
	return s.queue.IDs()
}

// Events returns a copy of the append-only event log.
func (s *Simulation) Events() []domain.Event {
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

// TotalBalance is exposed for conservation checks.
func (s *Simulation) TotalBalance() int64 {
	return s.agents.TotalBalance()
}

// Summary flattens the run's final state into the record the run store and
// evaluation cache consume.
func (s *Simulation) Summary() domain.RunSummary {
	sum := domain.RunSummary{
		Seed:           s.cfg.Seed,
		CompletedTicks: s.tick,
		EventCount:     int64(len(s.events)),
		AgentBalances:  make(map[string]int64),
		AgentCosts:     make(map[string]domain.CostBreakdown),
	}
	for _, a := range s.agents.All() {
		sum.AgentBalances[a.ID] = a.Balance
		sum.AgentCosts[a.ID] = a.Costs
		sum.TotalCost += a.Costs.Total()
	}
	for _, tx := range s.txs.All() {
		if tx.WasSplit {
			continue
		}
		switch {
		case tx.IsSettled():
			sum.SettledCount++
			sum.SettledValue += tx.Amount
		case tx.IsOverdue():
			sum.OverdueCount++
			sum.UnsettledCount++
		default:
			sum.UnsettledCount++
		}
	}
	return sum
}
