// Package lsm is the liquidity-saving mechanism: it scans the central queue
// after gross settlement for bilateral offsets and multilateral payment
// cycles and clears them with less liquidity than individual gross
// settlement would need. A cycle is committed all-or-nothing; required
// liquidity is computed for every participant before any leg moves.
package lsm

import (
	"sort"

	"github.com/google/uuid"

	"rtgsim/internal/domain"
	"rtgsim/internal/settlement"
	"rtgsim/internal/store"
	"rtgsim/pkg/logger"
)

type Optimizer struct {
	txs       *store.Transactions
	agents    *store.Agents
	queue     *store.CentralQueue
	settler   *settlement.Engine
	bilateral bool
	maxCycle  int
	newID     func() uuid.UUID
	log       logger.Logger
}

func NewOptimizer(
	txs *store.Transactions,
	agents *store.Agents,
	queue *store.CentralQueue,
	settler *settlement.Engine,
	bilateral bool,
	maxCycleLength int,
	newID func() uuid.UUID,
	log logger.Logger,
) *Optimizer {
	return &Optimizer{
		txs:       txs,
		agents:    agents,
		queue:     queue,
		settler:   settler,
		bilateral: bilateral,
		maxCycle:  maxCycleLength,
		newID:     newID,
		log:       log,
	}
}

// Optimize runs the bilateral pass and then the cycle pass, each to a fixed
// point.
func (o *Optimizer) Optimize(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	if o.bilateral {
		evs, err := o.offsetBilateral(tick)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
	if o.maxCycle >= 2 {
		evs, err := o.clearCycles(tick)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// offsetBilateral settles opposite-direction pairs between the same two
// agents in full; only the net difference needs liquidity, checked against
// the larger side's sender before committing.
func (o *Optimizer) offsetBilateral(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for {
		committed := false
		entries := o.queue.Entries()
	scan:
		for i := 0; i < len(entries); i++ {
			a, err := o.txs.Get(entries[i].TxID)
			if err != nil {
				return events, err
			}
			for j := i + 1; j < len(entries); j++ {
				b, err := o.txs.Get(entries[j].TxID)
				if err != nil {
					return events, err
				}
				if b.SenderID != a.ReceiverID || b.ReceiverID != a.SenderID {
					continue
				}
				evs, ok, err := o.commitOffset(a, b, tick)
				if err != nil {
					return events, err
				}
				if !ok {
					continue
				}
				events = append(events, evs...)
				committed = true
				break scan
			}
		}
		if !committed {
			return events, nil
		}
	}
}

func (o *Optimizer) commitOffset(a, b *domain.Transaction, tick int64) ([]domain.Event, bool, error) {
	netPayer, diff := a.SenderID, a.RemainingAmount-b.RemainingAmount
	if diff < 0 {
		netPayer, diff = b.SenderID, -diff
	}
	payer, err := o.agents.Get(netPayer)
	if err != nil {
		return nil, false, err
	}
	if !payer.ExternalSource && payer.AvailableLiquidity() < diff {
		return nil, false, nil
	}

	aID, bID := a.ID, b.ID
	events := []domain.Event{{
		Tick:    tick,
		Type:    domain.EventBilateralOffset,
		AgentID: netPayer,
		Amount:  diff,
		Details: map[string]interface{}{
			"transaction_ids": []string{aID.String(), bID.String()},
			"gross_value":     a.RemainingAmount + b.RemainingAmount,
		},
	}}
	for _, id := range []uuid.UUID{aID, bID} {
		ev, err := o.settler.SettleForNetting(id, tick, "bilateral")
		if err != nil {
			return events, false, err
		}
		events = append(events, ev)
	}
	return events, true, nil
}

// edge is one directed obligation chosen to represent a (sender, receiver)
// pair in the cycle graph: the earliest queued obligation for that pair.
type edge struct {
	entry store.QueueEntry
	tx    *domain.Transaction
}

// candidate is one discovered cycle with its clearing plan.
type candidate struct {
	edges []edge
	// full: every edge settles in full, participants with net outflow cover
	// it from available liquidity. Otherwise the cycle clears the binding
	// (minimum) edge amount on every edge, which nets to zero everywhere.
	full bool
	// binding is the minimum remaining amount over the cycle's edges.
	binding int64
	// valueCleared / liquidityUsed drive the tie-break: prefer the most value
	// cleared per unit of liquidity consumed.
	valueCleared  int64
	liquidityUsed int64
	// earliestSubmission breaks remaining ties.
	earliestSubmission int64
}

func (o *Optimizer) clearCycles(tick int64) ([]domain.Event, error) {
	var events []domain.Event
	for {
		best, err := o.findBestCycle()
		if err != nil {
			return events, err
		}
		if best == nil {
			return events, nil
		}
		evs, err := o.commitCycle(best, tick)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
}

func (o *Optimizer) findBestCycle() (*candidate, error) {
	adjacency, err := o.buildGraph()
	if err != nil {
		return nil, err
	}

	senders := make([]string, 0, len(adjacency))
	for s := range adjacency {
		senders = append(senders, s)
	}
	sort.Strings(senders)

	var best *candidate
	for _, start := range senders {
		path := []edge{}
		visited := map[string]bool{start: true}
		o.dfs(start, start, path, visited, adjacency, &best)
	}
	return best, nil
}

// buildGraph picks, for every (sender, receiver) pair with queued
// obligations, the earliest one in queue order.
func (o *Optimizer) buildGraph() (map[string]map[string]edge, error) {
	adjacency := make(map[string]map[string]edge)
	for _, entry := range o.queue.Entries() {
		tx, err := o.txs.Get(entry.TxID)
		if err != nil {
			return nil, err
		}
		if _, ok := adjacency[tx.SenderID]; !ok {
			adjacency[tx.SenderID] = make(map[string]edge)
		}
		if _, ok := adjacency[tx.SenderID][tx.ReceiverID]; !ok {
			adjacency[tx.SenderID][tx.ReceiverID] = edge{entry: entry, tx: tx}
		}
	}
	return adjacency, nil
}

// dfs enumerates simple cycles up to the configured length. Cycles are
// canonicalized by requiring the start to be the smallest participant id, so
// each cycle is scored once.
func (o *Optimizer) dfs(start, current string, path []edge, visited map[string]bool, adjacency map[string]map[string]edge, best **candidate) {
	next := adjacency[current]
	receivers := make([]string, 0, len(next))
	for r := range next {
		receivers = append(receivers, r)
	}
	sort.Strings(receivers)

	for _, r := range receivers {
		e := next[r]
		if r == start && len(path) >= 1 {
			cycle := append(append([]edge{}, path...), e)
			if len(cycle) >= 2 {
				cand := o.scoreCycle(cycle)
				if cand != nil && (*best == nil || betterCandidate(cand, *best)) {
					*best = cand
				}
			}
			continue
		}
		if visited[r] || r < start || len(path)+1 >= o.maxCycle {
			continue
		}
		visited[r] = true
		o.dfs(start, r, append(path, e), visited, adjacency, best)
		visited[r] = false
	}
}

func (o *Optimizer) scoreCycle(edges []edge) *candidate {
	binding := edges[0].tx.RemainingAmount
	earliest := edges[0].entry.SubmissionTick
	totalValue := int64(0)
	netFlow := make(map[string]int64)
	for _, e := range edges {
		if e.tx.RemainingAmount < binding {
			binding = e.tx.RemainingAmount
		}
		if e.entry.SubmissionTick < earliest {
			earliest = e.entry.SubmissionTick
		}
		totalValue += e.tx.RemainingAmount
		netFlow[e.tx.SenderID] -= e.tx.RemainingAmount
		netFlow[e.tx.ReceiverID] += e.tx.RemainingAmount
	}

	// Full clearing: every participant with a net outflow must cover it.
	feasible := true
	liquidity := int64(0)
	for agentID, net := range netFlow {
		if net >= 0 {
			continue
		}
		agent, err := o.agents.Get(agentID)
		if err != nil || (!agent.ExternalSource && agent.AvailableLiquidity() < -net) {
			feasible = false
			break
		}
		liquidity += -net
	}
	if feasible {
		return &candidate{
			edges:              edges,
			full:               true,
			binding:            binding,
			valueCleared:       totalValue,
			liquidityUsed:      liquidity,
			earliestSubmission: earliest,
		}
	}

	// Partial clearing at the binding amount: every participant pays and
	// receives the binding amount, so no one needs incremental liquidity.
	// Edges above the binding amount get mechanically split, which requires
	// them to be divisible.
	for _, e := range edges {
		if e.tx.RemainingAmount > binding && !e.tx.Divisible {
			return nil
		}
	}
	return &candidate{
		edges:              edges,
		full:               false,
		binding:            binding,
		valueCleared:       binding * int64(len(edges)),
		liquidityUsed:      0,
		earliestSubmission: earliest,
	}
}

// betterCandidate prefers the most value cleared per unit of liquidity
// consumed, then the earliest submission tick among members.
func betterCandidate(a, b *candidate) bool {
	aZero, bZero := a.liquidityUsed == 0, b.liquidityUsed == 0
	switch {
	case aZero && bZero:
		if a.valueCleared != b.valueCleared {
			return a.valueCleared > b.valueCleared
		}
	case aZero:
		return true
	case bZero:
		return false
	default:
		lhs := a.valueCleared * b.liquidityUsed
		rhs := b.valueCleared * a.liquidityUsed
		if lhs != rhs {
			return lhs > rhs
		}
		if a.valueCleared != b.valueCleared {
			return a.valueCleared > b.valueCleared
		}
	}
	return a.earliestSubmission < b.earliestSubmission
}

func (o *Optimizer) commitCycle(c *candidate, tick int64) ([]domain.Event, error) {
	memberIDs := make([]string, len(c.edges))
	for i, e := range c.edges {
		memberIDs[i] = e.tx.ID.String()
	}
	mode := "partial"
	if c.full {
		mode = "full"
	}
	events := []domain.Event{{
		Tick:   tick,
		Type:   domain.EventCycleSettlement,
		Amount: c.valueCleared,
		Details: map[string]interface{}{
			"transaction_ids": memberIDs,
			"mode":            mode,
			"binding_amount":  c.binding,
			"liquidity_used":  c.liquidityUsed,
			"cycle_length":    len(c.edges),
		},
	}}

	for _, e := range c.edges {
		if c.full || e.tx.RemainingAmount == c.binding {
			ev, err := o.settler.SettleForNetting(e.tx.ID, tick, "cycle")
			if err != nil {
				return events, err
			}
			events = append(events, ev)
			continue
		}
		evs, err := o.partialClear(e, c.binding, tick)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// partialClear mechanically carves the binding amount out of an over-sized
// edge: the cleared child settles now, the remainder child inherits the
// parent's queue position. Mechanical splits charge no split friction; that
// cost is reserved for voluntary splits.
func (o *Optimizer) partialClear(e edge, binding, tick int64) ([]domain.Event, error) {
	parent := e.tx
	childIDs := []uuid.UUID{o.newID(), o.newID()}
	amounts := []int64{binding, parent.RemainingAmount - binding}
	children, err := o.txs.Split(parent.ID, childIDs, amounts, tick)
	if err != nil {
		return nil, err
	}

	declared := e.entry.Priority
	submission := e.entry.SubmissionTick
	for _, c := range children {
		c.AdmitToCentralQueue(declared, tick)
		c.CentralQueueSubmissionTick = &submission
	}
	o.queue.Replace(parent.ID, children[1].ID)
	parent.WithdrawFromCentralQueue()

	ev, err := o.settler.SettleForNetting(children[0].ID, tick, "cycle")
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}
