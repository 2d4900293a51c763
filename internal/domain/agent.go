package domain

import (
	"github.com/google/uuid"
)

// Agent is a settlement-network participant. Balance may go negative up to
// the credit limit; posted collateral extends available liquidity; funds
// allocated to the liquidity pool are parked and unavailable for settlement.
type Agent struct {
	ID               string `json:"id"`
	Balance          int64  `json:"balance"`
	CreditLimit      int64  `json:"credit_limit"`
	PostedCollateral int64  `json:"posted_collateral"`
	CollateralCap    int64  `json:"collateral_cap"`
	PoolAllocation   int64  `json:"pool_allocation"`

	// ExternalSource marks designated external-liquidity agents. They settle
	// without a liquidity check, drawing on funds outside the system, so only
	// their flows may move the internal participants' aggregate balance.
	ExternalSource bool `json:"external_source"`

	// InternalQueue holds owned obligations awaiting a release decision, in
	// arrival order. Ids, never pointers.
	InternalQueue []uuid.UUID `json:"internal_queue"`

	Costs CostBreakdown `json:"costs"`
}

// AvailableLiquidity is what the agent can spend right now: balance minus
// pool-parked funds, plus unsecured credit, plus collateral-secured credit.
func (a *Agent) AvailableLiquidity() int64 {
	return a.Balance - a.PoolAllocation + a.CreditLimit + a.PostedCollateral
}

// EnqueueInternal appends an obligation to the internal queue.
func (a *Agent) EnqueueInternal(txID uuid.UUID) {
	a.InternalQueue = append(a.InternalQueue, txID)
}

// DequeueInternal removes an obligation from the internal queue, preserving
// order. Returns false if the id is not queued.
func (a *Agent) DequeueInternal(txID uuid.UUID) bool {
	for i, id := range a.InternalQueue {
		if id == txID {
			a.InternalQueue = append(a.InternalQueue[:i], a.InternalQueue[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceInternal swaps one queued obligation for a run of children at the
// same queue position. Returns false if the id is not queued.
func (a *Agent) ReplaceInternal(txID uuid.UUID, children []uuid.UUID) bool {
	for i, id := range a.InternalQueue {
		if id == txID {
			tail := append([]uuid.UUID{}, a.InternalQueue[i+1:]...)
			a.InternalQueue = append(a.InternalQueue[:i], children...)
			a.InternalQueue = append(a.InternalQueue, tail...)
			return true
		}
	}
	return false
}

// CostBreakdown accumulates an agent's economic penalties, all int64 minor
// units, fractional accruals floored.
type CostBreakdown struct {
	Overdraft             int64 `json:"overdraft"`
	Delay                 int64 `json:"delay"`
	CollateralOpportunity int64 `json:"collateral_opportunity"`
	PoolOpportunity       int64 `json:"pool_opportunity"`
	DeadlineMiss          int64 `json:"deadline_miss"`
	SplitFriction         int64 `json:"split_friction"`
	EndOfPeriod           int64 `json:"end_of_period"`
}

func (c CostBreakdown) Total() int64 {
	return c.Overdraft + c.Delay + c.CollateralOpportunity + c.PoolOpportunity +
		c.DeadlineMiss + c.SplitFriction + c.EndOfPeriod
}
