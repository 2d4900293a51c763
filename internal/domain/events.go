package domain

import (
	"github.com/google/uuid"
)

type EventType string

const (
	EventArrival            EventType = "arrival"
	EventDecision           EventType = "decision"
	EventAdmission          EventType = "admission"
	EventSplit              EventType = "split"
	EventSettlement         EventType = "settlement"
	EventBilateralOffset    EventType = "bilateral_offset"
	EventCycleSettlement    EventType = "cycle_settlement"
	EventCostAccrual        EventType = "cost_accrual"
	EventOverdue            EventType = "overdue"
	EventEndOfPeriod        EventType = "end_of_period"
	EventCollateralPost     EventType = "collateral_post"
	EventCollateralWithdraw EventType = "collateral_withdraw"
	EventPoolAllocation     EventType = "pool_allocation"
	EventPoolDrain          EventType = "pool_drain"
)

// Event is one discrete occurrence in a simulation run. The core emits one
// record per occurrence and never batches or summarizes.
type Event struct {
	Tick          int64                  `json:"tick"`
	Type          EventType              `json:"event_type"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	AgentID       string                 `json:"agent_id,omitempty"`
	Amount        int64                  `json:"amount,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// TickEvents is the ordered list of events one tick produced.
type TickEvents struct {
	Tick   int64   `json:"tick"`
	Events []Event `json:"events"`
}

// RunSummary is the flat result record for one finished run, consumed by the
// evaluation cache and the run store.
type RunSummary struct {
	Seed            int64                    `json:"seed"`
	CompletedTicks  int64                    `json:"completed_ticks"`
	SettledCount    int64                    `json:"settled_count"`
	SettledValue    int64                    `json:"settled_value"`
	OverdueCount    int64                    `json:"overdue_count"`
	TotalCost       int64                    `json:"total_cost"`
	AgentBalances   map[string]int64         `json:"agent_balances"`
	AgentCosts      map[string]CostBreakdown `json:"agent_costs"`
	EventCount      int64                    `json:"event_count"`
	UnsettledCount  int64                    `json:"unsettled_count"`
}
