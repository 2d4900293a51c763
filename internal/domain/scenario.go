package domain

import (
	"github.com/shopspring/decimal"

	"rtgsim/internal/policy"
)

// ScenarioConfig is the declarative record the core consumes: agents, cost
// rates and run parameters. File parsing lives outside the core (see
// internal/scenario); the engine treats this struct as opaque input data.
type ScenarioConfig struct {
	Name         string `json:"name"`
	Seed         int64  `json:"seed"`
	HorizonTicks int64  `json:"horizon_ticks"`

	// PeriodLength > 0 enables end-of-period penalties every PeriodLength
	// ticks; 0 disables them.
	PeriodLength int64 `json:"period_length"`

	// MaxCycleLength bounds the LSM cycle search. 0 disables cycle clearing;
	// bilateral offsets use their own switch below.
	MaxCycleLength   int  `json:"max_cycle_length"`
	BilateralOffsets bool `json:"bilateral_offsets"`

	Rates    CostRates     `json:"rates"`
	Arrivals ArrivalConfig `json:"arrivals"`
	Agents   []AgentConfig `json:"agents"`

	// PolicyParams are named numeric parameters decision trees may reference
	// alongside the cost rates (operand kind "param").
	PolicyParams map[string]float64 `json:"policy_params,omitempty"`
}

// CostRates holds the externally-configured cost parameters. Recurring rates
// are decimals applied per tick to integer amounts; results floor to int64.
type CostRates struct {
	OverdraftRate     decimal.Decimal `json:"overdraft_rate" validate:"nonnegative_rate"`
	InternalDelayRate decimal.Decimal `json:"internal_delay_rate" validate:"nonnegative_rate"`
	CentralDelayRate  decimal.Decimal `json:"central_delay_rate" validate:"nonnegative_rate"`
	OverdueMultiplier decimal.Decimal `json:"overdue_multiplier" validate:"nonnegative_rate"`

	// Priority-band delay multipliers: low 0-3, mid 4-7, high 8-10.
	LowBandMultiplier  decimal.Decimal `json:"low_band_multiplier" validate:"nonnegative_rate"`
	MidBandMultiplier  decimal.Decimal `json:"mid_band_multiplier" validate:"nonnegative_rate"`
	HighBandMultiplier decimal.Decimal `json:"high_band_multiplier" validate:"nonnegative_rate"`

	CollateralRate decimal.Decimal `json:"collateral_rate" validate:"nonnegative_rate"`
	PoolRate       decimal.Decimal `json:"pool_rate" validate:"nonnegative_rate"`

	DeadlineMissPenalty int64 `json:"deadline_miss_penalty"`
	SplitFrictionCost   int64 `json:"split_friction_cost"`
	EndOfPeriodPenalty  int64 `json:"end_of_period_penalty"`
}

// BandMultiplier maps a priority to its delay-cost band multiplier.
func (r CostRates) BandMultiplier(priority int) decimal.Decimal {
	switch {
	case priority <= 3:
		return r.LowBandMultiplier
	case priority <= 7:
		return r.MidBandMultiplier
	default:
		return r.HighBandMultiplier
	}
}

// DefaultCostRates returns neutral multipliers and zero rates; scenarios
// override what they care about.
func DefaultCostRates() CostRates {
	one := decimal.NewFromInt(1)
	return CostRates{
		OverdraftRate:      decimal.Zero,
		InternalDelayRate:  decimal.Zero,
		CentralDelayRate:   decimal.Zero,
		OverdueMultiplier:  one,
		LowBandMultiplier:  one,
		MidBandMultiplier:  one,
		HighBandMultiplier: one,
		CollateralRate:     decimal.Zero,
		PoolRate:           decimal.Zero,
	}
}

// ArrivalConfig drives the deterministic arrival generator. Rate is a
// per-agent, per-tick Bernoulli probability drawn from the seeded stream.
type ArrivalConfig struct {
	Rate              float64 `json:"rate"`
	MinAmount         int64   `json:"min_amount"`
	MaxAmount         int64   `json:"max_amount"`
	MinDeadlineOffset int64   `json:"min_deadline_offset"`
	MaxDeadlineOffset int64   `json:"max_deadline_offset"`
	MinPriority       int     `json:"min_priority"`
	MaxPriority       int     `json:"max_priority"`
	Divisible         bool    `json:"divisible"`
}

// AgentConfig declares one participant and its decision trees.
type AgentConfig struct {
	ID               string `json:"id"`
	Balance          int64  `json:"balance"`
	CreditLimit      int64  `json:"credit_limit"`
	PostedCollateral int64  `json:"posted_collateral"`
	CollateralCap    int64  `json:"collateral_cap"`
	ExternalSource   bool   `json:"external_source"`

	Policies PolicySet `json:"policies"`
}

// PolicySet carries one tree per decision domain. Payment is required for
// agents that originate transactions; the others are optional.
type PolicySet struct {
	Payment    *policy.Node `json:"payment,omitempty"`
	Collateral *policy.Node `json:"collateral,omitempty"`
	BankBudget *policy.Node `json:"bank_budget,omitempty"`
}
