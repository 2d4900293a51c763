// Package scenario parses declarative YAML scenario documents into the
// config records the core engine consumes. The core itself never sees file
// formats; this package is the boundary where text becomes data.
package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rtgsim/internal/domain"
	"rtgsim/internal/engine"
	"rtgsim/internal/policy"
	"rtgsim/pkg/errors"
	"rtgsim/pkg/validator"
)

type document struct {
	Name             string             `yaml:"name" validate:"required"`
	Seed             int64              `yaml:"seed"`
	HorizonTicks     int64              `yaml:"horizon_ticks" validate:"gt=0"`
	PeriodLength     int64              `yaml:"period_length" validate:"min=0"`
	MaxCycleLength   int                `yaml:"max_cycle_length" validate:"min=0"`
	BilateralOffsets bool               `yaml:"bilateral_offsets"`
	Rates            ratesDoc           `yaml:"rates"`
	Arrivals         arrivalsDoc        `yaml:"arrivals"`
	Agents           []agentDoc         `yaml:"agents" validate:"required,min=1,dive"`
	PolicyParams     map[string]float64 `yaml:"policy_params"`
}

// ratesDoc carries decimal rates as strings; empty fields keep the neutral
// defaults.
type ratesDoc struct {
	OverdraftRate      string `yaml:"overdraft_rate"`
	InternalDelayRate  string `yaml:"internal_delay_rate"`
	CentralDelayRate   string `yaml:"central_delay_rate"`
	OverdueMultiplier  string `yaml:"overdue_multiplier"`
	LowBandMultiplier  string `yaml:"low_band_multiplier"`
	MidBandMultiplier  string `yaml:"mid_band_multiplier"`
	HighBandMultiplier string `yaml:"high_band_multiplier"`
	CollateralRate     string `yaml:"collateral_rate"`
	PoolRate           string `yaml:"pool_rate"`

	DeadlineMissPenalty int64 `yaml:"deadline_miss_penalty" validate:"min=0"`
	SplitFrictionCost   int64 `yaml:"split_friction_cost" validate:"min=0"`
	EndOfPeriodPenalty  int64 `yaml:"end_of_period_penalty" validate:"min=0"`
}

type arrivalsDoc struct {
	Rate              float64 `yaml:"rate" validate:"min=0,max=1"`
	MinAmount         int64   `yaml:"min_amount" validate:"min=0"`
	MaxAmount         int64   `yaml:"max_amount" validate:"min=0"`
	MinDeadlineOffset int64   `yaml:"min_deadline_offset" validate:"min=0"`
	MaxDeadlineOffset int64   `yaml:"max_deadline_offset" validate:"min=0"`
	MinPriority       int     `yaml:"min_priority" validate:"min=0,max=10"`
	MaxPriority       int     `yaml:"max_priority" validate:"min=0,max=10"`
	Divisible         bool    `yaml:"divisible"`
}

// validate applies the cross-field arrival constraints tags cannot express.
// The bounds only matter when the generator is active: every generated
// obligation needs a positive amount and a deadline after its arrival.
func (a arrivalsDoc) validate() error {
	if a.Rate <= 0 {
		return nil
	}
	if a.MinAmount < 1 {
		return fmt.Errorf("arrivals min_amount must be at least 1 when rate is positive")
	}
	if a.MaxAmount < a.MinAmount {
		return fmt.Errorf("arrivals max_amount must not be below min_amount")
	}
	if a.MinDeadlineOffset < 1 {
		return fmt.Errorf("arrivals min_deadline_offset must be at least 1 when rate is positive")
	}
	if a.MaxDeadlineOffset < a.MinDeadlineOffset {
		return fmt.Errorf("arrivals max_deadline_offset must not be below min_deadline_offset")
	}
	if a.MaxPriority < a.MinPriority {
		return fmt.Errorf("arrivals max_priority must not be below min_priority")
	}
	return nil
}

type agentDoc struct {
	ID               string     `yaml:"id" validate:"required"`
	Balance          int64      `yaml:"balance"`
	CreditLimit      int64      `yaml:"credit_limit" validate:"min=0"`
	PostedCollateral int64      `yaml:"posted_collateral" validate:"min=0"`
	CollateralCap    int64      `yaml:"collateral_cap" validate:"min=0"`
	ExternalSource   bool       `yaml:"external_source"`
	Policies         policyDocs `yaml:"policies"`
}

type policyDocs struct {
	Payment    *policy.Node `yaml:"payment"`
	Collateral *policy.Node `yaml:"collateral"`
	BankBudget *policy.Node `yaml:"bank_budget"`
}

// Parse decodes, validates and converts a scenario document. Policy trees
// are statically validated here as well, so a bad scenario never reaches the
// engine.
func Parse(data []byte) (*domain.ScenarioConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "scenario yaml decode failed")
	}
	v := validator.New()
	if err := v.Validate(&doc); err != nil {
		return nil, errors.Wrap(err, "scenario document invalid")
	}
	if err := doc.Arrivals.validate(); err != nil {
		return nil, err
	}

	rates, err := doc.Rates.toDomain(v)
	if err != nil {
		return nil, err
	}

	cfg := &domain.ScenarioConfig{
		Name:             doc.Name,
		Seed:             doc.Seed,
		HorizonTicks:     doc.HorizonTicks,
		PeriodLength:     doc.PeriodLength,
		MaxCycleLength:   doc.MaxCycleLength,
		BilateralOffsets: doc.BilateralOffsets,
		Rates:            rates,
		Arrivals: domain.ArrivalConfig{
			Rate:              doc.Arrivals.Rate,
			MinAmount:         doc.Arrivals.MinAmount,
			MaxAmount:         doc.Arrivals.MaxAmount,
			MinDeadlineOffset: doc.Arrivals.MinDeadlineOffset,
			MaxDeadlineOffset: doc.Arrivals.MaxDeadlineOffset,
			MinPriority:       doc.Arrivals.MinPriority,
			MaxPriority:       doc.Arrivals.MaxPriority,
			Divisible:         doc.Arrivals.Divisible,
		},
		PolicyParams: doc.PolicyParams,
	}
	for _, a := range doc.Agents {
		cfg.Agents = append(cfg.Agents, domain.AgentConfig{
			ID:               a.ID,
			Balance:          a.Balance,
			CreditLimit:      a.CreditLimit,
			PostedCollateral: a.PostedCollateral,
			CollateralCap:    a.CollateralCap,
			ExternalSource:   a.ExternalSource,
			Policies: domain.PolicySet{
				Payment:    a.Policies.Payment,
				Collateral: a.Policies.Collateral,
				BankBudget: a.Policies.BankBudget,
			},
		})
	}

	if err := engine.ValidatePolicies(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a scenario file.
func LoadFile(path string) (*domain.ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "scenario file read failed")
	}
	return Parse(data)
}

// Hash fingerprints scenario content for the evaluation cache key.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r ratesDoc) toDomain(v *validator.Validator) (domain.CostRates, error) {
	rates := domain.DefaultCostRates()
	fields := []struct {
		raw  string
		dest *decimal.Decimal
		name string
	}{
		{r.OverdraftRate, &rates.OverdraftRate, "overdraft_rate"},
		{r.InternalDelayRate, &rates.InternalDelayRate, "internal_delay_rate"},
		{r.CentralDelayRate, &rates.CentralDelayRate, "central_delay_rate"},
		{r.OverdueMultiplier, &rates.OverdueMultiplier, "overdue_multiplier"},
		{r.LowBandMultiplier, &rates.LowBandMultiplier, "low_band_multiplier"},
		{r.MidBandMultiplier, &rates.MidBandMultiplier, "mid_band_multiplier"},
		{r.HighBandMultiplier, &rates.HighBandMultiplier, "high_band_multiplier"},
		{r.CollateralRate, &rates.CollateralRate, "collateral_rate"},
		{r.PoolRate, &rates.PoolRate, "pool_rate"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return rates, errors.Wrap(err, fmt.Sprintf("rate %s", f.name))
		}
		*f.dest = d
	}
	rates.DeadlineMissPenalty = r.DeadlineMissPenalty
	rates.SplitFrictionCost = r.SplitFrictionCost
	rates.EndOfPeriodPenalty = r.EndOfPeriodPenalty

	// Sign checks run against the converted decimals; builtin numeric tags
	// cannot see through decimal.Decimal.
	if err := v.Validate(&rates); err != nil {
		return rates, errors.Wrap(err, "rates invalid")
	}
	return rates, nil
}
