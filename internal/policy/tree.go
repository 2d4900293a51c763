// Package policy implements the interpreted decision-tree language that
// drives participant behavior: tagged-union nodes, a pure top-down evaluator
// over a read-only context snapshot, and static validation of trees loaded
// from external data.
package policy

// TreeKind partitions the action vocabulary. Actions from one kind are
// invalid in trees of another kind; this is enforced by ValidateTree before
// any simulation tick executes.
type TreeKind string

const (
	TreePayment    TreeKind = "payment"
	TreeCollateral TreeKind = "collateral"
	TreeBankBudget TreeKind = "bank_budget"
)

type ActionKind string

// Payment-release actions.
const (
	ActionRelease ActionKind = "release"
	ActionHold    ActionKind = "hold"
	ActionSplit   ActionKind = "split"
)

// Collateral actions.
const (
	ActionPostCollateral     ActionKind = "post_collateral"
	ActionWithdrawCollateral ActionKind = "withdraw_collateral"
	ActionHoldCollateral     ActionKind = "hold_collateral"
)

// Bank-budget actions.
const (
	ActionAllocatePool ActionKind = "allocate_pool"
	ActionDrainPool    ActionKind = "drain_pool"
	ActionHoldBudget   ActionKind = "hold_budget"
)

// Vocabulary returns the allowed action kinds for a tree kind.
func Vocabulary(kind TreeKind) []ActionKind {
	switch kind {
	case TreePayment:
		return []ActionKind{ActionRelease, ActionHold, ActionSplit}
	case TreeCollateral:
		return []ActionKind{ActionPostCollateral, ActionWithdrawCollateral, ActionHoldCollateral}
	case TreeBankBudget:
		return []ActionKind{ActionAllocatePool, ActionDrainPool, ActionHoldBudget}
	default:
		return nil
	}
}

type CompareOp string

const (
	OpLT CompareOp = "lt"
	OpLE CompareOp = "le"
	OpGT CompareOp = "gt"
	OpGE CompareOp = "ge"
	OpEQ CompareOp = "eq"
	OpNE CompareOp = "ne"
)

type ExprOp string

const (
	ExprAdd ExprOp = "add"
	ExprSub ExprOp = "sub"
	ExprMul ExprOp = "mul"
	ExprDiv ExprOp = "div"
	ExprMin ExprOp = "min"
	ExprMax ExprOp = "max"
)

// Node is the tagged union: exactly one of Condition or Action is set. Every
// node carries an id unique within its tree, used for trace and validation
// reporting, never for control flow.
type Node struct {
	ID        string     `json:"id" yaml:"id"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Action    *Action    `json:"action,omitempty" yaml:"action,omitempty"`
}

// Condition compares two operands and descends into one branch.
type Condition struct {
	Left    Operand   `json:"left" yaml:"left"`
	Op      CompareOp `json:"op" yaml:"op"`
	Right   Operand   `json:"right" yaml:"right"`
	OnTrue  *Node     `json:"on_true" yaml:"on_true"`
	OnFalse *Node     `json:"on_false" yaml:"on_false"`
}

// Operand is exactly one of: a named context field, a named configured
// parameter, a literal, or a compute expression.
type Operand struct {
	Field string   `json:"field,omitempty" yaml:"field,omitempty"`
	Param string   `json:"param,omitempty" yaml:"param,omitempty"`
	Value *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Expr  *Expr    `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Expr combines two operands with an arithmetic operator.
type Expr struct {
	Op    ExprOp  `json:"op" yaml:"op"`
	Left  Operand `json:"left" yaml:"left"`
	Right Operand `json:"right" yaml:"right"`
}

// Action is a leaf decision with optional numeric parameters (e.g. split
// count, declared queue priority, collateral amount).
type Action struct {
	Kind   ActionKind         `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param reads a numeric action parameter with a default.
func (a Action) Param(name string, fallback float64) float64 {
	if v, ok := a.Params[name]; ok {
		return v
	}
	return fallback
}

// Context is the immutable snapshot a tree is evaluated against. Fields are
// simulation state (tick, balances, per-transaction timing); Params are the
// scenario's configured cost-rate parameters, shared by all trees.
type Context struct {
	Fields map[string]float64
	Params map[string]float64
}

// Context field names shared by all tree kinds.
const (
	FieldTick                = "tick"
	FieldBalance             = "balance"
	FieldAvailableLiquidity  = "available_liquidity"
	FieldCreditLimit         = "credit_limit"
	FieldPostedCollateral    = "posted_collateral"
	FieldCollateralCap       = "collateral_cap"
	FieldPoolAllocation      = "pool_allocation"
	FieldInternalQueueLength = "internal_queue_length"
	FieldCentralQueueLength  = "central_queue_length"
	FieldTicksToPeriodEnd    = "ticks_to_period_end"
)

// Context field names only present in payment-tree evaluation (per
// obligation).
const (
	FieldAmount          = "amount"
	FieldRemainingAmount = "remaining_amount"
	FieldPriority        = "priority"
	FieldTicksToDeadline = "ticks_to_deadline"
	FieldTicksInQueue    = "ticks_in_queue"
	FieldIsOverdue       = "is_overdue"
)

func commonFields() map[string]bool {
	return map[string]bool{
		FieldTick:                true,
		FieldBalance:             true,
		FieldAvailableLiquidity:  true,
		FieldCreditLimit:         true,
		FieldPostedCollateral:    true,
		FieldCollateralCap:       true,
		FieldPoolAllocation:      true,
		FieldInternalQueueLength: true,
		FieldCentralQueueLength:  true,
		FieldTicksToPeriodEnd:    true,
	}
}

// FieldSet returns the context fields a tree kind may reference.
func FieldSet(kind TreeKind) map[string]bool {
	fields := commonFields()
	if kind == TreePayment {
		for _, f := range []string{
			FieldAmount, FieldRemainingAmount, FieldPriority,
			FieldTicksToDeadline, FieldTicksInQueue, FieldIsOverdue,
		} {
			fields[f] = true
		}
	}
	return fields
}
