package policy

import (
	"fmt"

	"rtgsim/pkg/errors"
)

// Evaluate walks a validated tree top-down against the snapshot and returns
// exactly one action. Evaluation is pure: no side effects, and total on valid
// trees (division by zero yields zero rather than panicking).
func Evaluate(root *Node, ctx Context) (Action, error) {
	node := root
	for node != nil {
		if node.Action != nil {
			return *node.Action, nil
		}
		if node.Condition == nil {
			return Action{}, fmt.Errorf("node %q: %w", node.ID, errors.ErrTreeNotValidated)
		}
		cond := node.Condition
		left, err := evalOperand(cond.Left, ctx)
		if err != nil {
			return Action{}, fmt.Errorf("node %q: %w", node.ID, err)
		}
		right, err := evalOperand(cond.Right, ctx)
		if err != nil {
			return Action{}, fmt.Errorf("node %q: %w", node.ID, err)
		}
		if compare(cond.Op, left, right) {
			node = cond.OnTrue
		} else {
			node = cond.OnFalse
		}
	}
	return Action{}, errors.ErrTreeNotValidated
}

func evalOperand(op Operand, ctx Context) (float64, error) {
	switch {
	case op.Field != "":
		v, ok := ctx.Fields[op.Field]
		if !ok {
			return 0, fmt.Errorf("field %q: %w", op.Field, errors.ErrUnknownContextField)
		}
		return v, nil
	case op.Param != "":
		// Unset parameters read as zero so trees stay total across scenarios
		// that omit a rate.
		return ctx.Params[op.Param], nil
	case op.Value != nil:
		return *op.Value, nil
	case op.Expr != nil:
		return evalExpr(*op.Expr, ctx)
	default:
		return 0, errors.ErrTreeNotValidated
	}
}

func evalExpr(e Expr, ctx Context) (float64, error) {
	left, err := evalOperand(e.Left, ctx)
	if err != nil {
		return 0, err
	}
	right, err := evalOperand(e.Right, ctx)
	if err != nil {
		return 0, err
	}
	switch e.Op {
	case ExprAdd:
		return left + right, nil
	case ExprSub:
		return left - right, nil
	case ExprMul:
		return left * right, nil
	case ExprDiv:
		if right == 0 {
			return 0, nil
		}
		return left / right, nil
	case ExprMin:
		if left < right {
			return left, nil
		}
		return right, nil
	case ExprMax:
		if left > right {
			return left, nil
		}
		return right, nil
	default:
		return 0, errors.ErrTreeNotValidated
	}
}

func compare(op CompareOp, left, right float64) bool {
	switch op {
	case OpLT:
		return left < right
	case OpLE:
		return left <= right
	case OpGT:
		return left > right
	case OpGE:
		return left >= right
	case OpEQ:
		return left == right
	case OpNE:
		return left != right
	default:
		return false
	}
}
