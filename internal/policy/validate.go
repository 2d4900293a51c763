package policy

import (
	"fmt"
	"strings"
)

// Issue names one defect found by static validation, precise enough for an
// external caller to correct automatically.
type Issue struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// ValidationError carries the full issue list; validation never fails fast on
// the first node so a caller can fix everything in one round trip.
type ValidationError struct {
	Kind   TreeKind `json:"kind"`
	Issues []Issue  `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("node %q: %s", is.NodeID, is.Reason))
	}
	return fmt.Sprintf("%s tree invalid: %s", e.Kind, strings.Join(parts, "; "))
}

// ValidateTree statically checks a tree against its kind's action vocabulary
// and field set. Called once before any simulation tick, never per tick.
func ValidateTree(kind TreeKind, root *Node) []Issue {
	var issues []Issue
	if Vocabulary(kind) == nil {
		return []Issue{{NodeID: "", Reason: fmt.Sprintf("unknown tree kind %q", kind)}}
	}
	if root == nil {
		return []Issue{{NodeID: "", Reason: "tree has no root node"}}
	}
	seen := make(map[string]bool)
	validateNode(kind, root, seen, &issues)
	return issues
}

func validateNode(kind TreeKind, node *Node, seen map[string]bool, issues *[]Issue) {
	if node == nil {
		return
	}
	if node.ID == "" {
		*issues = append(*issues, Issue{NodeID: "", Reason: "node is missing an id"})
	} else if seen[node.ID] {
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: "node id is not unique within the tree"})
	}
	seen[node.ID] = true

	switch {
	case node.Condition != nil && node.Action != nil:
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: "node has both a condition and an action"})
	case node.Condition == nil && node.Action == nil:
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: "node has neither a condition nor an action"})
	case node.Action != nil:
		validateAction(kind, node, issues)
	default:
		validateCondition(kind, node, seen, issues)
	}
}

func validateAction(kind TreeKind, node *Node, issues *[]Issue) {
	allowed := Vocabulary(kind)
	for _, k := range allowed {
		if node.Action.Kind == k {
			validateActionParams(node, issues)
			return
		}
	}
	names := make([]string, len(allowed))
	for i, k := range allowed {
		names[i] = string(k)
	}
	*issues = append(*issues, Issue{
		NodeID: node.ID,
		Reason: fmt.Sprintf("action %q is not allowed in a %q tree (allowed: %s)",
			node.Action.Kind, kind, strings.Join(names, ", ")),
	})
}

func validateActionParams(node *Node, issues *[]Issue) {
	a := node.Action
	switch a.Kind {
	case ActionSplit:
		if a.Param("count", 0) < 2 {
			*issues = append(*issues, Issue{NodeID: node.ID, Reason: "split action requires params.count >= 2"})
		}
	case ActionPostCollateral, ActionWithdrawCollateral:
		if a.Param("amount", -1) < 0 {
			*issues = append(*issues, Issue{NodeID: node.ID, Reason: fmt.Sprintf("%s action requires params.amount >= 0", a.Kind)})
		}
	case ActionAllocatePool, ActionDrainPool:
		f := a.Param("fraction", -1)
		if f < 0 || f > 1 {
			*issues = append(*issues, Issue{NodeID: node.ID, Reason: fmt.Sprintf("%s action requires params.fraction in [0,1]", a.Kind)})
		}
	}
}

func validateCondition(kind TreeKind, node *Node, seen map[string]bool, issues *[]Issue) {
	cond := node.Condition
	switch cond.Op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE:
	default:
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: fmt.Sprintf("unknown comparison operator %q", cond.Op)})
	}
	validateOperand(kind, node.ID, cond.Left, issues)
	validateOperand(kind, node.ID, cond.Right, issues)
	if cond.OnTrue == nil {
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: "condition is missing its on_true branch"})
	}
	if cond.OnFalse == nil {
		*issues = append(*issues, Issue{NodeID: node.ID, Reason: "condition is missing its on_false branch"})
	}
	validateNode(kind, cond.OnTrue, seen, issues)
	validateNode(kind, cond.OnFalse, seen, issues)
}

func validateOperand(kind TreeKind, nodeID string, op Operand, issues *[]Issue) {
	set := 0
	if op.Field != "" {
		set++
	}
	if op.Param != "" {
		set++
	}
	if op.Value != nil {
		set++
	}
	if op.Expr != nil {
		set++
	}
	if set != 1 {
		*issues = append(*issues, Issue{NodeID: nodeID, Reason: "operand must set exactly one of field, param, value, expr"})
		return
	}
	if op.Field != "" && !FieldSet(kind)[op.Field] {
		*issues = append(*issues, Issue{
			NodeID: nodeID,
			Reason: fmt.Sprintf("field %q is not available in a %q tree context", op.Field, kind),
		})
	}
	if op.Expr != nil {
		switch op.Expr.Op {
		case ExprAdd, ExprSub, ExprMul, ExprDiv, ExprMin, ExprMax:
		default:
			*issues = append(*issues, Issue{NodeID: nodeID, Reason: fmt.Sprintf("unknown expression operator %q", op.Expr.Op)})
		}
		validateOperand(kind, nodeID, op.Expr.Left, issues)
		validateOperand(kind, nodeID, op.Expr.Right, issues)
	}
}
