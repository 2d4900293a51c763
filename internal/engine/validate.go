package engine

import (
	"fmt"
	"strings"

	"rtgsim/internal/domain"
	"rtgsim/internal/policy"
)

// AgentPolicyIssue locates one static-validation defect: which agent, which
// tree, which node.
type AgentPolicyIssue struct {
	AgentID string          `json:"agent_id"`
	Kind    policy.TreeKind `json:"kind"`
	Issue   policy.Issue    `json:"issue"`
}

// PolicyValidationError aggregates every issue across every agent's trees so
// a caller driving automated policy generation can fix them in one round
// trip.
type PolicyValidationError struct {
	Issues []AgentPolicyIssue `json:"issues"`
}

func (e *PolicyValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("agent %s, %s tree, node %q: %s",
			is.AgentID, is.Kind, is.Issue.NodeID, is.Issue.Reason))
	}
	return "policy validation failed: " + strings.Join(parts, "; ")
}

// ValidatePolicies statically validates every tree in the scenario. Returns
// nil when everything passes.
func ValidatePolicies(cfg domain.ScenarioConfig) error {
	var all []AgentPolicyIssue
	for _, ac := range cfg.Agents {
		trees := []struct {
			kind policy.TreeKind
			root *policy.Node
		}{
			{policy.TreePayment, ac.Policies.Payment},
			{policy.TreeCollateral, ac.Policies.Collateral},
			{policy.TreeBankBudget, ac.Policies.BankBudget},
		}
		for _, t := range trees {
			if t.root == nil {
				continue
			}
			for _, issue := range policy.ValidateTree(t.kind, t.root) {
				all = append(all, AgentPolicyIssue{AgentID: ac.ID, Kind: t.kind, Issue: issue})
			}
		}
	}
	if len(all) == 0 {
		return nil
	}
	return &PolicyValidationError{Issues: all}
}
