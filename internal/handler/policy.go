package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"rtgsim/internal/policy"
	"rtgsim/pkg/logger"
)

// PolicyHandler exposes static validation of decision trees so scenario
// authors can check trees before submitting a whole scenario.
type PolicyHandler struct {
	logger logger.Logger
}

func NewPolicyHandler(log logger.Logger) *PolicyHandler {
	return &PolicyHandler{logger: log}
}

type validateTreeRequest struct {
	Kind policy.TreeKind `json:"kind"`
	Tree *policy.Node    `json:"tree"`
}

// Validate runs static validation on one tree and returns every issue found.
func (h *PolicyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateTreeRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Kind {
	case policy.TreePayment, policy.TreeCollateral, policy.TreeBankBudget:
	default:
		h.respondError(w, http.StatusBadRequest, "kind must be payment, collateral or bank_budget")
		return
	}

	issues := policy.ValidateTree(req.Kind, req.Tree)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"kind":   req.Kind,
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

func (h *PolicyHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode failed", map[string]interface{}{"error": err.Error()})
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
	}
}

func (h *PolicyHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
