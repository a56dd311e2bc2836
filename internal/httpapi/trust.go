package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
	"github.com/triflow-ai/core/internal/trust"
)

// TrustHandler covers C7's scoring, transition, and override surface.
type TrustHandler struct {
	store  *store.Store
	trust  *trust.Engine
	logger *zap.Logger
}

func NewTrustHandler(s *store.Store, t *trust.Engine, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{store: s, trust: t, logger: logger}
}

func (h *TrustHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/trust/evaluate/batch", h.handleEvaluateBatch)
	mux.HandleFunc("/trust/rules/", h.handleItem)
}

func (h *TrustHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/trust/rules/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		writeError(w, h.logger, errs.New(errs.NotFound, "ruleset id required"))
		return
	}
	rulesetID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch sub {
	case "":
		h.handleGet(w, r, id.TenantID, rulesetID)
	case "calculate":
		h.handleCalculate(w, r, id.TenantID, rulesetID)
	case "level":
		h.handleSetLevel(w, r, id.TenantID, rulesetID)
	case "history":
		h.handleHistory(w, r, rulesetID)
	default:
		writeError(w, h.logger, errs.New(errs.NotFound, "unknown trust route"))
	}
}

func (h *TrustHandler) handleGet(w http.ResponseWriter, r *http.Request, tenantID, rulesetID string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	rs, err := h.store.GetRuleset(r.Context(), tenantID, rulesetID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// handleCalculate scores the ruleset and, if the score crosses a
// threshold, drives the promotion/demotion transition through the
// trust engine (spec.md §4.7's auto-triggered evaluation made
// callable on demand).
func (h *TrustHandler) handleCalculate(w http.ResponseWriter, r *http.Request, tenantID, rulesetID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	rs, err := h.trust.Evaluate(r.Context(), tenantID, rulesetID, models.TriggeredManual, "manual recalculation")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *TrustHandler) handleSetLevel(w http.ResponseWriter, r *http.Request, tenantID, rulesetID string) {
	if r.Method != http.MethodPatch {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		Level  models.TrustLevel `json:"level"`
		Reason string            `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Reason == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "reason required for a manual override"))
		return
	}
	rs, err := h.trust.SetLevel(r.Context(), tenantID, rulesetID, body.Level, body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *TrustHandler) handleHistory(w http.ResponseWriter, r *http.Request, rulesetID string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	rows, err := h.store.TrustHistoryForRuleset(r.Context(), rulesetID, 100)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": rows})
}

func (h *TrustHandler) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var body struct {
		RulesetIDs []string `json:"ruleset_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	results := make([]map[string]interface{}, 0, len(body.RulesetIDs))
	for _, rulesetID := range body.RulesetIDs {
		rs, err := h.trust.Evaluate(r.Context(), id.TenantID, rulesetID, models.TriggeredManual, "batch recalculation")
		if err != nil {
			results = append(results, map[string]interface{}{"ruleset_id": rulesetID, "error": err.Error()})
			continue
		}
		results = append(results, map[string]interface{}{"ruleset_id": rulesetID, "ruleset": rs})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
