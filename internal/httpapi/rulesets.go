package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/evaluator"
	"github.com/triflow-ai/core/internal/judgment"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/seed"
	"github.com/triflow-ai/core/internal/store"
)

// RulesetsHandler covers ruleset CRUD, versioning, validation, and the
// ad hoc execute shortcut from spec.md §6.
type RulesetsHandler struct {
	store     *store.Store
	judgments *judgment.Engine
	evalClient evaluator.Evaluator
	logger    *zap.Logger
}

func NewRulesetsHandler(s *store.Store, j *judgment.Engine, evalClient evaluator.Evaluator, logger *zap.Logger) *RulesetsHandler {
	return &RulesetsHandler{store: s, judgments: j, evalClient: evalClient, logger: logger}
}

func (h *RulesetsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rulesets", h.handleCollection)
	mux.HandleFunc("/rulesets/validate", h.handleValidate)
	mux.HandleFunc("/rulesets/", h.handleItem)
}

func (h *RulesetsHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		level := -1
		rows, err := h.store.ListRulesets(r.Context(), id.TenantID, level)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rulesets": rows})
	case http.MethodPost:
		var body struct {
			Name   string `json:"name"`
			Script string `json:"script"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if body.Name == "" || body.Script == "" {
			writeError(w, h.logger, errs.New(errs.Validation, "name and script required"))
			return
		}
		rs := &models.Ruleset{TenantID: id.TenantID, Name: body.Name, ActiveVersion: 1}
		if err := h.store.CreateRuleset(r.Context(), rs); err != nil {
			writeError(w, h.logger, err)
			return
		}
		version := &models.RulesetVersion{RulesetID: rs.ID, Version: 1, Script: body.Script}
		if err := h.store.CreateRulesetVersion(r.Context(), version); err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.seedTenantDefaultsIfNeeded(r.Context(), id.TenantID)
		writeJSON(w, http.StatusOK, rs)
	default:
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
	}
}

// handleItem dispatches every /rulesets/{id}[...] route.
func (h *RulesetsHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/rulesets/")
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

	switch sub {
	case "":
		h.handleGetPatchDelete(w, r, rulesetID)
	case "versions":
		h.handleVersions(w, r, rulesetID)
	case "execute":
		h.handleExecute(w, r, rulesetID)
	default:
		writeError(w, h.logger, errs.New(errs.NotFound, "unknown ruleset route"))
	}
}

func (h *RulesetsHandler) handleGetPatchDelete(w http.ResponseWriter, r *http.Request, rulesetID string) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rs, err := h.store.GetRuleset(r.Context(), id.TenantID, rulesetID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
	case http.MethodPatch:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if body.Name == "" {
			writeError(w, h.logger, errs.New(errs.Validation, "name required"))
			return
		}
		rs, err := h.store.UpdateRulesetName(r.Context(), id.TenantID, rulesetID, body.Name)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
	case http.MethodDelete:
		if err := h.store.DeleteRuleset(r.Context(), id.TenantID, rulesetID); err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
	}
}

func (h *RulesetsHandler) handleVersions(w http.ResponseWriter, r *http.Request, rulesetID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		Script    string `json:"script"`
		Changelog string `json:"changelog"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Script == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "script required"))
		return
	}
	next, err := h.store.NextVersion(r.Context(), rulesetID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	v := &models.RulesetVersion{RulesetID: rulesetID, Version: next, Script: body.Script, Changelog: body.Changelog}
	if err := h.store.CreateRulesetVersion(r.Context(), v); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleValidate dry-runs a script against an empty input so callers
// can catch syntax errors before committing a version, without
// persisting anything or touching the judgment cache.
func (h *RulesetsHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
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
		Script string `json:"script"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Script == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "script required"))
		return
	}
	result, err := h.evalClient.Evaluate(r.Context(), evaluator.Request{
		RulesetID: "validate",
		Script:    body.Script,
		Input:     map[string]interface{}{},
		TenantID:  id.TenantID,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "sample_output": result.Output})
}

func (h *RulesetsHandler) handleExecute(w http.ResponseWriter, r *http.Request, rulesetID string) {
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
		InputData map[string]interface{} `json:"input_data"`
		Policy    judgment.Policy         `json:"policy"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Policy == "" {
		body.Policy = judgment.PolicyHybridWeighted
	}
	result, err := h.judgments.Evaluate(r.Context(), judgment.Request{
		TenantID:  id.TenantID,
		RulesetID: rulesetID,
		InputData: body.InputData,
		Policy:    body.Policy,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// seedTenantDefaultsIfNeeded gives a tenant's first ruleset a usable
// decision matrix and action risk catalogue instead of leaving every
// judgment to fall through to require_approval until an operator
// configures one by hand. Best-effort: a seeding failure never blocks
// ruleset creation, it just logs and leaves the tenant to configure
// manually, the same way a missing seed YAML file falls back silently.
func (h *RulesetsHandler) seedTenantDefaultsIfNeeded(ctx context.Context, tenantID string) {
	count, err := h.store.CountDecisionMatrixRows(ctx, tenantID)
	if err != nil || count > 0 {
		return
	}
	for _, row := range seed.DecisionMatrixRows(tenantID) {
		row := row
		if err := h.store.UpsertDecisionMatrixRow(ctx, &row); err != nil {
			h.logger.Warn("seed decision matrix row", zap.Error(err))
		}
	}
	for _, def := range seed.ActionRiskDefinitions(tenantID) {
		def := def
		if err := h.store.UpsertActionRiskDefinition(ctx, &def); err != nil {
			h.logger.Warn("seed action risk definition", zap.Error(err))
		}
	}
}
