package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/judgment"
)

// JudgmentHandler covers C8's execute, replay and what-if surface.
type JudgmentHandler struct {
	judgments *judgment.Engine
	logger    *zap.Logger
}

func NewJudgmentHandler(j *judgment.Engine, logger *zap.Logger) *JudgmentHandler {
	return &JudgmentHandler{judgments: j, logger: logger}
}

func (h *JudgmentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/judgment/execute", h.handleExecute)
	mux.HandleFunc("/judgment/replay/batch", h.handleReplayBatch)
	mux.HandleFunc("/judgment/replay/", h.handleReplay)
	mux.HandleFunc("/judgment/what-if/", h.handleWhatIf)
}

func (h *JudgmentHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
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
		RulesetID       string                 `json:"ruleset_id"`
		InputData       map[string]interface{} `json:"input_data"`
		Policy          judgment.Policy        `json:"policy"`
		NeedExplanation bool                   `json:"need_explanation"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.RulesetID == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "ruleset_id required"))
		return
	}
	if body.Policy == "" {
		body.Policy = judgment.PolicyHybridWeighted
	}
	result, err := h.judgments.Evaluate(r.Context(), judgment.Request{
		TenantID:        id.TenantID,
		RulesetID:       body.RulesetID,
		InputData:       body.InputData,
		Policy:          body.Policy,
		NeedExplanation: body.NeedExplanation,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type replayRequest struct {
	UseCurrentRuleset *bool `json:"use_current_ruleset"`
	RulesetVersion    int   `json:"ruleset_version"`
}

func (h *JudgmentHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	executionID := strings.TrimPrefix(r.URL.Path, "/judgment/replay/")
	if executionID == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "execution_id required"))
		return
	}
	var body replayRequest
	_ = decodeJSON(r, &body) // body is optional; defaults below cover a missing one

	useCurrent := true
	if body.UseCurrentRuleset != nil {
		useCurrent = *body.UseCurrentRuleset
	}
	replayed, err := h.judgments.Replay(r.Context(), id.TenantID, executionID, useCurrent)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, replayResponse(replayed))
}

func (h *JudgmentHandler) handleReplayBatch(w http.ResponseWriter, r *http.Request) {
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
		ExecutionIDs      []string `json:"execution_ids"`
		UseCurrentRuleset *bool    `json:"use_current_ruleset"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	useCurrent := true
	if body.UseCurrentRuleset != nil {
		useCurrent = *body.UseCurrentRuleset
	}

	results := make([]map[string]interface{}, 0, len(body.ExecutionIDs))
	for _, execID := range body.ExecutionIDs {
		replayed, err := h.judgments.Replay(r.Context(), id.TenantID, execID, useCurrent)
		if err != nil {
			results = append(results, map[string]interface{}{"execution_id": execID, "error": err.Error()})
			continue
		}
		entry := replayResponse(replayed)
		entry["execution_id"] = execID
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *JudgmentHandler) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	executionID := strings.TrimPrefix(r.URL.Path, "/judgment/what-if/")
	if executionID == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "execution_id required"))
		return
	}
	var body struct {
		InputModifications map[string]interface{} `json:"input_modifications"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	replayed, err := h.judgments.WhatIf(r.Context(), id.TenantID, executionID, body.InputModifications)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"impact": map[string]interface{}{
			"result_changed":    replayed.ResultChanged,
			"confidence_change": replayed.ConfidenceChange,
		},
		"original": replayed.Original,
		"replay":   replayed.Replay,
	})
}

func replayResponse(r *judgment.Replayed) map[string]interface{} {
	return map[string]interface{}{
		"original": r.Original,
		"replay":   r.Replay,
		"comparison": map[string]interface{}{
			"result_changed":    r.ResultChanged,
			"confidence_change": r.ConfidenceChange,
		},
	}
}
