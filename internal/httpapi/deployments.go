package httpapi

import (
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/deployment"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// DeploymentsHandler covers C12's state machine over HTTP.
type DeploymentsHandler struct {
	store    *store.Store
	deployer *deployment.Controller
	logger   *zap.Logger
}

func NewDeploymentsHandler(s *store.Store, d *deployment.Controller, logger *zap.Logger) *DeploymentsHandler {
	return &DeploymentsHandler{store: s, deployer: d, logger: logger}
}

func (h *DeploymentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/deployments", h.handleCreate)
	mux.HandleFunc("/deployments/", h.handleItem)
}

func (h *DeploymentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	if _, err := identity(r); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var body struct {
		RulesetID            string                       `json:"ruleset_id"`
		TargetVersion        int                          `json:"target_version"`
		PreviousVersion      int                          `json:"previous_version"`
		CanaryConfig         models.CanaryConfig           `json:"canary_config"`
		CompensationStrategy models.CompensationStrategy  `json:"compensation_strategy"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.RulesetID == "" || body.TargetVersion == 0 {
		writeError(w, h.logger, errs.New(errs.Validation, "ruleset_id and target_version required"))
		return
	}
	if body.CompensationStrategy == "" {
		body.CompensationStrategy = models.CompensationMarkAndReprocess
	}

	d := &models.Deployment{
		RulesetID:            body.RulesetID,
		Status:               models.StatusDraft,
		TargetVersion:        body.TargetVersion,
		PreviousVersion:      body.PreviousVersion,
		CanaryConfig:         body.CanaryConfig,
		CompensationStrategy: body.CompensationStrategy,
	}
	err := h.store.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.store.CreateDeployment(r.Context(), tx, d)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeploymentsHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/deployments/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		writeError(w, h.logger, errs.New(errs.NotFound, "deployment id required"))
		return
	}
	deploymentID := parts[0]
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
		h.handleGet(w, r, deploymentID)
	case "start-canary":
		h.handleStartCanary(w, r, id.TenantID, deploymentID)
	case "traffic":
		h.handleTraffic(w, r, deploymentID)
	case "promote":
		h.handlePromote(w, r, id.TenantID, deploymentID)
	case "rollback":
		h.handleRollback(w, r, id.TenantID, deploymentID)
	case "metrics":
		h.handleMetrics(w, r, deploymentID)
	case "health":
		h.handleHealth(w, r, deploymentID)
	default:
		writeError(w, h.logger, errs.New(errs.NotFound, "unknown deployment route"))
	}
}

func (h *DeploymentsHandler) handleGet(w http.ResponseWriter, r *http.Request, deploymentID string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	d, err := h.store.GetDeployment(r.Context(), deploymentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeploymentsHandler) handleStartCanary(w http.ResponseWriter, r *http.Request, tenantID, deploymentID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		CanaryPct int `json:"canary_pct"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	note, err := h.deployer.StartCanary(r.Context(), tenantID, deploymentID, body.CanaryPct)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *DeploymentsHandler) handleTraffic(w http.ResponseWriter, r *http.Request, deploymentID string) {
	if r.Method != http.MethodPut {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		TrafficPercentage int `json:"traffic_percentage"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	note, err := h.deployer.SetTraffic(r.Context(), deploymentID, body.TrafficPercentage)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *DeploymentsHandler) handlePromote(w http.ResponseWriter, r *http.Request, tenantID, deploymentID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	note, err := h.deployer.Promote(r.Context(), tenantID, deploymentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *DeploymentsHandler) handleRollback(w http.ResponseWriter, r *http.Request, tenantID, deploymentID string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		Reason            string `json:"reason"`
		ApplyCompensation bool   `json:"apply_compensation"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	note, err := h.deployer.Rollback(r.Context(), tenantID, deploymentID, body.Reason, models.TriggeredManual)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *DeploymentsHandler) handleMetrics(w http.ResponseWriter, r *http.Request, deploymentID string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	canaryWindow, stableWindow, err := h.store.LatestMetricsWindows(r.Context(), deploymentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"canary": canaryWindow, "stable": stableWindow})
}

func (h *DeploymentsHandler) handleHealth(w http.ResponseWriter, r *http.Request, deploymentID string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	d, err := h.store.GetDeployment(r.Context(), deploymentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	canaryWindow, stableWindow, err := h.store.LatestMetricsWindows(r.Context(), deploymentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        d.Status,
		"canary_window": canaryWindow,
		"stable_window": stableWindow,
	})
}
