package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/flags"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// FlagsHandler covers C14's per-tenant feature flag overrides.
type FlagsHandler struct {
	store  *store.Store
	flags  *flags.Store
	logger *zap.Logger
}

func NewFlagsHandler(s *store.Store, f *flags.Store, logger *zap.Logger) *FlagsHandler {
	return &FlagsHandler{store: s, flags: f, logger: logger}
}

func (h *FlagsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/feature-flags", h.handleCollection)
	mux.HandleFunc("/feature-flags/", h.handleItem)
}

func (h *FlagsHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	rows, err := h.store.ListFeatureFlags(r.Context(), id.TenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flags": rows})
}

func (h *FlagsHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/feature-flags/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		writeError(w, h.logger, errs.New(errs.NotFound, "feature name required"))
		return
	}
	feature := parts[0]
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
		h.handleGetSet(w, r, id.TenantID, feature)
	case "enable":
		h.handleToggle(w, r, id.TenantID, feature, true)
	case "disable":
		h.handleToggle(w, r, id.TenantID, feature, false)
	case "rollout":
		h.handleRollout(w, r, id.TenantID, feature)
	default:
		writeError(w, h.logger, errs.New(errs.NotFound, "unknown feature flag route"))
	}
}

func (h *FlagsHandler) handleGetSet(w http.ResponseWriter, r *http.Request, tenantID, feature string) {
	switch r.Method {
	case http.MethodGet:
		enabled := h.flags.Enabled(r.Context(), tenantID, feature)
		writeJSON(w, http.StatusOK, map[string]interface{}{"feature": feature, "enabled": enabled})
	case http.MethodPost:
		var body struct {
			Enabled           *bool `json:"enabled"`
			RolloutPercentage int   `json:"rollout_percentage"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		f := &models.FeatureFlag{
			TenantID:          tenantID,
			Feature:           feature,
			Enabled:           body.Enabled,
			RolloutPercentage: body.RolloutPercentage,
		}
		if err := h.store.UpsertFeatureFlag(r.Context(), f); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	default:
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
	}
}

func (h *FlagsHandler) handleToggle(w http.ResponseWriter, r *http.Request, tenantID, feature string, enabled bool) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	existing, err := h.store.GetFeatureFlag(r.Context(), tenantID, feature)
	rollout := 0
	if err == nil && existing != nil {
		rollout = existing.RolloutPercentage
	}
	f := &models.FeatureFlag{
		TenantID:          tenantID,
		Feature:           feature,
		Enabled:           &enabled,
		RolloutPercentage: rollout,
	}
	if err := h.store.UpsertFeatureFlag(r.Context(), f); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FlagsHandler) handleRollout(w http.ResponseWriter, r *http.Request, tenantID, feature string) {
	if r.Method != http.MethodPut {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body struct {
		Percentage int `json:"percentage"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Percentage < 0 || body.Percentage > 100 {
		writeError(w, h.logger, errs.New(errs.Validation, "percentage must be between 0 and 100"))
		return
	}
	f := &models.FeatureFlag{
		TenantID:          tenantID,
		Feature:           feature,
		RolloutPercentage: body.Percentage,
	}
	if err := h.store.UpsertFeatureFlag(r.Context(), f); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
