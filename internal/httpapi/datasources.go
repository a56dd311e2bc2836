package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/datasource"
	"github.com/triflow-ai/core/internal/errs"
)

// DataSourcesHandler covers registration and health probing of external
// MES/ERP connection records.
type DataSourcesHandler struct {
	registry *datasource.Registry
	logger   *zap.Logger
}

func NewDataSourcesHandler(r *datasource.Registry, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{registry: r, logger: logger}
}

func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/data-sources", h.handleCollection)
	mux.HandleFunc("/data-sources/", h.handleItem)
}

type dataSourceCreateRequest struct {
	Name         string                      `json:"name"`
	SourceType   string                      `json:"source_type"`
	SourceSystem string                      `json:"source_system"`
	Connection   datasource.ConnectionConfig `json:"connection"`
}

func (h *DataSourcesHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sourceType := r.URL.Query().Get("source_type")
		rows, err := h.registry.List(r.Context(), id.TenantID, sourceType)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data_sources": rows})
	case http.MethodPost:
		var body dataSourceCreateRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if body.Name == "" || body.SourceType == "" {
			writeError(w, h.logger, errs.New(errs.Validation, "name and source_type required"))
			return
		}
		d, err := h.registry.Register(r.Context(), id.TenantID, body.Name, body.SourceType, body.SourceSystem, body.Connection)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
	}
}

func (h *DataSourcesHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/data-sources/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		writeError(w, h.logger, errs.New(errs.NotFound, "data source id required"))
		return
	}
	sourceID := parts[0]
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
		h.handleGetDelete(w, r, id.TenantID, sourceID)
	case "rotate":
		h.handleRotate(w, r, id.TenantID, sourceID)
	case "health":
		h.handleHealth(w, r, id.TenantID, sourceID)
	default:
		writeError(w, h.logger, errs.New(errs.NotFound, "unknown data source route"))
	}
}

func (h *DataSourcesHandler) handleGetDelete(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	switch r.Method {
	case http.MethodGet:
		d, err := h.registry.Get(r.Context(), tenantID, id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodDelete:
		if err := h.registry.Deactivate(r.Context(), tenantID, id); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"deactivated": true})
	default:
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
	}
}

func (h *DataSourcesHandler) handleRotate(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	var body datasource.ConnectionConfig
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.registry.Rotate(r.Context(), tenantID, id, body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rotated": true})
}

func (h *DataSourcesHandler) handleHealth(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	result, err := h.registry.CheckHealth(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
