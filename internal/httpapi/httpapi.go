// Package httpapi is C-unnumbered: the core's one public protocol
// (spec.md §6, "JSON over HTTP ... the only public protocol"). Each
// handler struct owns one concern and exposes RegisterRoutes(mux), the
// same shape the teacher's internal/httpapi package uses for its
// AuthHTTPHandler/TimelineHandler/StreamingHandler.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/auth"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/orchestrator"
)

func marshalEvent(evt orchestrator.StreamEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// envelope is the error body shape from spec.md §6.
type envelope struct {
	Error struct {
		Category   errs.Category `json:"category"`
		Message    string        `json:"message"`
		Suggestion string        `json:"suggestion,omitempty"`
		Retryable  bool          `json:"retryable"`
	} `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the closed error envelope, logging
// anything in the 5xx range at Error and everything else at Debug.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.Internal, "unexpected error", err)
	}
	status := e.HTTPStatus()
	if status >= 500 {
		logger.Error("request failed", zap.String("category", string(e.Category)), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("category", string(e.Category)), zap.Error(err))
	}

	var body envelope
	body.Error.Category = e.Category
	body.Error.Message = e.Message
	body.Error.Suggestion = e.Suggestion
	body.Error.Retryable = e.Retryable()
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errs.New(errs.Validation, "request body required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.Validation, "invalid JSON body", err)
	}
	return nil
}

// identity pulls the authenticated caller out of the request context,
// returning an auth-category error if auth middleware was somehow
// skipped for this route.
func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Identity{}, errs.New(errs.Auth, "missing authenticated identity")
	}
	return id, nil
}

// pathSuffix returns the remainder of r.URL.Path after prefix, or ""
// when the path doesn't have one (used for the teacher's style of
// ServeMux pattern matching before Go 1.22 wildcard routes landed,
// kept here since the core targets plain net/http without a router
// dependency, matching the rest of the retrieved corpus).
func pathSuffix(path, prefix string) string {
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return ""
	}
	return path[len(prefix):]
}
