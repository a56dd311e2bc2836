package httpapi

import (
	"net/http"

	"github.com/triflow-ai/core/internal/audit"
	"github.com/triflow-ai/core/internal/auth"
)

// NewRouter assembles the one public mux of spec.md §6. Health probes
// are registered unauthenticated (an orchestrator's liveness poll
// never carries a bearer token); every other route is wrapped in the
// verifier's middleware and then the audit middleware, matching the
// teacher's gateway-level AuthMiddleware wrapping everything except
// its own health checks.
func NewRouter(verifier *auth.Verifier, auditWriter *audit.Writer, health *HealthHandler, protected ...interface{ RegisterRoutes(*http.ServeMux) }) http.Handler {
	publicMux := http.NewServeMux()
	health.RegisterRoutes(publicMux)

	protectedMux := http.NewServeMux()
	for _, h := range protected {
		h.RegisterRoutes(protectedMux)
	}
	audited := AuditMiddleware(auditWriter, protectedMux)
	authed := verifier.Middleware(audited)

	root := http.NewServeMux()
	root.Handle("/healthz", publicMux)
	root.Handle("/readyz", publicMux)
	root.Handle("/", authed)
	return root
}
