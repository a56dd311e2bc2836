package httpapi

import (
	"net/http"
	"time"

	"github.com/triflow-ai/core/internal/audit"
	"github.com/triflow-ai/core/internal/auth"
)

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it afterward.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AuditMiddleware records one entry per mutating request (anything but
// GET), the HTTP-level equivalent of the teacher's per-write-call
// QueueWrite — every handler's side effect is attributed to the
// identity auth.Middleware already attached to the request context.
func AuditMiddleware(writer *audit.Writer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		id, _ := auth.FromContext(r.Context())
		writer.Record(r.Context(), audit.Entry{
			UserID:     id.UserID,
			TenantID:   id.TenantID,
			Action:     r.Method,
			Resource:   r.URL.Path,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			DurationMS: time.Since(start).Milliseconds(),
		})
	})
}
