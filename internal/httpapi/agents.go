package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/orchestrator"
)

// upgrader follows the teacher's dev-friendly CheckOrigin (a reverse
// proxy is expected to enforce origin in production).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AgentsHandler exposes C6's routing over HTTP, including the
// streaming variant.
type AgentsHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewAgentsHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{orch: orch, logger: logger}
}

func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/agents/chat", h.handleChat)
	mux.HandleFunc("/agents/chat/stream", h.handleChatStream)
	mux.HandleFunc("/agents/chat/ws", h.handleChatWS)
}

type chatRequest struct {
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	SessionID string                 `json:"session_id"`
}

func (h *AgentsHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Message == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "message required"))
		return
	}

	result, err := h.orch.Route(r.Context(), orchestrator.Request{
		TenantID:  id.TenantID,
		Role:      id.Role,
		Utterance: req.Message,
		Context:   req.Context,
		Identifier: canary.Identifiers{
			Session: req.SessionID,
			User:    id.UserID,
		},
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleChatStream serves the event sequence of spec.md §4.3 as SSE,
// matching the teacher's StreamingHandler.handleSSE framing (id:/
// event:/data: lines and a flush per event); no heartbeat is sent
// between events.
func (h *AgentsHandler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, errs.New(errs.Validation, "method not allowed"))
		return
	}
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Message == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "message required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, errs.New(errs.Internal, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := h.orch.StreamRoute(r.Context(), orchestrator.Request{
		TenantID:  id.TenantID,
		Role:      id.Role,
		Utterance: req.Message,
		Context:   req.Context,
		Identifier: canary.Identifiers{
			Session: req.SessionID,
			User:    id.UserID,
		},
	})

	for evt := range ch {
		payload, err := marshalEvent(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// handleChatWS is the WebSocket variant of handleChatStream for
// callers that want a bidirectional connection instead of one-shot
// SSE, following the teacher's handleWS reader/writer pump split
// (minus replay-from-stream-ID resume, since a routed chat call here
// has no durable event log to resume from — each connection is one
// request's event sequence, not a subscription to a long-lived
// workflow).
func (h *AgentsHandler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	message := r.URL.Query().Get("message")
	if message == "" {
		writeError(w, h.logger, errs.New(errs.Validation, "message query parameter required"))
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := h.orch.StreamRoute(r.Context(), orchestrator.Request{
		TenantID:  id.TenantID,
		Role:      id.Role,
		Utterance: message,
		Identifier: canary.Identifiers{
			Session: sessionID,
			User:    id.UserID,
		},
	})

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
