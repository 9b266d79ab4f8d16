// Package api exposes the gateway and history services over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatgate/chatgate/internal/auth"
	"github.com/chatgate/chatgate/internal/gateway"
)

const maxRequestBodySize = 1 << 20 // 1MB

// streamDone terminates every SSE stream, complete or interrupted.
const streamDone = "data: [DONE]\n\n"

// RoleLister enumerates the persona roles a chat request may ask for.
type RoleLister interface {
	Available() ([]string, error)
}

// NewGatewayHandler returns the gateway's HTTP surface: the chat endpoint,
// the role listing, and a health probe.
func NewGatewayHandler(orch *gateway.Orchestrator, roles RoleLister, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/api/roles", handleRoles(roles, logger))
	r.Post("/api/chat", handleChat(orch, logger))
	return r
}

// handleRoles lists the persona roles that have a prompt template, so
// clients can offer them instead of guessing.
func handleRoles(roles RoleLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available, err := roles.Available()
		if err != nil {
			logger.Error("listing roles failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list roles")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]string{"roles": available})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(orch *gateway.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req gateway.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Stream {
			streamChat(w, r, orch, req, token, logger)
			return
		}

		resp, err := orch.Handle(r.Context(), req, token)
		if err != nil {
			writeChatError(w, err, logger)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// streamChat drains the orchestrator's chunk channel into an SSE response.
// Each chunk is flushed immediately; the [DONE] sentinel closes a successful
// stream, a mid-stream failure emits a terminal error event instead.
func streamChat(w http.ResponseWriter, r *http.Request, orch *gateway.Orchestrator, req gateway.Request, token string, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	chunks, err := orch.HandleStream(r.Context(), req, token)
	if err != nil {
		writeChatError(w, err, logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range chunks {
		if chunk.Err != nil {
			writeSSE(w, flusher, map[string]string{"error": "Stream interrupted"})
			return
		}
		writeSSE(w, flusher, map[string]string{"chunk": chunk.Text})
	}

	fmt.Fprint(w, streamDone)
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload map[string]string) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeChatError maps orchestrator errors onto the HTTP surface. Upstream
// detail stays in the log; responses carry only stable, generic messages.
func writeChatError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, gateway.ErrEmptyMessage):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message must not be empty")
	case errors.Is(err, auth.ErrUnauthorized):
		httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired token")
	case errors.Is(err, auth.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "service_unavailable", "authentication service unavailable")
	default:
		logger.Error("chat request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "chat processing failed")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
