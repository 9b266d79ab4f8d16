package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatgate/chatgate/internal/storage"
)

// NewHistoryHandler returns the consumer service's HTTP surface: the bounded
// recent-history read and a health probe.
func NewHistoryHandler(store storage.HistoryStore, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/history/{userID}", handleHistory(store, logger))
	return r
}

func handleHistory(store storage.HistoryStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user id is required")
			return
		}

		history, err := store.RecentHistory(r.Context(), userID, storage.DefaultHistoryLimit)
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				httpError(w, http.StatusServiceUnavailable, "service_unavailable", "history store unavailable")
				return
			}
			logger.Error("history query failed", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read history")
			return
		}
		if history == nil {
			history = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}
