package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/realtime"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// SettingsHandler serves the per-user settings document.
type SettingsHandler struct {
	store storage.Store
	hub   *realtime.Hub
}

// NewSettingsHandler creates a SettingsHandler. hub may be nil.
func NewSettingsHandler(store storage.Store, hub *realtime.Hub) *SettingsHandler {
	return &SettingsHandler{store: store, hub: hub}
}

func settingsKey(userID string) string {
	return "settings:" + userID
}

// GetSettings handles GET /api/settings. 404 means no settings stored yet.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	raw, ok, err := h.store.Get(settingsKey(UserID(r)))
	if err != nil {
		logging.Error("Failed to read settings", err, map[string]interface{}{"user_id": UserID(r)})
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "settings not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(raw))
}

// PutSettings handles PUT /api/settings.
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s models.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.UpdatedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "updatedAt is required")
		return
	}

	data, err := json.Marshal(&s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode settings")
		return
	}
	userID := UserID(r)
	if err := h.store.Set(settingsKey(userID), string(data)); err != nil {
		logging.Error("Failed to write settings", err, map[string]interface{}{"user_id": userID})
		writeError(w, http.StatusInternalServerError, "failed to write settings")
		return
	}

	if h.hub != nil {
		h.hub.BroadcastSettingsChanged(userID, s.UpdatedAt)
	}
	w.WriteHeader(http.StatusNoContent)
}
