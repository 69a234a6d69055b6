package handlers

import (
	"net/http"

	"github.com/kimhsiao/habitnexus/backend/internal/realtime"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// Service is reported by the health endpoint.
const Service = "habitnexus-server"

// NewRouter wires every endpoint. hub may be nil, which disables /api/events.
func NewRouter(store storage.Store, auth *Authenticator, hub *realtime.Hub) http.Handler {
	settings := NewSettingsHandler(store, hub)
	habitsHandler := NewHabitHandler(store, hub)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/settings", settings.GetSettings)
	api.HandleFunc("PUT /api/settings", settings.PutSettings)
	api.HandleFunc("GET /api/habits", habitsHandler.ListHabits)
	api.HandleFunc("PUT /api/habits/{id}", habitsHandler.PutHabit)
	api.HandleFunc("PATCH /api/habits/{id}", habitsHandler.PatchHabit)
	api.HandleFunc("DELETE /api/habits/{id}", habitsHandler.DeleteHabit)
	if hub != nil {
		api.HandleFunc("GET "+realtime.EventsPath, func(w http.ResponseWriter, r *http.Request) {
			hub.ServeWS(w, r, UserID(r))
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", Health)
	mux.Handle("/api/", auth.Middleware(api))
	return mux
}

// Health handles GET /api/health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": Service})
}
