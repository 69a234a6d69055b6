package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/habits"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/realtime"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
)

// HabitHandler serves the per-user habit collection.
type HabitHandler struct {
	store storage.Store
	hub   *realtime.Hub

	mu    sync.Mutex
	repos map[string]*habits.Repository
}

// NewHabitHandler creates a HabitHandler. hub may be nil.
func NewHabitHandler(store storage.Store, hub *realtime.Hub) *HabitHandler {
	return &HabitHandler{store: store, hub: hub, repos: make(map[string]*habits.Repository)}
}

// repo returns the user's repository. Read-modify-write cycles go through
// Repository.Update, which runs them as one store update.
func (h *HabitHandler) repo(userID string) *habits.Repository {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.repos[userID]
	if !ok {
		r = habits.NewRepositoryWithKey(h.store, "habits:"+userID)
		h.repos[userID] = r
	}
	return r
}

// ListHabits handles GET /api/habits
func (h *HabitHandler) ListHabits(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo(UserID(r)).List()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// PutHabit handles PUT /api/habits/{id}
func (h *HabitHandler) PutHabit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var habit models.Habit
	if err := json.NewDecoder(r.Body).Decode(&habit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if habit.ID != id {
		writeError(w, http.StatusBadRequest, "habit id does not match path")
		return
	}
	if err := h.repo(UserID(r)).Save(&habit); err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// PatchHabit handles PATCH /api/habits/{id}
func (h *HabitHandler) PatchHabit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch models.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, err := h.repo(UserID(r)).Update(id, func(current *models.Habit) error {
		snapshot, err := json.Marshal(current)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "encode habit", err)
		}
		merged, err := patch.ApplyTo(snapshot)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "invalid patch", err)
		}
		var updated models.Habit
		if err := json.Unmarshal(merged, &updated); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "invalid habit fields", err)
		}
		*current = updated
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHabit handles DELETE /api/habits/{id}
func (h *HabitHandler) DeleteHabit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo(UserID(r)).Delete(id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed(r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HabitHandler) changed(r *http.Request, ids ...string) {
	if h.hub != nil {
		h.hub.BroadcastHabitsChanged(UserID(r), ids...)
	}
}

func (h *HabitHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		writeError(w, http.StatusNotFound, "habit not found")
	case apperrors.ErrInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("Habit request failed", err,
			map[string]interface{}{"user_id": UserID(r), "path": r.URL.Path})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
