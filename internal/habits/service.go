package habits

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
	"github.com/kimhsiao/habitnexus/backend/internal/models"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/queue"
	"github.com/kimhsiao/habitnexus/backend/internal/uuid"
)

// DateLayout is the per-day key format used by completions, notes and moods.
const DateLayout = "2006-01-02"

// CreateInput holds the user-supplied fields of a new habit. ID is
// optional; when set it must be a UUID v4 not already in use.
type CreateInput struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Color       string
	Frequency   string
	TargetCount int
}

// Service applies user mutations to the local cache and records each one
// in the offline queue.
type Service struct {
	repo  *Repository
	queue *queue.QueueStore
	now   func() time.Time

	hookMu   sync.RWMutex
	onChange func(op *models.QueueOperation)
}

// NewService creates a Service.
func NewService(repo *Repository, q *queue.QueueStore) *Service {
	return &Service{repo: repo, queue: q, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnMutation registers fn to run after every queued mutation.
func (s *Service) OnMutation(fn func(op *models.QueueOperation)) {
	s.hookMu.Lock()
	s.onChange = fn
	s.hookMu.Unlock()
}

// List returns all local habits.
func (s *Service) List() ([]models.Habit, error) {
	return s.repo.List()
}

// Get returns one local habit.
func (s *Service) Get(id string) (*models.Habit, error) {
	return s.repo.Get(id)
}

// Create stores a new habit and queues a CREATE carrying its snapshot.
func (s *Service) Create(in CreateInput) (*models.Habit, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "habit name is required")
	}

	id := in.ID
	if id == "" {
		id = uuid.New()
	} else {
		if err := uuid.Validate(id); err != nil {
			return nil, err
		}
		if _, err := s.repo.Get(id); err == nil {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "habit %s already exists", id)
		}
	}

	now := s.now().UTC()
	h := &models.Habit{
		ID:          id,
		Name:        name,
		Description: in.Description,
		Icon:        in.Icon,
		Color:       in.Color,
		Frequency:   in.Frequency,
		TargetCount: in.TargetCount,
		CreatedAt:   now,
	}
	h.Touch(now)

	if err := s.repo.Save(h); err != nil {
		return nil, err
	}
	entity, err := json.Marshal(h)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode habit", err)
	}
	if err := s.record(queue.Input{Type: models.OperationCreate, EntityID: h.ID, Entity: entity}); err != nil {
		return nil, err
	}
	return h, nil
}

// Update applies fields to a habit and queues them as an UPDATE patch.
func (s *Service) Update(id string, fields map[string]interface{}) (*models.Habit, error) {
	if _, ok := fields["id"]; ok {
		return nil, apperrors.New(apperrors.ErrInvalid, "habit id cannot be changed")
	}
	p, err := models.NewPatch(fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode patch", err)
	}
	return s.apply(id, func(*models.Habit) (models.Patch, error) { return p, nil })
}

// Delete removes a habit locally and queues a DELETE.
func (s *Service) Delete(id string) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}
	return s.record(queue.Input{Type: models.OperationDelete, EntityID: id})
}

// SetCompletion records the value for date (YYYY-MM-DD).
func (s *Service) SetCompletion(id, date string, value models.Completion) (*models.Habit, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return s.apply(id, func(h *models.Habit) (models.Patch, error) {
		completions := h.Clone().Completions
		if completions == nil {
			completions = make(map[string]models.Completion)
		}
		completions[date] = value
		return fieldPatch("completions", completions)
	})
}

// SetNote records a free-text note for date. An empty note clears it.
func (s *Service) SetNote(id, date, note string) (*models.Habit, error) {
	return s.setText(id, date, note, "notes", func(h *models.Habit) map[string]string { return h.Notes })
}

// SetMood records a mood for date. An empty mood clears it.
func (s *Service) SetMood(id, date, mood string) (*models.Habit, error) {
	return s.setText(id, date, mood, "moods", func(h *models.Habit) map[string]string { return h.Moods })
}

func (s *Service) setText(id, date, value, field string, get func(*models.Habit) map[string]string) (*models.Habit, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	return s.apply(id, func(h *models.Habit) (models.Patch, error) {
		m := get(h.Clone())
		if m == nil {
			m = make(map[string]string)
		}
		if value == "" {
			delete(m, date)
		} else {
			m[date] = value
		}
		return fieldPatch(field, m)
	})
}

func fieldPatch(field string, value interface{}) (models.Patch, error) {
	p, err := models.NewPatch(map[string]interface{}{field: value})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode patch", err)
	}
	return p, nil
}

// apply builds a patch from the stored habit, merges it, stamps UpdatedAt
// and queues the patch together with the new timestamp. Building and
// saving happen in one repository update.
func (s *Service) apply(id string, build func(current *models.Habit) (models.Patch, error)) (*models.Habit, error) {
	var p models.Patch
	updated, err := s.repo.Update(id, func(h *models.Habit) error {
		var err error
		if p, err = build(h); err != nil {
			return err
		}
		snapshot, err := json.Marshal(h)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "encode habit", err)
		}
		merged, err := p.ApplyTo(snapshot)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "apply patch", err)
		}
		var next models.Habit
		if err := json.Unmarshal(merged, &next); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "invalid habit fields", err)
		}
		next.ID = id
		next.Touch(s.now())
		*h = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	stamp, err := json.Marshal(updated.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode timestamp", err)
	}
	queued := p.Merge(models.Patch{"updatedAt": stamp})
	if err := s.record(queue.Input{Type: models.OperationUpdate, EntityID: id, Patch: queued}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) record(in queue.Input) error {
	op, err := s.queue.Enqueue(in)
	if err != nil {
		logging.Error("Failed to queue habit mutation", err,
			map[string]interface{}{"habit_id": in.EntityID, "type": in.Type})
		return err
	}

	s.hookMu.RLock()
	hook := s.onChange
	s.hookMu.RUnlock()
	if hook != nil {
		hook(op)
	}
	return nil
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return apperrors.Newf(apperrors.ErrInvalid, "date %q must be YYYY-MM-DD", date)
	}
	return nil
}
