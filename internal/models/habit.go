// Package models provides data model definitions for HabitNexus.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Completion is the value recorded for one habit on one day: either a
// done/not-done flag or a numeric progress amount.
type Completion struct {
	numeric  bool
	done     bool
	progress float64
}

// Done returns a boolean completion.
func Done(v bool) Completion {
	return Completion{done: v}
}

// Progress returns a numeric completion.
func Progress(n float64) Completion {
	return Completion{numeric: true, progress: n}
}

// IsNumeric reports whether the completion carries a progress amount.
func (c Completion) IsNumeric() bool {
	return c.numeric
}

// Bool returns the boolean value. Numeric completions are true when positive.
func (c Completion) Bool() bool {
	if c.numeric {
		return c.progress > 0
	}
	return c.done
}

// Value returns the progress amount. Boolean completions are 1 or 0.
func (c Completion) Value() float64 {
	if c.numeric {
		return c.progress
	}
	if c.done {
		return 1
	}
	return 0
}

// String implements fmt.Stringer.
func (c Completion) String() string {
	if c.numeric {
		return strconv.FormatFloat(c.progress, 'f', -1, 64)
	}
	return strconv.FormatBool(c.done)
}

// MarshalJSON encodes the completion as a JSON boolean or number.
func (c Completion) MarshalJSON() ([]byte, error) {
	if c.numeric {
		return json.Marshal(c.progress)
	}
	return json.Marshal(c.done)
}

// UnmarshalJSON accepts a JSON boolean or number.
func (c *Completion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*c = Done(true)
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("null")):
		*c = Done(false)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("completion must be a boolean or number: %s", data)
		}
		*c = Progress(n)
	}
	return nil
}

// Habit is a tracked habit with its per-day history.
type Habit struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Icon        string                `json:"icon,omitempty"`
	Color       string                `json:"color,omitempty"`
	Frequency   string                `json:"frequency,omitempty"` // daily, weekly, custom
	TargetCount int                   `json:"targetCount,omitempty"`
	Archived    bool                  `json:"archived,omitempty"`
	Completions map[string]Completion `json:"completions,omitempty"` // YYYY-MM-DD -> value
	Notes       map[string]string     `json:"notes,omitempty"`
	Moods       map[string]string     `json:"moods,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   *time.Time            `json:"updatedAt,omitempty"`
}

// LastModified returns UpdatedAt, falling back to CreatedAt when unset.
func (h *Habit) LastModified() time.Time {
	if h.UpdatedAt != nil {
		return *h.UpdatedAt
	}
	return h.CreatedAt
}

// Touch stamps UpdatedAt with t.
func (h *Habit) Touch(t time.Time) {
	t = t.UTC()
	h.UpdatedAt = &t
}

// Clone returns a deep copy of the habit.
func (h *Habit) Clone() *Habit {
	c := *h
	if h.UpdatedAt != nil {
		t := *h.UpdatedAt
		c.UpdatedAt = &t
	}
	if h.Completions != nil {
		c.Completions = make(map[string]Completion, len(h.Completions))
		for k, v := range h.Completions {
			c.Completions[k] = v
		}
	}
	c.Notes = cloneStrings(h.Notes)
	c.Moods = cloneStrings(h.Moods)
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
