// Package models provides data model definitions for HabitNexus.
package models

import "time"

// UserSettings is the single per-user preferences object. It is replaced
// atomically by whichever side holds the newer UpdatedAt.
type UserSettings struct {
	Theme     string    `json:"theme"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewerThan reports whether s was updated strictly after other.
func (s *UserSettings) NewerThan(other *UserSettings) bool {
	return s.UpdatedAt.After(other.UpdatedAt)
}
