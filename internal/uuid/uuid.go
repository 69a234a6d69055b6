// Package uuid generates and checks the identifiers used for habits, queued
// operations and realtime clients.
package uuid

import (
	"regexp"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
)

// xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx, y in [89ab]
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a dashed UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an INVALID error if s is not a dashed UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid UUID v4 %q", s)
	}
	return nil
}
