// Package idgen produces row identifiers and the slug ids that name agents.
package idgen

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7, so rows sort roughly by creation when
// ordered by id. Falls back to a random v4 if v7 generation fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
