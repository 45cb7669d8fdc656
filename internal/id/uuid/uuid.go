// Package uuid generates time-ordered identifiers for requests and relay messages.
package uuid

import (
	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string, falling back to a random v4 if the v7 clock
// source fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
