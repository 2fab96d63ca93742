package util

import "github.com/google/uuid"

// NewID returns a random UUID string. Rows mirrored between the cache and the
// relational store share this id.
func NewID() string {
	return uuid.NewString()
}
