package util

import "github.com/google/uuid"

// NewTraceID returns a globally unique opaque identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// NewID returns a new entity identifier.
func NewID() string {
	return uuid.New().String()
}
