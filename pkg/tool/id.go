package tool

import "github.com/google/uuid"

// GenerateUUIDV7 returns a time-ordered id for primary keys.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewTraceID returns a random id for requests that arrive without X-Request-ID.
func NewTraceID() string {
	return uuid.NewString()
}
