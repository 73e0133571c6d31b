package veritas

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562). Used
// for Fact, Observation, Chunk, Conflict, and Pattern identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds. Components that need
// deterministic time in tests accept a nowFunc field instead of calling
// this directly.
func NowUnix() int64 {
	return time.Now().Unix()
}
