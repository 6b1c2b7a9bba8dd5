package util

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func Must(err error) {
	if err != nil {
		panic(fmt.Errorf("internal error: %w", err))
	}
}

// Clock returns the current time. Services take a Clock instead of calling
// time.Now so transitions can be asserted deterministically.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reports wall time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator allocates job identifiers.
type IDGenerator interface {
	NewID() uuid.UUID
}

type IDGeneratorFunc func() uuid.UUID

func (f IDGeneratorFunc) NewID() uuid.UUID {
	return f()
}

// RandomIDGenerator hands out random (v4) UUIDs.
var RandomIDGenerator IDGenerator = IDGeneratorFunc(uuid.New)
