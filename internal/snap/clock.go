package snap

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so catalog timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the current UTC time at microsecond precision, the finest
// resolution every catalog backend round-trips unchanged.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// IDGenerator abstracts snapshot and repository id generation.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces time-ordered UUIDv7 ids, falling back to random v4
// ids if the clock sequence cannot be read.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
