package domain

import "errors"

// Configuration errors. These are never retried.
var (
	ErrUnknownVillage     = errors.New("unknown village")
	ErrUnknownSpecial     = errors.New("unknown special weather")
	ErrMissingSeasonTable = errors.New("no season table")
	ErrInvalidPeriod      = errors.New("invalid weather period")
	ErrInvalidTables      = errors.New("invalid weather tables")
)

// ErrGenerationFailed means the generator could not produce a complete record.
// Callers should report the weather as unavailable.
var ErrGenerationFailed = errors.New("weather generation failed")

// ErrDuplicate is returned by stores when a concurrent writer already holds the
// (village, date) slot. The weather service recovers from it by re-reading.
var ErrDuplicate = errors.New("duplicate weather record")

// ErrNotDurable means the store acknowledged a write it cannot read back.
var ErrNotDurable = errors.New("weather record not durable")

// ErrAlreadyScheduled is a user-facing conflict: the target period already
// carries a guaranteed special.
var ErrAlreadyScheduled = errors.New("special weather already scheduled")

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("weather record not found")
