package domain

import (
	"fmt"
	"time"
)

// PeriodCutoverHour is the UTC hour at which a new weather day begins.
const PeriodCutoverHour = 13

// PeriodLength is the span of one weather day.
const PeriodLength = 24 * time.Hour

// Period is the half-open interval [Start, Start+24h) of one weather day.
// End is the last reported millisecond (12:59:59.999 UTC).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NextStart is the exclusive upper bound of the period.
func (p Period) NextStart() time.Time { return p.Start.Add(PeriodLength) }

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.NextStart())
}

// Shift moves the period by n whole weather days.
func (p Period) Shift(n int) Period {
	d := time.Duration(n) * PeriodLength
	return Period{Start: p.Start.Add(d), End: p.End.Add(d)}
}

// CurrentPeriodBounds returns the weather day containing now. Before 13:00 UTC
// the period started yesterday; from 13:00 UTC on it started today.
func CurrentPeriodBounds(now time.Time) (Period, error) {
	if now.IsZero() {
		return Period{}, fmt.Errorf("%w: zero reference time", ErrInvalidPeriod)
	}
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), PeriodCutoverHour, 0, 0, 0, time.UTC)
	if u.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	p := Period{
		Start: start,
		End:   start.Add(PeriodLength - time.Millisecond),
	}
	if !p.End.After(p.Start) {
		return Period{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidPeriod,
			p.End.Format(time.RFC3339Nano), p.Start.Format(time.RFC3339Nano))
	}
	return p, nil
}

// NextPeriodBounds returns the weather day after the one containing now. It is
// derived from the current period so the two are always contiguous.
func NextPeriodBounds(now time.Time) (Period, error) {
	p, err := CurrentPeriodBounds(now)
	if err != nil {
		return Period{}, err
	}
	return p.Shift(1), nil
}
