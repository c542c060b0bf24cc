package domain

import (
	"fmt"
	"time"
)

// GuaranteedProbability marks a special that was scheduled rather than rolled.
const GuaranteedProbability = "Guaranteed (Song of Storms)"

// BlightRain is the only special that may not occur on two consecutive days.
const BlightRain = "Blight Rain"

// Condition is one rolled weather dimension.
type Condition struct {
	Label       string `json:"label"`
	Emoji       string `json:"emoji"`
	Probability string `json:"probability"`
}

// PostState tracks whether an announcement fired. Records written before the
// flag existed decode as LegacyUnknown.
type PostState int

const (
	LegacyUnknown PostState = iota
	NotPosted
	Posted
)

// IsPosted resolves the tri-state at the query boundary: legacy records count
// as posted.
func (s PostState) IsPosted() bool { return s != NotPosted }

func (s PostState) String() string {
	switch s {
	case NotPosted:
		return "not_posted"
	case Posted:
		return "posted"
	default:
		return "legacy_unknown"
	}
}

// MarshalText keeps the JSON form readable.
func (s PostState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PostState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not_posted":
		*s = NotPosted
	case "posted":
		*s = Posted
	case "legacy_unknown":
		*s = LegacyUnknown
	default:
		return fmt.Errorf("unknown post state %q", b)
	}
	return nil
}

// Record is the weather of one village for one period.
type Record struct {
	ID            string     `json:"id"`
	Village       Village    `json:"village"`
	Date          time.Time  `json:"date"`
	Season        Season     `json:"season"`
	Temperature   Condition  `json:"temperature"`
	Wind          Condition  `json:"wind"`
	Precipitation Condition  `json:"precipitation"`
	Special       *Condition `json:"special,omitempty"`

	Posted     PostState  `json:"posted"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	PmPosted   PostState  `json:"pm_posted"`
	PmPostedAt *time.Time `json:"pm_posted_at,omitempty"`
}

// HasGuaranteedSpecial reports whether the special was forced by scheduling.
func (r *Record) HasGuaranteedSpecial() bool {
	return r != nil && r.Special != nil && r.Special.Probability == GuaranteedProbability
}

// SpecialLabel returns the special label or "".
func (r *Record) SpecialLabel() string {
	if r == nil || r.Special == nil {
		return ""
	}
	return r.Special.Label
}
