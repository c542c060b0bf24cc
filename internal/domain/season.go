package domain

import (
	"fmt"
	"strings"
	"time"
)

// Season selects the weather table used for generation.
type Season string

const (
	Spring Season = "spring"
	Summer Season = "summer"
	Fall   Season = "fall"
	Winter Season = "winter"
)

// Seasons lists every season in calendar order.
var Seasons = []Season{Spring, Summer, Fall, Winter}

// SeasonAt returns the meteorological season of t in UTC.
func SeasonAt(t time.Time) Season {
	switch t.UTC().Month() {
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	case time.September, time.October, time.November:
		return Fall
	default:
		return Winter
	}
}

// ParseSeason accepts any casing; "autumn" is an alias for fall.
func ParseSeason(s string) (Season, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spring":
		return Spring, nil
	case "summer":
		return Summer, nil
	case "fall", "autumn":
		return Fall, nil
	case "winter":
		return Winter, nil
	}
	return "", fmt.Errorf("unknown season %q", s)
}

func (s Season) String() string { return string(s) }
