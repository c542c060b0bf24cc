package domain

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Village is one of the settlements that receives a daily forecast.
type Village string

const (
	Rudania Village = "Rudania"
	Inariko Village = "Inariko"
	Vhintl  Village = "Vhintl"
)

// Villages lists every village in announcement order.
var Villages = []Village{Rudania, Inariko, Vhintl}

// ParseVillage normalizes user input ("  rudania ") to its canonical Village.
func ParseVillage(s string) (Village, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", fmt.Errorf("%w: village is required", ErrUnknownVillage)
	}
	for _, v := range Villages {
		if strings.EqualFold(name, string(v)) {
			return v, nil
		}
	}
	candidates := make([]string, len(Villages))
	for i, v := range Villages {
		candidates[i] = string(v)
	}
	if hint := Suggest(name, candidates); hint != "" {
		return "", fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownVillage, name, hint)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVillage, name)
}

func (v Village) String() string { return string(v) }

// Suggest returns the candidate closest to input by edit distance, or "" when
// nothing is close enough to be a plausible typo.
func Suggest(input string, candidates []string) string {
	needle := strings.ToLower(strings.TrimSpace(input))
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > suggestLimit(len(best)) {
		return ""
	}
	return best
}

func suggestLimit(n int) int {
	switch {
	case n <= 4:
		return 1
	case n <= 8:
		return 2
	default:
		return 3
	}
}
