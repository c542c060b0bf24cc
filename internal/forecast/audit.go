package forecast

import (
	"fmt"
	"sort"

	"github.com/tinglebot/weather-service/internal/domain"
)

// Finding is a data-quality problem in the weather tables. Village and Season
// are empty for catalog-level findings.
type Finding struct {
	Village   domain.Village `json:"village,omitempty"`
	Season    domain.Season  `json:"season,omitempty"`
	Dimension string         `json:"dimension"`
	Message   string         `json:"message"`
}

func (f Finding) String() string {
	if f.Village == "" {
		return fmt.Sprintf("catalog %s: %s", f.Dimension, f.Message)
	}
	return fmt.Sprintf("%s %s %s: %s", f.Village, f.Season, f.Dimension, f.Message)
}

// Audit walks every season table and reports:
//   - temperature/wind pairs that leave no eligible precipitation, which
//     forces the generator onto its fallback path;
//   - precipitation and special labels no weather combination can reach;
//   - catalog labels no season table uses.
//
// Findings are sorted by village, season and dimension.
func (t *Tables) Audit() []Finding {
	var findings []Finding
	used := make(map[string]bool)

	for key, st := range t.seasons {
		findings = append(findings, t.auditSeason(key, st)...)
		for _, labels := range [][]string{st.Temperatures, st.Winds, st.Precipitations, st.Specials} {
			for _, l := range labels {
				used[l] = true
			}
		}
	}

	catalog := []struct {
		dimension string
		labels    []string
	}{
		{"temperature", keysOf(t.temperatures)},
		{"wind", keysOf(t.winds)},
		{"precipitation", keysOf(t.precipitations)},
		{"special", t.specialOrder},
	}
	for _, c := range catalog {
		for _, l := range c.labels {
			if !used[l] {
				findings = append(findings, Finding{Dimension: c.dimension, Message: fmt.Sprintf("%q is not used by any season table", l)})
			}
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Village != b.Village {
			return a.Village < b.Village
		}
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		return a.Message < b.Message
	})
	return findings
}

func (t *Tables) auditSeason(key seasonKey, st SeasonTable) []Finding {
	var findings []Finding
	add := func(dimension, format string, args ...any) {
		findings = append(findings, Finding{
			Village:   key.village,
			Season:    key.season,
			Dimension: dimension,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	reachablePrecipitation := make(map[string]bool)
	reachableSpecial := make(map[string]bool)

	for _, tl := range st.Temperatures {
		temp := t.temperatures[tl]
		for _, wl := range st.Winds {
			wind := t.winds[wl]
			eligible := filter(st.Precipitations, func(l string) bool {
				c := t.precipitations[l].Conditions
				return c == nil || (c.Temperature.Contains(temp.Fahrenheit) && c.Wind.Contains(wind.KMH))
			})
			if len(eligible) == 0 {
				add("precipitation", "no precipitation eligible at %q with %q", tl, wl)
				continue
			}
			for _, pl := range eligible {
				reachablePrecipitation[pl] = true
				for _, sl := range st.Specials {
					if t.specialEligible(sl, temp, wind, pl) {
						reachableSpecial[sl] = true
					}
				}
			}
		}
	}

	for _, l := range st.Precipitations {
		if !reachablePrecipitation[l] {
			add("precipitation", "%q is unreachable: its conditions never hold for this season", l)
		}
	}
	for _, l := range st.Specials {
		if !reachableSpecial[l] {
			add("special", "%q is unreachable: its conditions never hold for this season", l)
		}
	}
	return findings
}

func (t *Tables) specialEligible(label string, temp TemperatureEntry, wind WindEntry, precipitation string) bool {
	c := t.specials[label].Conditions
	if c == nil {
		return true
	}
	return c.Temperature.Contains(temp.Fahrenheit) &&
		c.Wind.Contains(wind.KMH) &&
		(len(c.Precipitation) == 0 || contains(c.Precipitation, precipitation))
}

func keysOf[E any](m map[string]E) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
