package forecast

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinglebot/weather-service/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var embeddedTables []byte

// Range is an inclusive numeric predicate. A nil bound is open.
type Range struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// Contains reports whether v satisfies both bounds. A nil Range matches all.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Conditions restrict when a precipitation or special label may be drawn.
type Conditions struct {
	Temperature   *Range   `yaml:"temperature"`
	Wind          *Range   `yaml:"wind"`
	Precipitation []string `yaml:"precipitation"`
}

// TemperatureEntry is a catalog temperature. Fahrenheit is parsed from the label.
type TemperatureEntry struct {
	Label      string  `yaml:"label"`
	Emoji      string  `yaml:"emoji"`
	Weight     float64 `yaml:"weight"`
	Fahrenheit float64 `yaml:"-"`
}

// WindEntry is a catalog wind. Index is its intensity rank.
type WindEntry struct {
	Label  string  `yaml:"label"`
	Emoji  string  `yaml:"emoji"`
	Weight float64 `yaml:"weight"`
	KMH    float64 `yaml:"kmh"`
	Index  int     `yaml:"-"`
}

// PrecipitationEntry is a catalog precipitation. The flags feed streak and
// storm detection.
type PrecipitationEntry struct {
	Label      string      `yaml:"label"`
	Emoji      string      `yaml:"emoji"`
	Weight     float64     `yaml:"weight"`
	Rain       bool        `yaml:"rain"`
	Cloudy     bool        `yaml:"cloudy"`
	Storm      bool        `yaml:"storm"`
	Conditions *Conditions `yaml:"conditions"`
}

// SpecialEntry is a catalog special weather.
type SpecialEntry struct {
	Label      string      `yaml:"label"`
	Emoji      string      `yaml:"emoji"`
	Weight     float64     `yaml:"weight"`
	Conditions *Conditions `yaml:"conditions"`
}

// Modifiers scale catalog weights for one village season.
type Modifiers struct {
	Temperature   map[string]float64 `yaml:"temperature"`
	Wind          map[string]float64 `yaml:"wind"`
	Precipitation map[string]float64 `yaml:"precipitation"`
	Special       map[string]float64 `yaml:"special"`
}

// SeasonTable lists the labels a village may roll in one season.
type SeasonTable struct {
	Temperatures   []string  `yaml:"temperatures"`
	Winds          []string  `yaml:"winds"`
	Precipitations []string  `yaml:"precipitations"`
	Specials       []string  `yaml:"specials"`
	Modifiers      Modifiers `yaml:"modifiers"`
}

type tablesFile struct {
	Temperatures   []TemperatureEntry                `yaml:"temperatures"`
	Winds          []WindEntry                       `yaml:"winds"`
	Precipitations []PrecipitationEntry              `yaml:"precipitations"`
	Specials       []SpecialEntry                    `yaml:"specials"`
	Villages       map[string]map[string]SeasonTable `yaml:"villages"`
}

type seasonKey struct {
	village domain.Village
	season  domain.Season
}

// Tables is the validated, indexed form of the weather tables.
type Tables struct {
	temperatures   map[string]TemperatureEntry
	winds          map[string]WindEntry
	precipitations map[string]PrecipitationEntry
	specials       map[string]SpecialEntry
	specialOrder   []string
	seasons        map[seasonKey]SeasonTable

	temperatureWeights   map[string]float64
	windWeights          map[string]float64
	precipitationWeights map[string]float64
	specialWeights       map[string]float64
}

var fahrenheitPattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*°F`)

// DefaultTables parses the tables compiled into the binary.
func DefaultTables() (*Tables, error) {
	return ParseTables(embeddedTables)
}

// LoadTables reads tables from a YAML file, or the embedded defaults when path
// is empty.
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weather tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates YAML weather tables.
func ParseTables(data []byte) (*Tables, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrInvalidTables, err)
	}

	t := &Tables{
		temperatures:         make(map[string]TemperatureEntry, len(f.Temperatures)),
		winds:                make(map[string]WindEntry, len(f.Winds)),
		precipitations:       make(map[string]PrecipitationEntry, len(f.Precipitations)),
		specials:             make(map[string]SpecialEntry, len(f.Specials)),
		seasons:              make(map[seasonKey]SeasonTable),
		temperatureWeights:   make(map[string]float64, len(f.Temperatures)),
		windWeights:          make(map[string]float64, len(f.Winds)),
		precipitationWeights: make(map[string]float64, len(f.Precipitations)),
		specialWeights:       make(map[string]float64, len(f.Specials)),
	}

	for _, e := range f.Temperatures {
		m := fahrenheitPattern.FindStringSubmatch(e.Label)
		if m == nil {
			return nil, fmt.Errorf("%w: temperature %q does not start with a °F value", domain.ErrInvalidTables, e.Label)
		}
		e.Fahrenheit, _ = strconv.ParseFloat(m[1], 64)
		if err := addEntry(t.temperatures, e.Label, e); err != nil {
			return nil, err
		}
		t.temperatureWeights[e.Label] = e.Weight
	}
	for i, e := range f.Winds {
		e.Index = i
		if err := addEntry(t.winds, e.Label, e); err != nil {
			return nil, err
		}
		t.windWeights[e.Label] = e.Weight
	}
	for _, e := range f.Precipitations {
		if err := addEntry(t.precipitations, e.Label, e); err != nil {
			return nil, err
		}
		t.precipitationWeights[e.Label] = e.Weight
	}
	for _, e := range f.Specials {
		if err := addEntry(t.specials, e.Label, e); err != nil {
			return nil, err
		}
		t.specialWeights[e.Label] = e.Weight
		t.specialOrder = append(t.specialOrder, e.Label)
	}

	for _, e := range t.specials {
		if e.Conditions == nil {
			continue
		}
		for _, p := range e.Conditions.Precipitation {
			if _, ok := t.precipitations[p]; !ok {
				return nil, fmt.Errorf("%w: special %q requires unknown precipitation %q", domain.ErrInvalidTables, e.Label, p)
			}
		}
	}

	for villageName, seasons := range f.Villages {
		village, err := domain.ParseVillage(villageName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTables, err)
		}
		for seasonName, st := range seasons {
			season, err := domain.ParseSeason(seasonName)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidTables, village, err)
			}
			if err := t.checkSeason(village, season, st); err != nil {
				return nil, err
			}
			t.seasons[seasonKey{village, season}] = st
		}
	}

	return t, nil
}

func addEntry[E any](m map[string]E, label string, e E) error {
	if label == "" {
		return fmt.Errorf("%w: empty label", domain.ErrInvalidTables)
	}
	if _, dup := m[label]; dup {
		return fmt.Errorf("%w: duplicate label %q", domain.ErrInvalidTables, label)
	}
	m[label] = e
	return nil
}

func (t *Tables) checkSeason(v domain.Village, s domain.Season, st SeasonTable) error {
	check := func(kind string, labels []string, known func(string) bool) error {
		for _, l := range labels {
			if !known(l) {
				return fmt.Errorf("%w: %s %s references unknown %s %q", domain.ErrInvalidTables, v, s, kind, l)
			}
		}
		return nil
	}
	if len(st.Temperatures) == 0 || len(st.Winds) == 0 || len(st.Precipitations) == 0 {
		return fmt.Errorf("%w: %s %s needs temperatures, winds and precipitations", domain.ErrInvalidTables, v, s)
	}
	checks := []struct {
		kind   string
		labels []string
		known  func(string) bool
	}{
		{"temperature", st.Temperatures, func(l string) bool { _, ok := t.temperatures[l]; return ok }},
		{"wind", st.Winds, func(l string) bool { _, ok := t.winds[l]; return ok }},
		{"precipitation", st.Precipitations, func(l string) bool { _, ok := t.precipitations[l]; return ok }},
		{"special", st.Specials, func(l string) bool { _, ok := t.specials[l]; return ok }},
		{"temperature modifier", keysOf(st.Modifiers.Temperature), func(l string) bool { _, ok := t.temperatures[l]; return ok }},
		{"wind modifier", keysOf(st.Modifiers.Wind), func(l string) bool { _, ok := t.winds[l]; return ok }},
		{"precipitation modifier", keysOf(st.Modifiers.Precipitation), func(l string) bool { _, ok := t.precipitations[l]; return ok }},
		{"special modifier", keysOf(st.Modifiers.Special), func(l string) bool { _, ok := t.specials[l]; return ok }},
	}
	for _, c := range checks {
		if err := check(c.kind, c.labels, c.known); err != nil {
			return err
		}
	}
	return nil
}

// Season returns the table for a village and season.
func (t *Tables) Season(v domain.Village, s domain.Season) (SeasonTable, bool) {
	st, ok := t.seasons[seasonKey{v, s}]
	return st, ok
}

// Temperature looks up a catalog temperature by label.
func (t *Tables) Temperature(label string) (TemperatureEntry, bool) {
	e, ok := t.temperatures[label]
	return e, ok
}

// Wind looks up a catalog wind by label.
func (t *Tables) Wind(label string) (WindEntry, bool) {
	e, ok := t.winds[label]
	return e, ok
}

// Precipitation looks up a catalog precipitation by label.
func (t *Tables) Precipitation(label string) (PrecipitationEntry, bool) {
	e, ok := t.precipitations[label]
	return e, ok
}

// Special looks up a catalog special by label.
func (t *Tables) Special(label string) (SpecialEntry, bool) {
	e, ok := t.specials[label]
	return e, ok
}

// SpecialLabels lists every catalog special in declaration order.
func (t *Tables) SpecialLabels() []string {
	return append([]string(nil), t.specialOrder...)
}

// ResolveSpecial matches a user-supplied special label case-insensitively.
func (t *Tables) ResolveSpecial(input string) (SpecialEntry, error) {
	if strings.TrimSpace(input) == "" {
		return SpecialEntry{}, fmt.Errorf("%w: label is required", domain.ErrUnknownSpecial)
	}
	if e, ok := t.specials[input]; ok {
		return e, nil
	}
	for _, label := range t.specialOrder {
		if strings.EqualFold(label, strings.TrimSpace(input)) {
			return t.specials[label], nil
		}
	}
	if hint := domain.Suggest(input, t.specialOrder); hint != "" {
		return SpecialEntry{}, fmt.Errorf("%w: %q (did you mean %q?)", domain.ErrUnknownSpecial, input, hint)
	}
	return SpecialEntry{}, fmt.Errorf("%w: %q", domain.ErrUnknownSpecial, input)
}
