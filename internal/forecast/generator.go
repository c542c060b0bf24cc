// Package forecast rolls daily village weather from season tables, smoothing
// each dimension against recent history.
package forecast

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/sampler"
)

const (
	// SpecialChance gates special weather before eligibility is known, so the
	// effective rate of specials is at most this value.
	SpecialChance = 0.3

	// TemperatureSwingF bounds day-to-day temperature change in °F.
	TemperatureSwingF = 20.0

	// WindSwing bounds day-to-day wind change in intensity steps.
	WindSwing = 1

	// HistoryDepth is how many prior records feed the smoothing context.
	HistoryDepth = 3

	cloudyStreakRainBoost  = 1.5
	rainStreakRainDampener = 0.6
	streakThreshold        = 2
)

// Generator produces weather records. It is safe for concurrent use when its
// Rand is.
type Generator struct {
	tables  *Tables
	rand    sampler.Rand
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGenerator creates a Generator. A nil rng uses the runtime source.
func NewGenerator(tables *Tables, rng sampler.Rand, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if rng == nil {
		rng = sampler.DefaultRand()
	}
	return &Generator{
		tables:  tables,
		rand:    rng,
		logger:  logger,
		metrics: metrics,
	}
}

// Tables exposes the tables the generator draws from.
func (g *Generator) Tables() *Tables { return g.tables }

// smoothing summarizes the most recent records, newest first.
type smoothing struct {
	previous       *domain.Record
	cloudyStreak   int
	rainStreak     int
	stormYesterday bool
}

func (g *Generator) smoothingFrom(history []domain.Record) smoothing {
	var s smoothing
	if len(history) == 0 {
		return s
	}
	if len(history) > HistoryDepth {
		history = history[:HistoryDepth]
	}
	s.previous = &history[0]

	cloudyOpen, rainOpen := true, true
	for i, rec := range history {
		p, ok := g.tables.Precipitation(rec.Precipitation.Label)
		if i == 0 {
			s.stormYesterday = ok && p.Storm
		}
		if cloudyOpen && ok && p.Cloudy {
			s.cloudyStreak++
		} else {
			cloudyOpen = false
		}
		if rainOpen && ok && p.Rain {
			s.rainStreak++
		} else {
			rainOpen = false
		}
	}
	return s
}

// Generate rolls one record for village in season. history holds the most
// recent records for the village, newest first; only the first HistoryDepth
// are used. The returned record has no ID or Date.
func (g *Generator) Generate(village domain.Village, season domain.Season, history []domain.Record) (domain.Record, error) {
	start := time.Now()
	st, ok := g.tables.Season(village, season)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s %s", domain.ErrMissingSeasonTable, village, season)
	}
	log := g.logger.With("village", village, "season", season)
	ctx := g.smoothingFrom(history)

	temperature, err := g.rollTemperature(log, st, ctx)
	if err != nil {
		return domain.Record{}, err
	}
	wind, err := g.rollWind(log, st, ctx)
	if err != nil {
		return domain.Record{}, err
	}
	tempEntry, _ := g.tables.Temperature(temperature.Label)
	windEntry, _ := g.tables.Wind(wind.Label)

	precipitation, err := g.rollPrecipitation(log, st, ctx, tempEntry, windEntry)
	if err != nil {
		return domain.Record{}, err
	}

	rec := domain.Record{
		Village:       village,
		Season:        season,
		Temperature:   temperature,
		Wind:          wind,
		Precipitation: precipitation,
		Posted:        domain.NotPosted,
		PmPosted:      domain.NotPosted,
	}
	rec.Special = g.rollSpecial(log, st, ctx, tempEntry, windEntry, precipitation.Label)

	if rec.Temperature.Label == "" || rec.Wind.Label == "" || rec.Precipitation.Label == "" {
		log.Error("generated record is incomplete",
			"temperature", rec.Temperature.Label, "wind", rec.Wind.Label, "precipitation", rec.Precipitation.Label)
		return domain.Record{}, fmt.Errorf("%w: %s %s produced an empty label", domain.ErrGenerationFailed, village, season)
	}

	g.metrics.WeatherGenerated.WithLabelValues(string(village)).Inc()
	g.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	return rec, nil
}

func (g *Generator) rollTemperature(log *slog.Logger, st SeasonTable, ctx smoothing) (domain.Condition, error) {
	candidates := st.Temperatures
	if ctx.previous != nil {
		if prev, ok := g.tables.Temperature(ctx.previous.Temperature.Label); ok {
			swing := TemperatureSwingF
			if ctx.stormYesterday {
				swing = 0
			}
			candidates = filter(st.Temperatures, func(l string) bool {
				e, _ := g.tables.Temperature(l)
				return math.Abs(e.Fahrenheit-prev.Fahrenheit) <= swing
			})
			candidates = g.fallback(log, "temperature", candidates, st.Temperatures)
		}
	}

	s := sampler.Sampler[string]{
		Weights:   g.tables.temperatureWeights,
		Modifiers: st.Modifiers.Temperature,
		Rand:      g.rand,
		Logger:    log,
	}
	return g.pick(s, "temperature", candidates, func(l string) string {
		e, _ := g.tables.Temperature(l)
		return e.Emoji
	})
}

func (g *Generator) rollWind(log *slog.Logger, st SeasonTable, ctx smoothing) (domain.Condition, error) {
	candidates := st.Winds
	if ctx.previous != nil {
		if prev, ok := g.tables.Wind(ctx.previous.Wind.Label); ok {
			candidates = filter(st.Winds, func(l string) bool {
				e, _ := g.tables.Wind(l)
				return abs(e.Index-prev.Index) <= WindSwing
			})
			candidates = g.fallback(log, "wind", candidates, st.Winds)
		}
	}

	s := sampler.Sampler[string]{
		Weights:   g.tables.windWeights,
		Modifiers: st.Modifiers.Wind,
		Rand:      g.rand,
		Logger:    log,
	}
	return g.pick(s, "wind", candidates, func(l string) string {
		e, _ := g.tables.Wind(l)
		return e.Emoji
	})
}

func (g *Generator) rollPrecipitation(log *slog.Logger, st SeasonTable, ctx smoothing, temp TemperatureEntry, wind WindEntry) (domain.Condition, error) {
	candidates := filter(st.Precipitations, func(l string) bool {
		e, _ := g.tables.Precipitation(l)
		return e.Conditions == nil ||
			(e.Conditions.Temperature.Contains(temp.Fahrenheit) && e.Conditions.Wind.Contains(wind.KMH))
	})
	candidates = g.fallback(log, "precipitation", candidates, st.Precipitations)
	if len(candidates) == 0 {
		return domain.Condition{}, fmt.Errorf("%w: no precipitation labels", domain.ErrGenerationFailed)
	}

	s := sampler.Sampler[string]{
		Weights:   g.tables.precipitationWeights,
		Modifiers: g.precipitationModifiers(st, ctx),
		Rand:      g.rand,
		Logger:    log,
	}
	return g.pick(s, "precipitation", candidates, func(l string) string {
		e, _ := g.tables.Precipitation(l)
		return e.Emoji
	})
}

// precipitationModifiers layers streak adjustments over the season modifiers:
// a run of cloudy days makes rain likelier, a run of rainy days less likely.
func (g *Generator) precipitationModifiers(st SeasonTable, ctx smoothing) map[string]float64 {
	var factor float64 = 1
	if ctx.cloudyStreak >= streakThreshold {
		factor *= cloudyStreakRainBoost
	}
	if ctx.rainStreak >= streakThreshold {
		factor *= rainStreakRainDampener
	}
	if factor == 1 {
		return st.Modifiers.Precipitation
	}

	mods := make(map[string]float64, len(st.Precipitations))
	for _, l := range st.Precipitations {
		m, ok := st.Modifiers.Precipitation[l]
		if !ok {
			m = 1
		}
		if e, _ := g.tables.Precipitation(l); e.Rain {
			m *= factor
		}
		mods[l] = m
	}
	return mods
}

func (g *Generator) rollSpecial(log *slog.Logger, st SeasonTable, ctx smoothing, temp TemperatureEntry, wind WindEntry, precipitation string) *domain.Condition {
	if len(st.Specials) == 0 {
		return nil
	}
	if g.rand.Float64() >= SpecialChance {
		return nil
	}

	candidates := filter(st.Specials, func(l string) bool {
		if l == domain.BlightRain && ctx.previous.SpecialLabel() == domain.BlightRain {
			return false
		}
		return g.tables.specialEligible(l, temp, wind, precipitation)
	})
	if len(candidates) == 0 {
		log.Debug("special gate passed but no special is eligible", "precipitation", precipitation)
		return nil
	}

	s := sampler.Sampler[string]{
		Weights:   g.tables.specialWeights,
		Modifiers: st.Modifiers.Special,
		Rand:      g.rand,
		Logger:    log,
	}
	cond, err := g.pick(s, "special", candidates, func(l string) string {
		e, _ := g.tables.Special(l)
		return e.Emoji
	})
	if err != nil {
		log.Warn("special roll failed", "error", err)
		return nil
	}
	g.metrics.SpecialWeather.WithLabelValues(cond.Label).Inc()
	return &cond
}

func (g *Generator) pick(s sampler.Sampler[string], dimension string, candidates []string, emoji func(string) string) (domain.Condition, error) {
	label, err := s.Choose(candidates)
	if err != nil {
		return domain.Condition{}, fmt.Errorf("%w: %s: %w", domain.ErrGenerationFailed, dimension, err)
	}
	return domain.Condition{
		Label:       label,
		Emoji:       emoji(label),
		Probability: sampler.FormatProbability(s.Probability(candidates, label)),
	}, nil
}

// fallback returns full when smoothing filtered out every candidate. Frequent
// fallbacks point at season tables with gaps wider than the smoothing window.
func (g *Generator) fallback(log *slog.Logger, dimension string, filtered, full []string) []string {
	if len(filtered) > 0 {
		return filtered
	}
	log.Warn("smoothing filter left no candidates, using full season list",
		"dimension", dimension, "season_candidates", len(full))
	g.metrics.SmoothingFallbacks.WithLabelValues(dimension).Inc()
	return full
}

func filter(labels []string, keep func(string) bool) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
