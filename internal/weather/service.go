// Package weather serves the current weather of each village, generating and
// persisting a record the first time a period is asked for.
//
// The service holds no locks. Concurrent callers for the same empty period may
// all generate, but the store's insert-only write keeps exactly one record and
// every loser reads the winner back.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
)

// Store persists weather records. Implementations must enforce uniqueness of
// (village, date).
type Store interface {
	// FindLatestInRange returns the newest record for village with
	// from <= date < to, or domain.ErrNotFound. With onlyPosted, records
	// explicitly marked not posted are skipped; legacy records still match.
	FindLatestInRange(ctx context.Context, village domain.Village, from, to time.Time, onlyPosted bool) (domain.Record, error)

	// FindByDate returns the record stored at exactly date, or domain.ErrNotFound.
	FindByDate(ctx context.Context, village domain.Village, date time.Time, onlyPosted bool) (domain.Record, error)

	// InsertIfAbsent writes rec unless a record already holds its (village,
	// date) slot, and returns whichever record is stored. inserted is false
	// when an existing record was returned. A race the store cannot settle in
	// one round trip is reported as domain.ErrDuplicate.
	InsertIfAbsent(ctx context.Context, rec domain.Record) (stored domain.Record, inserted bool, err error)

	// Exists reports whether a record with id can be read back.
	Exists(ctx context.Context, id string) (bool, error)

	// Recent returns up to n records for village dated before the given time,
	// newest first.
	Recent(ctx context.Context, village domain.Village, before time.Time, n int) ([]domain.Record, error)

	// SetPosted and SetPmPosted mark a record announced. Marking twice keeps
	// the first timestamp.
	SetPosted(ctx context.Context, id string, at time.Time) error
	SetPmPosted(ctx context.Context, id string, at time.Time) error

	// SetSpecial stores a guaranteed special, or returns
	// domain.ErrAlreadyScheduled if the record already carries one.
	SetSpecial(ctx context.Context, id string, special domain.Condition) error

	Ping(ctx context.Context) error
}

// Options controls read-only lookups.
type Options struct {
	// OnlyPosted skips records that have not been announced yet.
	OnlyPosted bool
}

// ScheduleResult describes a scheduled special and the period it lands in.
type ScheduleResult struct {
	Record      domain.Record `json:"record"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
}

// Service is the weather orchestrator.
type Service struct {
	store     Store
	generator *forecast.Generator
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService creates a Service.
func NewService(store Store, generator *forecast.Generator, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:     store,
		generator: generator,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CurrentPeriodBounds returns the weather day containing the service clock's now.
func (s *Service) CurrentPeriodBounds() (domain.Period, error) {
	return domain.CurrentPeriodBounds(s.clock.Now())
}

// NextPeriodBounds returns the weather day after the current one.
func (s *Service) NextPeriodBounds() (domain.Period, error) {
	return domain.NextPeriodBounds(s.clock.Now())
}

// CheckReadiness reports whether the store is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("weather store: %w", err)
	}
	return nil
}

// GetCurrentWeather returns the village's record for the current period,
// generating and saving one if none exists yet.
func (s *Service) GetCurrentWeather(ctx context.Context, village domain.Village) (domain.Record, error) {
	village, err := checkVillage(village)
	if err != nil {
		return domain.Record{}, err
	}
	period, err := s.CurrentPeriodBounds()
	if err != nil {
		return domain.Record{}, err
	}

	rec, found, err := s.findInPeriod(ctx, village, period, false)
	if err != nil {
		return domain.Record{}, err
	}
	if found {
		return rec, nil
	}
	return s.create(ctx, village, period)
}

// GetWeatherWithoutGeneration returns the current period's record, or
// domain.ErrNotFound. It never writes.
func (s *Service) GetWeatherWithoutGeneration(ctx context.Context, village domain.Village, opts Options) (domain.Record, error) {
	village, err := checkVillage(village)
	if err != nil {
		return domain.Record{}, err
	}
	period, err := s.CurrentPeriodBounds()
	if err != nil {
		return domain.Record{}, err
	}

	rec, found, err := s.findInPeriod(ctx, village, period, opts.OnlyPosted)
	if err != nil {
		return domain.Record{}, err
	}
	if !found {
		return domain.Record{}, fmt.Errorf("%w: %s for period starting %s", domain.ErrNotFound, village, period.Start.Format(time.RFC3339))
	}
	return rec, nil
}

// MarkAsPosted records that the morning announcement for rec went out. A nil
// record or one without an ID is skipped.
func (s *Service) MarkAsPosted(ctx context.Context, village domain.Village, rec *domain.Record) error {
	if rec == nil || rec.ID == "" {
		s.logger.Warn("mark as posted skipped: record has no id", "village", village)
		return nil
	}
	now := s.clock.Now().UTC()
	if err := s.store.SetPosted(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("mark %s weather posted: %w", village, err)
	}
	if rec.Posted != domain.Posted {
		rec.Posted = domain.Posted
		rec.PostedAt = &now
	}
	return nil
}

// MarkAsPmPosted records that the evening announcement for rec went out.
func (s *Service) MarkAsPmPosted(ctx context.Context, village domain.Village, rec *domain.Record) error {
	if rec == nil || rec.ID == "" {
		s.logger.Warn("mark as pm posted skipped: record has no id", "village", village)
		return nil
	}
	now := s.clock.Now().UTC()
	if err := s.store.SetPmPosted(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("mark %s weather pm posted: %w", village, err)
	}
	if rec.PmPosted != domain.Posted {
		rec.PmPosted = domain.Posted
		rec.PmPostedAt = &now
	}
	return nil
}

// ScheduleSpecialWeather forces a special onto the village's next period.
// Scheduling twice for the same period fails with domain.ErrAlreadyScheduled
// and leaves the first special in place.
func (s *Service) ScheduleSpecialWeather(ctx context.Context, village domain.Village, label string) (ScheduleResult, error) {
	village, err := checkVillage(village)
	if err != nil {
		return ScheduleResult{}, err
	}
	special, err := s.generator.Tables().ResolveSpecial(label)
	if err != nil {
		return ScheduleResult{}, err
	}
	next, err := s.NextPeriodBounds()
	if err != nil {
		return ScheduleResult{}, err
	}
	log := s.logger.With("village", village, "period_start", next.Start, "special", special.Label)

	rec, found, err := s.findInPeriod(ctx, village, next, false)
	if err != nil {
		return ScheduleResult{}, err
	}
	if !found {
		if rec, err = s.create(ctx, village, next); err != nil {
			return ScheduleResult{}, err
		}
	}

	if rec.HasGuaranteedSpecial() {
		s.metrics.ScheduleRejections.Inc()
		log.Info("special weather already scheduled", "existing", rec.Special.Label)
		return ScheduleResult{}, fmt.Errorf("%w: %s already has %q on %s",
			domain.ErrAlreadyScheduled, village, rec.Special.Label, next.Start.Format(time.DateOnly))
	}

	cond := domain.Condition{
		Label:       special.Label,
		Emoji:       special.Emoji,
		Probability: domain.GuaranteedProbability,
	}
	if err := s.store.SetSpecial(ctx, rec.ID, cond); err != nil {
		if errors.Is(err, domain.ErrAlreadyScheduled) {
			s.metrics.ScheduleRejections.Inc()
		}
		return ScheduleResult{}, fmt.Errorf("schedule %s special: %w", village, err)
	}
	rec.Special = &cond
	log.Info("special weather scheduled", "record_id", rec.ID)

	return ScheduleResult{Record: rec, PeriodStart: next.Start, PeriodEnd: next.End}, nil
}

// findInPeriod looks for the village's record in period p. The first query
// looks back an extra day so records saved under a drifted cutover are still
// considered; anything dated before p.Start is treated as the prior period's.
// A direct lookup by date follows a miss in case a concurrent writer just
// inserted.
func (s *Service) findInPeriod(ctx context.Context, village domain.Village, p domain.Period, onlyPosted bool) (domain.Record, bool, error) {
	rec, err := s.store.FindLatestInRange(ctx, village, p.Start.Add(-domain.PeriodLength), p.NextStart(), onlyPosted)
	switch {
	case err == nil && p.Contains(rec.Date):
		return rec, true, nil
	case err == nil:
		s.logger.Debug("ignoring record from a previous period",
			"village", village, "record_date", rec.Date, "period_start", p.Start)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Record{}, false, fmt.Errorf("find %s weather: %w", village, err)
	}

	rec, err = s.store.FindByDate(ctx, village, p.Start, onlyPosted)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.Record{}, false, nil
	default:
		return domain.Record{}, false, fmt.Errorf("find %s weather by date: %w", village, err)
	}
}

// create generates a record for period p and saves it with an insert-only
// write, returning whichever record ends up stored.
func (s *Service) create(ctx context.Context, village domain.Village, p domain.Period) (domain.Record, error) {
	log := s.logger.With("village", village, "period_start", p.Start)

	history, err := s.store.Recent(ctx, village, p.Start, forecast.HistoryDepth)
	if err != nil {
		return domain.Record{}, fmt.Errorf("load %s history: %w", village, err)
	}

	rec, err := s.generator.Generate(village, domain.SeasonAt(p.Start), history)
	if err != nil {
		log.Error("weather generation failed", "error", err)
		return domain.Record{}, err
	}
	rec.Date = p.Start

	stored, inserted, err := s.store.InsertIfAbsent(ctx, rec)
	if errors.Is(err, domain.ErrDuplicate) {
		return s.recoverDuplicate(ctx, log, village, p)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("save %s weather: %w", village, err)
	}
	if !inserted {
		s.metrics.DuplicateRecoveries.Inc()
		log.Info("weather already generated by a concurrent caller", "record_id", stored.ID)
		return stored, nil
	}

	if err := s.verifyDurable(ctx, stored); err != nil {
		log.Error("saved weather could not be read back", "record_id", stored.ID, "error", err)
		return domain.Record{}, err
	}
	log.Info("weather generated",
		"record_id", stored.ID,
		"temperature", stored.Temperature.Label,
		"wind", stored.Wind.Label,
		"precipitation", stored.Precipitation.Label,
		"special", stored.SpecialLabel(),
	)
	return stored, nil
}

func (s *Service) recoverDuplicate(ctx context.Context, log *slog.Logger, village domain.Village, p domain.Period) (domain.Record, error) {
	s.metrics.DuplicateRecoveries.Inc()
	rec, found, err := s.findInPeriod(ctx, village, p, false)
	if err != nil {
		return domain.Record{}, err
	}
	if !found {
		s.metrics.DurabilityFailures.Inc()
		return domain.Record{}, fmt.Errorf("%w: duplicate reported for %s but no record is readable", domain.ErrNotDurable, village)
	}
	log.Info("recovered weather saved by a concurrent caller", "record_id", rec.ID)
	return rec, nil
}

func (s *Service) verifyDurable(ctx context.Context, rec domain.Record) error {
	if rec.ID == "" {
		s.metrics.DurabilityFailures.Inc()
		return fmt.Errorf("%w: store returned no id", domain.ErrNotDurable)
	}
	ok, err := s.store.Exists(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("verify weather %s: %w", rec.ID, err)
	}
	if !ok {
		s.metrics.DurabilityFailures.Inc()
		return fmt.Errorf("%w: record %s", domain.ErrNotDurable, rec.ID)
	}
	return nil
}

func checkVillage(v domain.Village) (domain.Village, error) {
	return domain.ParseVillage(string(v))
}
