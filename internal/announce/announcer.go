// Package announce runs the daily weather posts: a morning announcement at
// each period start and an evening reminder later the same period.
package announce

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	maxAttempts    = 5
)

// WeatherService is the subset of weather.Service the announcer drives.
type WeatherService interface {
	CurrentPeriodBounds() (domain.Period, error)
	GetCurrentWeather(ctx context.Context, village domain.Village) (domain.Record, error)
	GetWeatherWithoutGeneration(ctx context.Context, village domain.Village, opts weather.Options) (domain.Record, error)
	MarkAsPosted(ctx context.Context, village domain.Village, rec *domain.Record) error
	MarkAsPmPosted(ctx context.Context, village domain.Village, rec *domain.Record) error
}

// Publisher delivers an announcement to the chat integration.
type Publisher interface {
	Publish(ctx context.Context, a domain.Announcement) error
}

// BannerSelector picks the image attached to a post.
type BannerSelector interface {
	Select(village domain.Village, periodStart time.Time) string
}

// Announcer schedules and publishes announcements for every village.
type Announcer struct {
	weather   WeatherService
	publisher Publisher
	banners   BannerSelector
	clock     clockwork.Clock
	pmOffset  time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates an Announcer. banners may be nil.
func New(svc WeatherService, pub Publisher, banners BannerSelector, clock clockwork.Clock, pmOffset time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Announcer {
	return &Announcer{
		weather:   svc,
		publisher: pub,
		banners:   banners,
		clock:     clock,
		pmOffset:  pmOffset,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the first morning pass has completed.
func (a *Announcer) CheckReadiness(_ context.Context) error {
	if !a.ready.Load() {
		return errors.New("announcer has not completed a morning pass yet")
	}
	return nil
}

// Run posts on startup and then at every period start and evening offset
// until the context is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	a.logger.Info("announcer started", "pm_offset", a.pmOffset)
	a.metrics.AnnouncerRunning.Set(1)
	defer a.metrics.AnnouncerRunning.Set(0)

	a.morning(ctx)
	a.ready.Store(true)

	period, err := a.weather.CurrentPeriodBounds()
	if err != nil {
		return err
	}
	if !a.clock.Now().Before(period.Start.Add(a.pmOffset)) {
		a.evening(ctx)
	}

	for {
		period, err := a.weather.CurrentPeriodBounds()
		if err != nil {
			return err
		}
		now := a.clock.Now()
		pmAt := period.Start.Add(a.pmOffset)

		next, pass := period.NextStart(), a.morning
		if now.Before(pmAt) {
			next, pass = pmAt, a.evening
		}

		if !sleepWithContext(ctx, a.clock, next.Sub(now)) {
			a.logger.Info("announcer stopping", "reason", ctx.Err())
			return nil
		}
		pass(ctx)
	}
}

// morning announces the current period for each village that has not been
// posted yet, generating the record if needed.
func (a *Announcer) morning(ctx context.Context) {
	for _, village := range domain.Villages {
		if ctx.Err() != nil {
			return
		}
		log := a.logger.With("village", village, "kind", domain.MorningAnnouncement)

		rec, err := a.weather.GetCurrentWeather(ctx, village)
		if err != nil {
			log.Error("get current weather failed", "error", err)
			continue
		}
		if rec.Posted.IsPosted() {
			log.Debug("already posted", "period_start", rec.Date)
			continue
		}
		if !a.announce(ctx, log, domain.MorningAnnouncement, rec) {
			continue
		}
		if err := a.weather.MarkAsPosted(ctx, village, &rec); err != nil {
			log.Error("mark as posted failed", "error", err)
		}
	}
}

// evening reminds each village of weather that was already announced this
// period. It never generates.
func (a *Announcer) evening(ctx context.Context) {
	for _, village := range domain.Villages {
		if ctx.Err() != nil {
			return
		}
		log := a.logger.With("village", village, "kind", domain.EveningAnnouncement)

		rec, err := a.weather.GetWeatherWithoutGeneration(ctx, village, weather.Options{OnlyPosted: true})
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug("no posted weather this period")
			continue
		}
		if err != nil {
			log.Error("get posted weather failed", "error", err)
			continue
		}
		if rec.PmPosted.IsPosted() {
			log.Debug("evening reminder already posted", "period_start", rec.Date)
			continue
		}
		if !a.announce(ctx, log, domain.EveningAnnouncement, rec) {
			continue
		}
		if err := a.weather.MarkAsPmPosted(ctx, village, &rec); err != nil {
			log.Error("mark as pm posted failed", "error", err)
		}
	}
}

func (a *Announcer) announce(ctx context.Context, log *slog.Logger, kind domain.AnnouncementKind, rec domain.Record) bool {
	msg := domain.Announcement{
		Kind:        kind,
		Village:     rec.Village,
		PeriodStart: rec.Date,
		PeriodEnd:   domain.Period{Start: rec.Date}.NextStart().Add(-time.Millisecond),
		Weather:     rec,
		PublishedAt: a.clock.Now().UTC(),
	}
	if a.banners != nil {
		msg.Banner = a.banners.Select(rec.Village, rec.Date)
	}

	if err := a.publishWithRetry(ctx, log, msg); err != nil {
		a.metrics.AnnouncementsFailed.WithLabelValues(string(kind)).Inc()
		log.Error("announcement failed", "error", err, "attempts", maxAttempts)
		return false
	}
	a.metrics.AnnouncementsPublished.WithLabelValues(string(kind)).Inc()
	log.Info("announcement published", "period_start", rec.Date, "banner", msg.Banner)
	return true
}

func (a *Announcer) publishWithRetry(ctx context.Context, log *slog.Logger, msg domain.Announcement) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = a.publisher.Publish(ctx, msg); err == nil {
			return nil
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		log.Warn("publish failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)
		if !sleepWithContext(ctx, a.clock, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
