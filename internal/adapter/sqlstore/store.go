// Package sqlstore persists weather records in SQLite through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tinglebot/weather-service/internal/domain"
)

type conditionColumns struct {
	Label       string `gorm:"size:128"`
	Emoji       string `gorm:"size:32"`
	Probability string `gorm:"size:64"`
}

// weatherRecord is the row layout. Posted flags are nullable so rows written
// before the flags existed read back as legacy.
type weatherRecord struct {
	ID            string           `gorm:"primaryKey;size:36"`
	Village       string           `gorm:"size:32;not null;uniqueIndex:idx_weather_village_date,priority:1"`
	Date          time.Time        `gorm:"not null;uniqueIndex:idx_weather_village_date,priority:2"`
	Season        string           `gorm:"size:16;not null"`
	Temperature   conditionColumns `gorm:"embedded;embeddedPrefix:temperature_"`
	Wind          conditionColumns `gorm:"embedded;embeddedPrefix:wind_"`
	Precipitation conditionColumns `gorm:"embedded;embeddedPrefix:precipitation_"`

	SpecialLabel       *string `gorm:"size:128"`
	SpecialEmoji       *string `gorm:"size:32"`
	SpecialProbability *string `gorm:"size:64"`

	Posted     *bool
	PostedAt   *time.Time
	PmPosted   *bool
	PmPostedAt *time.Time

	CreatedAt time.Time
}

func (weatherRecord) TableName() string { return "weather_records" }

// Store implements weather.Store on a GORM database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return New(db, logger)
}

// New wraps an existing GORM handle and migrates the weather table. The handle
// should be opened with TranslateError so unique violations map to
// gorm.ErrDuplicatedKey.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&weatherRecord{}); err != nil {
		return nil, fmt.Errorf("migrate weather_records: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) query(ctx context.Context, village domain.Village, onlyPosted bool) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&weatherRecord{}).Where("village = ?", string(village))
	if onlyPosted {
		q = q.Where("(posted IS NULL OR posted = ?)", true)
	}
	return q
}

func (s *Store) first(q *gorm.DB) (domain.Record, error) {
	var row weatherRecord
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) FindLatestInRange(ctx context.Context, village domain.Village, from, to time.Time, onlyPosted bool) (domain.Record, error) {
	return s.first(s.query(ctx, village, onlyPosted).
		Where("date >= ? AND date < ?", from.UTC(), to.UTC()).
		Order("date DESC"))
}

func (s *Store) FindByDate(ctx context.Context, village domain.Village, date time.Time, onlyPosted bool) (domain.Record, error) {
	return s.first(s.query(ctx, village, onlyPosted).Where("date = ?", date.UTC()))
}

// InsertIfAbsent inserts with ON CONFLICT DO NOTHING on (village, date), so an
// existing row is never touched. A zero row count means another writer got
// there first and its row is returned instead.
func (s *Store) InsertIfAbsent(ctx context.Context, rec domain.Record) (domain.Record, bool, error) {
	row := fromDomain(rec)
	row.ID = uuid.NewString()

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "village"}, {Name: "date"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return domain.Record{}, false, domain.ErrDuplicate
		}
		return domain.Record{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("weather slot already taken", "village", rec.Village, "date", rec.Date)
		existing, err := s.FindByDate(ctx, rec.Village, rec.Date, false)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Record{}, false, domain.ErrDuplicate
		}
		if err != nil {
			return domain.Record{}, false, err
		}
		return existing, false, nil
	}
	return row.toDomain(), true, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&weatherRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Recent(ctx context.Context, village domain.Village, before time.Time, n int) ([]domain.Record, error) {
	var rows []weatherRecord
	err := s.query(ctx, village, false).
		Where("date < ?", before.UTC()).
		Order("date DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *Store) SetPosted(ctx context.Context, id string, at time.Time) error {
	return s.markPosted(ctx, id, "posted", "posted_at", at)
}

func (s *Store) SetPmPosted(ctx context.Context, id string, at time.Time) error {
	return s.markPosted(ctx, id, "pm_posted", "pm_posted_at", at)
}

// markPosted only touches rows not already marked, keeping the first
// timestamp.
func (s *Store) markPosted(ctx context.Context, id, flag, stamp string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&weatherRecord{}).
		Where("id = ?", id).
		Where(fmt.Sprintf("(%s IS NULL OR %s = ?)", flag, flag), false).
		Updates(map[string]any{flag: true, stamp: at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

// SetSpecial is conditional on the row not already holding a guaranteed
// special, so two schedulers cannot both succeed.
func (s *Store) SetSpecial(ctx context.Context, id string, special domain.Condition) error {
	res := s.db.WithContext(ctx).Model(&weatherRecord{}).
		Where("id = ?", id).
		Where("(special_probability IS NULL OR special_probability <> ?)", domain.GuaranteedProbability).
		Updates(map[string]any{
			"special_label":       special.Label,
			"special_emoji":       special.Emoji,
			"special_probability": special.Probability,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if err := s.mustExist(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyScheduled
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) mustExist(ctx context.Context, id string) error {
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return nil
}

func fromDomain(rec domain.Record) weatherRecord {
	row := weatherRecord{
		ID:            rec.ID,
		Village:       string(rec.Village),
		Date:          rec.Date.UTC(),
		Season:        string(rec.Season),
		Temperature:   conditionColumns(rec.Temperature),
		Wind:          conditionColumns(rec.Wind),
		Precipitation: conditionColumns(rec.Precipitation),
		Posted:        postFlag(rec.Posted),
		PostedAt:      rec.PostedAt,
		PmPosted:      postFlag(rec.PmPosted),
		PmPostedAt:    rec.PmPostedAt,
	}
	if sp := rec.Special; sp != nil {
		row.SpecialLabel = &sp.Label
		row.SpecialEmoji = &sp.Emoji
		row.SpecialProbability = &sp.Probability
	}
	return row
}

func (r weatherRecord) toDomain() domain.Record {
	rec := domain.Record{
		ID:            r.ID,
		Village:       domain.Village(r.Village),
		Date:          r.Date.UTC(),
		Season:        domain.Season(r.Season),
		Temperature:   domain.Condition(r.Temperature),
		Wind:          domain.Condition(r.Wind),
		Precipitation: domain.Condition(r.Precipitation),
		Posted:        postState(r.Posted),
		PostedAt:      utc(r.PostedAt),
		PmPosted:      postState(r.PmPosted),
		PmPostedAt:    utc(r.PmPostedAt),
	}
	if r.SpecialLabel != nil {
		rec.Special = &domain.Condition{
			Label:       *r.SpecialLabel,
			Emoji:       deref(r.SpecialEmoji),
			Probability: deref(r.SpecialProbability),
		}
	}
	return rec
}

func postFlag(s domain.PostState) *bool {
	switch s {
	case domain.Posted:
		v := true
		return &v
	case domain.NotPosted:
		v := false
		return &v
	default:
		return nil
	}
}

func postState(b *bool) domain.PostState {
	switch {
	case b == nil:
		return domain.LegacyUnknown
	case *b:
		return domain.Posted
	default:
		return domain.NotPosted
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
