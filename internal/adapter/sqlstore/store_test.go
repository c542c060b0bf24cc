package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

var (
	day1 = time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
	day3 = day2.Add(24 * time.Hour)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "weather.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	s, err := Open(dsn, discardLogger())
	require.NoError(t, err)

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(village domain.Village, date time.Time, posted domain.PostState) domain.Record {
	return domain.Record{
		Village:       village,
		Date:          date,
		Season:        domain.Summer,
		Temperature:   domain.Condition{Label: "82°F / 28°C - Warm", Emoji: "☀️", Probability: "25.0%"},
		Wind:          domain.Condition{Label: "2 - 12(km/h) // Breeze", Emoji: "🎐", Probability: "33.3%"},
		Precipitation: domain.Condition{Label: "Sunny", Emoji: "☀️", Probability: "41.2%"},
		Posted:        posted,
		PmPosted:      posted,
	}
}

func mustInsert(t *testing.T, s *Store, rec domain.Record) domain.Record {
	t.Helper()
	stored, inserted, err := s.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)
	return stored
}

func TestInsertIfAbsent_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := record(domain.Rudania, day1, domain.NotPosted)
	rec.Special = &domain.Condition{Label: "Drought", Emoji: "🌵", Probability: "12.5%"}
	stored := mustInsert(t, s, rec)
	require.NotEmpty(t, stored.ID)

	got, err := s.FindByDate(ctx, domain.Rudania, day1, false)
	require.NoError(t, err)

	want := rec
	want.ID = stored.ID
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	ok, err := s.Exists(ctx, stored.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertIfAbsent_NeverOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := mustInsert(t, s, record(domain.Inariko, day1, domain.NotPosted))

	second := record(domain.Inariko, day1, domain.NotPosted)
	second.Precipitation = domain.Condition{Label: "Rain"}
	got, inserted, err := s.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Sunny", got.Precipitation.Label)

	// Different village, same date is a separate slot.
	mustInsert(t, s, record(domain.Vhintl, day1, domain.NotPosted))
}

func TestFindLatestInRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := mustInsert(t, s, record(domain.Vhintl, day1, domain.Posted))
	newer := mustInsert(t, s, record(domain.Vhintl, day2, domain.NotPosted))
	mustInsert(t, s, record(domain.Vhintl, day3, domain.NotPosted))
	mustInsert(t, s, record(domain.Rudania, day2, domain.Posted))

	got, err := s.FindLatestInRange(ctx, domain.Vhintl, day1, day3, false)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID, "upper bound is exclusive")

	got, err = s.FindLatestInRange(ctx, domain.Vhintl, day1, day3, true)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID, "unposted records skipped")

	_, err = s.FindLatestInRange(ctx, domain.Inariko, day1, day3, false)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByDate_LegacyCountsAsPosted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	legacy := mustInsert(t, s, record(domain.Rudania, day1, domain.LegacyUnknown))
	mustInsert(t, s, record(domain.Rudania, day2, domain.NotPosted))

	got, err := s.FindByDate(ctx, domain.Rudania, day1, true)
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, got.ID)
	assert.Equal(t, domain.LegacyUnknown, got.Posted)

	_, err = s.FindByDate(ctx, domain.Rudania, day2, true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, d := range []time.Time{day1, day2, day3, day3.Add(24 * time.Hour)} {
		mustInsert(t, s, record(domain.Inariko, d, domain.Posted))
	}

	got, err := s.Recent(ctx, domain.Inariko, day3.Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day3, got[0].Date)
	assert.Equal(t, day2, got[1].Date)
}

func TestSetPosted_KeepsFirstTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := mustInsert(t, s, record(domain.Rudania, day1, domain.NotPosted))

	first := day1.Add(time.Minute)
	require.NoError(t, s.SetPosted(ctx, rec.ID, first))
	require.NoError(t, s.SetPosted(ctx, rec.ID, first.Add(time.Hour)))
	require.NoError(t, s.SetPmPosted(ctx, rec.ID, first.Add(12*time.Hour)))

	got, err := s.FindByDate(ctx, domain.Rudania, day1, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Posted, got.Posted)
	require.NotNil(t, got.PostedAt)
	assert.True(t, first.Equal(*got.PostedAt))
	assert.Equal(t, domain.Posted, got.PmPosted)

	require.ErrorIs(t, s.SetPosted(ctx, "missing", first), domain.ErrNotFound)
}

func TestSetSpecial_RejectsSecondGuarantee(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := record(domain.Vhintl, day2, domain.NotPosted)
	rec.Special = &domain.Condition{Label: "Muggy", Probability: "20.0%"}
	rec = mustInsert(t, s, rec)

	flood := domain.Condition{Label: "Flood", Emoji: "🌊", Probability: domain.GuaranteedProbability}
	require.NoError(t, s.SetSpecial(ctx, rec.ID, flood), "rolled special can be replaced")

	err := s.SetSpecial(ctx, rec.ID, domain.Condition{Label: "Drought", Probability: domain.GuaranteedProbability})
	require.ErrorIs(t, err, domain.ErrAlreadyScheduled)

	got, err := s.FindByDate(ctx, domain.Vhintl, day2, false)
	require.NoError(t, err)
	assert.Equal(t, &flood, got.Special)

	require.ErrorIs(t, s.SetSpecial(ctx, "missing", flood), domain.ErrNotFound)
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestServiceOnSQLite_ConcurrentCallersShareOneRow(t *testing.T) {
	s := openTestStore(t)
	tables, err := forecast.DefaultTables()
	require.NoError(t, err)

	metrics := observability.NewMetricsForTesting()
	gen := forecast.NewGenerator(tables, nil, discardLogger(), metrics)
	clock := clockwork.NewFakeClockAt(day1.Add(3 * time.Hour))
	svc := weather.NewService(s, gen, clock, discardLogger(), metrics)

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.GetCurrentWeather(context.Background(), domain.Rudania)
			assert.NoError(t, err)
			ids[i] = rec.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var n int64
	require.NoError(t, s.db.Model(&weatherRecord{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
