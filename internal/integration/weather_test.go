//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	kafkaadapter "github.com/tinglebot/weather-service/internal/adapter/kafka"
	"github.com/tinglebot/weather-service/internal/adapter/memory"
	mongostore "github.com/tinglebot/weather-service/internal/adapter/mongo"
	"github.com/tinglebot/weather-service/internal/announce"
	"github.com/tinglebot/weather-service/internal/banner"
	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

const (
	testDatabase   = "tinglebot_test"
	testCollection = "weathers"
	testTopic      = "weather-announcements-test"
)

var (
	testNow     = time.Date(2024, 6, 20, 15, 0, 0, 0, time.UTC)
	periodStart = time.Date(2024, 6, 20, 13, 0, 0, 0, time.UTC)
)

func newService(t *testing.T, store weather.Store, clock clockwork.Clock) *weather.Service {
	t.Helper()
	tables, err := forecast.DefaultTables()
	require.NoError(t, err)
	metrics := observability.NewMetricsForTesting()
	return weather.NewService(store, forecast.NewGenerator(tables, nil, discardLogger(), metrics), clock, discardLogger(), metrics)
}

func connectMongo(ctx context.Context, t *testing.T) (*mongostore.Store, *mongo.Collection) {
	t.Helper()
	uri := startMongo(ctx, t)

	store, err := mongostore.Connect(ctx, uri, testDatabase, testCollection, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return store, client.Database(testDatabase).Collection(testCollection)
}

func TestMongoStore_ConcurrentCallersShareOneRecord(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, coll := connectMongo(ctx, t)
	svc := newService(t, store, clockwork.NewFakeClockAt(testNow))

	const callers = 20
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.GetCurrentWeather(ctx, domain.Rudania)
			assert.NoError(t, err)
			ids[i] = rec.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, err := coll.CountDocuments(ctx, bson.D{{Key: "village", Value: "Rudania"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var raw bson.M
	require.NoError(t, coll.FindOne(ctx, bson.D{}).Decode(&raw))
	assert.Equal(t, false, raw["postedToDiscord"])
	assert.Equal(t, "summer", raw["season"])
}

func TestMongoStore_LegacyDocumentCountsAsPosted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, coll := connectMongo(ctx, t)
	svc := newService(t, store, clockwork.NewFakeClockAt(testNow))

	_, err := coll.InsertOne(ctx, bson.D{
		{Key: "village", Value: "Vhintl"},
		{Key: "date", Value: periodStart},
		{Key: "season", Value: "summer"},
		{Key: "temperature", Value: bson.D{{Key: "label", Value: "82°F / 28°C - Warm"}}},
		{Key: "wind", Value: bson.D{{Key: "label", Value: "2 - 12(km/h) // Breeze"}}},
		{Key: "precipitation", Value: bson.D{{Key: "label", Value: "Sunny"}}},
	})
	require.NoError(t, err)

	rec, err := svc.GetWeatherWithoutGeneration(ctx, domain.Vhintl, weather.Options{OnlyPosted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.LegacyUnknown, rec.Posted)
	assert.Equal(t, "Sunny", rec.Precipitation.Label)

	// The legacy record is reused rather than regenerated.
	current, err := svc.GetCurrentWeather(ctx, domain.Vhintl)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, current.ID)

	require.NoError(t, svc.MarkAsPosted(ctx, domain.Vhintl, &current))
	require.NoError(t, svc.MarkAsPosted(ctx, domain.Vhintl, &current))
	var raw bson.M
	require.NoError(t, coll.FindOne(ctx, bson.D{{Key: "village", Value: "Vhintl"}}).Decode(&raw))
	assert.Equal(t, true, raw["postedToDiscord"])
}

func TestMongoStore_ScheduleSpecialOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, _ := connectMongo(ctx, t)
	svc := newService(t, store, clockwork.NewFakeClockAt(testNow))

	res, err := svc.ScheduleSpecialWeather(ctx, domain.Inariko, "meteor shower")
	require.NoError(t, err)
	assert.Equal(t, periodStart.Add(24*time.Hour), res.PeriodStart)
	require.NotNil(t, res.Record.Special)
	assert.Equal(t, "Meteor Shower", res.Record.Special.Label)

	_, err = svc.ScheduleSpecialWeather(ctx, domain.Inariko, "Flood")
	require.ErrorIs(t, err, domain.ErrAlreadyScheduled)
}

func TestAnnouncerPublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaAnnounceTopic: testTopic}
	publisher := kafkaadapter.NewPublisher(cfg, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	svc := newService(t, memory.New(), clock)
	a := announce.New(svc, publisher, banner.NewSelector(nil, time.Hour), clock, 12*time.Hour,
		discardLogger(), observability.NewMetricsForTesting())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	stop()
	require.NoError(t, <-done)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = reader.Close() })

	seen := map[string]bool{}
	for range domain.Villages {
		readCtx, cancelRead := context.WithTimeout(ctx, 30*time.Second)
		msg, err := reader.ReadMessage(readCtx)
		cancelRead()
		require.NoError(t, err)

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "am", headers["kind"])
		assert.Equal(t, periodStart.Format(time.RFC3339), headers["period_start"])

		var got domain.Announcement
		require.NoError(t, json.Unmarshal(msg.Value, &got))
		assert.Equal(t, string(got.Village), string(msg.Key))
		assert.Contains(t, banner.DefaultBanners[got.Village], got.Banner)
		seen[string(got.Village)] = true
	}
	assert.Len(t, seen, len(domain.Villages))
}
