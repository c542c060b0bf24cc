package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinglebot/weather-service/internal/domain"
)

type mockWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testAnnouncement() domain.Announcement {
	start := time.Date(2024, 4, 26, 13, 0, 0, 0, time.UTC)
	return domain.Announcement{
		Kind:        domain.MorningAnnouncement,
		Village:     domain.Rudania,
		PeriodStart: start,
		PeriodEnd:   start.Add(24*time.Hour - time.Millisecond),
		Banner:      "rudania_banner_2.png",
		Weather: domain.Record{
			ID:            "rec-1",
			Village:       domain.Rudania,
			Date:          start,
			Season:        domain.Spring,
			Precipitation: domain.Condition{Label: "Sunny", Emoji: "☀️", Probability: "40.0%"},
			Posted:        domain.NotPosted,
		},
		PublishedAt: start.Add(time.Minute),
	}
}

func TestSerializeToMessage(t *testing.T) {
	a := testAnnouncement()

	msg, err := serializeToMessage(a)
	require.NoError(t, err)

	assert.Equal(t, []byte("Rudania"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, []byte("am"), msg.Headers[0].Value)
	assert.Equal(t, "period_start", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-04-26T13:00:00Z"), msg.Headers[1].Value)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "am", body["kind"])
	assert.Equal(t, "rudania_banner_2.png", body["banner"])
	weather := body["weather"].(map[string]any)
	assert.Equal(t, "not_posted", weather["posted"])
}

func TestPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := &Publisher{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, p.Publish(context.Background(), testAnnouncement()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("Rudania"), w.msgs[0].Key)

	w.err = errors.New("broker unavailable")
	err := p.Publish(context.Background(), testAnnouncement())
	require.ErrorIs(t, err, w.err)
	assert.Contains(t, err.Error(), "am announcement for Rudania")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
