package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinglebot/weather-service/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := rootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBounds(t *testing.T) {
	out, err := run(t, "bounds", "--at", "2024-03-15T12:59:59Z")
	require.NoError(t, err)

	var got map[string]domain.Period
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, time.Date(2024, 3, 14, 13, 0, 0, 0, time.UTC), got["current"].Start)
	assert.Equal(t, time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC), got["next"].Start)

	_, err = run(t, "bounds", "--at", "yesterday")
	assert.ErrorContains(t, err, "--at")
}

func TestTablesValidate(t *testing.T) {
	out, err := run(t, "tables", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "tables ok")

	path := filepath.Join(t.TempDir(), "tables.yaml")
	yaml := `
temperatures:
  - label: "40°F / 4°C - Chilly"
  - label: "90°F / 32°C - Hot"
winds:
  - label: "Calm"
precipitations:
  - label: "Sunny"
  - label: "Snow"
    conditions: { temperature: { max: 32 } }
villages:
  Rudania: { spring: { temperatures: ["40°F / 4°C - Chilly"], winds: ["Calm"], precipitations: ["Snow"] } }
  Inariko: { spring: { temperatures: ["40°F / 4°C - Chilly"], winds: ["Calm"], precipitations: ["Sunny"] } }
  Vhintl: { spring: { temperatures: ["40°F / 4°C - Chilly"], winds: ["Calm"], precipitations: ["Sunny"] } }
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	out, err = run(t, "tables", "validate", "--file", path)
	require.Error(t, err)
	assert.Contains(t, out, "Rudania spring")
	assert.Contains(t, out, "not used by any season table")
}

func TestSimulate_DeterministicPerSeed(t *testing.T) {
	args := []string{"simulate", "vhintl", "--days", "10", "--seed", "42", "--start", "2024-01-05T14:00:00Z"}

	first, err := run(t, args...)
	require.NoError(t, err)
	second, err := run(t, args...)
	require.NoError(t, err)

	a, b := decodeLines(t, first), decodeLines(t, second)
	require.Len(t, a, 10)
	for i := range a {
		assert.Equal(t, domain.Vhintl, a[i].Village)
		assert.Equal(t, time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC).AddDate(0, 0, i), a[i].Date)
		assert.Equal(t, domain.Winter, a[i].Season)
		assert.Equal(t, domain.Posted, a[i].Posted)
		assert.Equal(t, a[i].Temperature, b[i].Temperature)
		assert.Equal(t, a[i].Wind, b[i].Wind)
		assert.Equal(t, a[i].Precipitation, b[i].Precipitation)
		assert.Equal(t, a[i].Special, b[i].Special)
	}
}

func TestSimulate_Errors(t *testing.T) {
	_, err := run(t, "simulate", "hyrule", "--days", "2")
	assert.ErrorIs(t, err, domain.ErrUnknownVillage)

	_, err = run(t, "simulate", "rudania", "--days", "0")
	assert.ErrorContains(t, err, "--days")
}

func TestCurrentAndSchedule_SQLite(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "weather.db"))

	out, err := run(t, "current", "Inariko")
	require.NoError(t, err)
	var rec domain.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, domain.Inariko, rec.Village)

	again, err := run(t, "current", "inariko")
	require.NoError(t, err)
	var same domain.Record
	require.NoError(t, json.Unmarshal([]byte(again), &same))
	assert.Equal(t, rec.ID, same.ID)

	_, err = run(t, "schedule", "Inariko", "Meteor Shower")
	require.NoError(t, err)
	_, err = run(t, "schedule", "Inariko", "Flood")
	assert.ErrorIs(t, err, domain.ErrAlreadyScheduled)
}

func decodeLines(t *testing.T, out string) []domain.Record {
	t.Helper()
	var recs []domain.Record
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r domain.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}
