package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/pkg/logger"
)

func newTestStore(t *testing.T) *ScheduleStore {
	t.Helper()
	store, err := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndGetSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }

	records := []schedule.Record{
		{FlightNumber: "LH900", AirlineName: "Lufthansa", Status: "scheduled", Departure: schedule.Endpoint{Gate: "A26"}},
		{FlightNumber: "LX1071", AirlineName: "Swiss", Status: "active"},
	}
	n, err := store.UpsertSchedules(ctx, records, func(r schedule.Record) string { return strings.ToUpper(r.Status) })
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetSchedule(ctx, "LH900")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lufthansa", got.Record.AirlineName)
	assert.Equal(t, "A26", got.Record.Departure.Gate)
	assert.Equal(t, "SCHEDULED", got.SourceStatus)
	assert.True(t, first.Equal(got.LastUpdated))

	// Second write replaces the document and refreshes last_updated.
	second := first.Add(5 * time.Minute)
	store.now = func() time.Time { return second }
	records[0].Departure.Gate = "B44"
	_, err = store.UpsertSchedules(ctx, records[:1], nil)
	require.NoError(t, err)

	got, err = store.GetSchedule(ctx, "LH900")
	require.NoError(t, err)
	assert.Equal(t, "B44", got.Record.Departure.Gate)
	assert.Equal(t, "scheduled", got.SourceStatus)
	assert.True(t, second.Equal(got.LastUpdated))

	count, err := store.CountSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGetScheduleMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSchedule(context.Background(), "XX1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertSkipsPlaceholders(t *testing.T) {
	store := newTestStore(t)

	n, err := store.UpsertSchedules(context.Background(), []schedule.Record{
		{FlightNumber: "QTR8", Placeholder: true},
		{FlightNumber: ""},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
