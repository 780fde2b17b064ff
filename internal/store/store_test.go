package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailguardian/internal/difficulty"
	"trailguardian/internal/monitoring"
	"trailguardian/internal/session"
	"trailguardian/internal/trail"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrip(started time.Time, n int) session.Trip {
	tr := session.Trip{
		ID:        uuid.New(),
		Title:     "Trail – " + started.Format("2006-01-02"),
		StartedAt: started,
		EndedAt:   started.Add(time.Duration(n) * time.Second),
		Weather: []difficulty.WeatherSnapshot{
			{Timestamp: started, TemperatureF: 61, Condition: "Clear", WindSpeedMph: 4, PrecipitationIn: 0},
		},
		Vehicle:   difficulty.VehicleState{Type: difficulty.VehicleBronco, TerrainMode: difficulty.TerrainRockCrawl, WinchUsed: true},
		DistanceM: 1234.5,
		Stats:     trail.TelemetryStats{MaxPitchDeg: 22.5, MaxRollDeg: 11, MaxGForce: 1.4, TotalAirtime: 1500 * time.Millisecond},
		Ratings:   difficulty.Ratings{SuttonScore: 57, JeepBadge: 5, WellsRating: "Black Diamond", USFSRating: "More Difficult", InternationalRating: "Black"},
	}
	for i := 0; i < n; i++ {
		tr.Points = append(tr.Points, trail.Point{
			Timestamp:    started.Add(time.Duration(i) * time.Second),
			Lat:          39 + float64(i)*0.001,
			Lng:          -105,
			FusedAltM:    2400 + float64(i),
			SpeedMps:     3,
			HeadingDeg:   10,
			Roughness:    0.12,
			PitchDeg:     4,
			RollDeg:      -2,
			GForce:       0.3,
			GradePercent: 0.9,
		})
	}
	return tr
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := openTestStore(t)
	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestOpen_ReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.db")
	s, err := Open(path)
	require.NoError(t, err)
	tr := sampleTrip(t0, 2)
	require.NoError(t, s.Save(context.Background(), tr))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
}

func TestSaveGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tr := sampleTrip(t0, 3)
	require.NoError(t, s.Save(ctx, tr))

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestSave_UpsertReplacesPoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tr := sampleTrip(t0, 5)
	require.NoError(t, s.Save(ctx, tr))

	tr.Title = "Moab"
	tr.Points = tr.Points[:2]
	tr.Ratings.SuttonScore = 12
	require.NoError(t, s.Save(ctx, tr))

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Moab", got.Title)
	assert.Len(t, got.Points, 2)
	assert.Equal(t, 12, got.Ratings.SuttonScore)
}

func TestSave_RequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Save(context.Background(), session.Trip{}))
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstWithCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	older := sampleTrip(t0, 2)
	newer := sampleTrip(t0.Add(48*time.Hour), 4)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))
	require.NoError(t, s.SaveTemp(ctx, sampleTrip(t0.Add(96*time.Hour), 1)))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2, "temp trips are not listed")
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, 4, list[0].Points)
	assert.Equal(t, older.ID, list[1].ID)
	assert.Equal(t, older.Ratings, list[1].Ratings)
	assert.Equal(t, older.EndedAt, list[1].EndedAt)
}

func TestList_EmptyIsNotNil(t *testing.T) {
	s := openTestStore(t)
	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tr := sampleTrip(t0, 3)
	require.NoError(t, s.Save(ctx, tr))

	require.NoError(t, s.Delete(ctx, tr.ID))
	_, err := s.Get(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, tr.ID), ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM trip_points`).Scan(&n))
	assert.Zero(t, n, "points cascade with their trip")
}

func TestTemp_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadTemp(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	inProgress := sampleTrip(t0, 2)
	inProgress.EndedAt = time.Time{}
	require.NoError(t, s.SaveTemp(ctx, inProgress))
	got, err := s.LoadTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, inProgress, got)
	assert.True(t, got.InProgress())

	_, err = s.Get(ctx, inProgress.ID)
	assert.ErrorIs(t, err, ErrNotFound, "temp trips are not saved trips")

	other := sampleTrip(t0.Add(time.Hour), 1)
	other.EndedAt = time.Time{}
	require.NoError(t, s.SaveTemp(ctx, other))
	got, err = s.LoadTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID, "only one temp trip is kept")

	require.NoError(t, s.ClearTemp(ctx))
	_, err = s.LoadTemp(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemp_PromotedBySave(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tr := sampleTrip(t0, 2)
	require.NoError(t, s.SaveTemp(ctx, tr))
	require.NoError(t, s.Save(ctx, tr))

	_, err := s.LoadTemp(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, tr.ID)
	assert.NoError(t, err)
}
