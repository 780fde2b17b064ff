package session

import (
	"time"

	"github.com/google/uuid"

	"trailguardian/internal/difficulty"
	"trailguardian/internal/trail"
)

// Trip is the record produced by a tracking session.
type Trip struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero while the trip is in progress.
	EndedAt time.Time `json:"ended_at,omitempty"`

	Points  []trail.Point                `json:"points"`
	Weather []difficulty.WeatherSnapshot `json:"weather,omitempty"`
	Vehicle difficulty.VehicleState      `json:"vehicle"`

	DistanceM float64              `json:"distance_m"`
	Stats     trail.TelemetryStats `json:"stats"`
	Ratings   difficulty.Ratings   `json:"ratings"`
}

func defaultTitle(at time.Time) string {
	return "Trail – " + at.Format("2006-01-02")
}

func (t Trip) InProgress() bool { return t.EndedAt.IsZero() }

func (t Trip) TotalDistanceKm() float64 { return t.DistanceM / 1000 }

// Duration is EndedAt-StartedAt, or the span of the points while in progress.
func (t Trip) Duration() time.Duration {
	if !t.EndedAt.IsZero() {
		return t.EndedAt.Sub(t.StartedAt)
	}
	if len(t.Points) < 2 {
		return 0
	}
	return t.Points[len(t.Points)-1].Timestamp.Sub(t.Points[0].Timestamp)
}

// HundredClub reports a maxed-out score.
func (t Trip) HundredClub() bool { return t.Ratings.SuttonScore >= 100 }

// Rescore recomputes the ratings of a stored trip from its own points,
// extrema, weather and vehicle state.
func Rescore(t Trip, s *difficulty.Scorer) Trip {
	t.Ratings = s.Score(t.Points, t.Stats, t.Weather, t.Vehicle)
	return t
}
