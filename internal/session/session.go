// Package session owns one tracking session: a fusion engine, a motion
// recorder and a point builder, wired to the sensor callbacks.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"trailguardian/internal/altitude"
	"trailguardian/internal/difficulty"
	"trailguardian/internal/monitoring"
	"trailguardian/internal/motion"
	"trailguardian/internal/trail"
)

type Config struct {
	Altitude   altitude.Config
	Motion     motion.Config
	Trail      trail.Config
	Difficulty difficulty.Config

	// AutosaveInterval is the Run checkpoint cadence. Defaults to 60s.
	AutosaveInterval time.Duration

	// Now is the wall clock used for trip start/end. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Altitude:         altitude.DefaultConfig(),
		Motion:           motion.DefaultConfig(),
		Trail:            trail.DefaultConfig(),
		Difficulty:       difficulty.DefaultConfig(),
		AutosaveInterval: 60 * time.Second,
	}
}

// TempSaver persists in-progress trips for crash recovery.
type TempSaver interface {
	SaveTemp(ctx context.Context, t Trip) error
}

// Status is a consistent read-only view for status endpoints.
type Status struct {
	TripID      uuid.UUID          `json:"trip_id"`
	Active      bool               `json:"active"`
	FusedAltM   float64            `json:"fused_alt_m"`
	Motion      motion.Snapshot    `json:"motion"`
	HistoryLen  int                `json:"history_len"`
	Points      int                `json:"points"`
	LastPoint   *trail.Point       `json:"last_point,omitempty"`
	Preview     difficulty.Ratings `json:"preview"`
	PreviewBand string             `json:"preview_band"`
}

type Session struct {
	cfg     Config
	engine  *altitude.Engine
	rec     *motion.Recorder
	builder *trail.Builder
	scorer  *difficulty.Scorer

	// mu serializes fix handling so points are appended in timestamp order.
	mu       sync.Mutex
	trip     Trip
	points   []trail.Point
	lastBaro float64
	active   bool
	dropped  int
}

func New(cfg Config) *Session {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	engine := altitude.New(cfg.Altitude)
	rec := motion.New(cfg.Motion)
	return &Session{
		cfg:     cfg,
		engine:  engine,
		rec:     rec,
		builder: trail.NewBuilder(cfg.Trail, engine, rec),
		scorer:  difficulty.NewScorer(cfg.Difficulty),
	}
}

// Start begins a new trip, resetting the fusion engine and motion history.
func (s *Session) Start(title string) uuid.UUID {
	s.engine.Reset()
	s.rec.Clear()

	now := s.cfg.Now().UTC()
	if title == "" {
		title = defaultTitle(now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trip = Trip{ID: uuid.New(), Title: title, StartedAt: now}
	s.points = nil
	s.lastBaro = 0
	s.active = true
	s.dropped = 0
	monitoring.Logf("session: started trip id=%s title=%q", s.trip.ID, title)
	return s.trip.ID
}

// Resume continues a recovered in-progress trip. Sensor buffers start empty.
func (s *Session) Resume(t Trip) {
	s.engine.Reset()
	s.rec.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	t.EndedAt = time.Time{}
	s.trip = t
	s.points = append([]trail.Point(nil), t.Points...)
	s.lastBaro = 0
	s.active = true
	monitoring.Logf("session: resumed trip id=%s points=%d", t.ID, len(t.Points))
}

// OnBarometer records the latest barometric relative altitude (meters). It is
// fused with the next GPS fix.
func (s *Session) OnBarometer(relAltM float64) {
	s.mu.Lock()
	s.lastBaro = relAltM
	s.mu.Unlock()
}

func (s *Session) OnAttitude(pitchRad, rollRad float64) {
	s.rec.OnAttitude(pitchRad, rollRad)
}

func (s *Session) OnUserAcceleration(ax, ay, az float64) {
	s.rec.OnUserAcceleration(ax, ay, az)
}

func (s *Session) OnRawAcceleration(at time.Time, ax, ay, az float64) {
	s.rec.OnRawAcceleration(at, ax, ay, az)
}

// OnFix fuses the fix altitude, then builds and appends a trail point. It
// reports whether a point was appended.
func (s *Session) OnFix(fix trail.Fix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}

	var prev *trail.Point
	if n := len(s.points); n > 0 {
		prev = &s.points[n-1]
		if !fix.Timestamp.After(prev.Timestamp) {
			s.dropped++
			monitoring.Logf("session: out-of-order fix at %s dropped", fix.Timestamp.Format(time.RFC3339Nano))
			return false
		}
	}

	s.engine.Update(fix.AltitudeM, s.lastBaro, fix.Timestamp)
	p, ok := s.builder.Build(fix, prev)
	if !ok {
		s.dropped++
		return false
	}
	s.points = append(s.points, p)
	return true
}

func (s *Session) AddWeather(w difficulty.WeatherSnapshot) {
	s.mu.Lock()
	s.trip.Weather = append(s.trip.Weather, w)
	s.mu.Unlock()
}

func (s *Session) SetVehicle(v difficulty.VehicleState) {
	s.mu.Lock()
	s.trip.Vehicle = v
	s.mu.Unlock()
}

// FusedAltitude is the engine's current estimate, for camp-site capture and
// similar collaborators.
func (s *Session) FusedAltitude() float64 { return s.engine.FusedAltitude() }

// Checkpoint builds the in-progress trip without ending it.
func (s *Session) Checkpoint() Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked()
}

// Finish ends the trip, computes its ratings and clears the motion history.
func (s *Session) Finish() Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.buildLocked()
	t.EndedAt = s.cfg.Now().UTC()
	s.active = false
	s.rec.Clear()

	monitoring.Logf("session: finished trip id=%s points=%d dropped=%d distance_km=%.2f duration=%s score=%d",
		t.ID, len(t.Points), s.dropped, t.TotalDistanceKm(), t.Duration().Round(time.Second), t.Ratings.SuttonScore)
	if t.HundredClub() {
		monitoring.Logf("session: trip id=%s joined the 100 club", t.ID)
	}
	return t
}

func (s *Session) buildLocked() Trip {
	t := s.trip
	t.Points = append([]trail.Point(nil), s.points...)
	t.Weather = append([]difficulty.WeatherSnapshot(nil), s.trip.Weather...)
	t.DistanceM = trail.TotalDistanceM(s.builder.Config(), t.Points)
	t.Stats = trail.Extrema(t.Points)
	t.Stats.TotalAirtime = s.trip.Stats.TotalAirtime + s.rec.Airtime()
	t.Ratings = s.scorer.Score(t.Points, t.Stats, t.Weather, t.Vehicle)
	return t
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		TripID:     s.trip.ID,
		Active:     s.active,
		FusedAltM:  s.engine.FusedAltitude(),
		Motion:     s.rec.Current(),
		HistoryLen: s.rec.Len(),
		Points:     len(s.points),
	}
	if n := len(s.points); n > 0 {
		p := s.points[n-1]
		st.LastPoint = &p
	}
	st.Preview = s.scorer.Score(s.points, trail.Extrema(s.points), s.trip.Weather, s.trip.Vehicle)
	st.PreviewBand = difficulty.Band(st.Preview.SuttonScore)
	return st
}

// Run checkpoints the trip to saver every AutosaveInterval until ctx is done.
func (s *Session) Run(ctx context.Context, saver TempSaver) error {
	if saver == nil {
		<-ctx.Done()
		return nil
	}
	tick := time.NewTicker(s.cfg.AutosaveInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if !s.isActive() {
				continue
			}
			t := s.Checkpoint()
			if err := saver.SaveTemp(ctx, t); err != nil {
				monitoring.Logf("session: autosave failed id=%s: %v", t.ID, err)
				continue
			}
			monitoring.Logf("session: autosaved id=%s points=%d", t.ID, len(t.Points))
		}
	}
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
