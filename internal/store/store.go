// Package store persists finished and in-progress trips in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"trailguardian/internal/difficulty"
	"trailguardian/internal/session"
	"trailguardian/internal/trail"
)

var ErrNotFound = errors.New("trip not found")

var _ session.TempSaver = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Summary is a trip row without its points.
type Summary struct {
	ID        uuid.UUID          `json:"id"`
	Title     string             `json:"title"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	DistanceM float64            `json:"distance_m"`
	Points    int                `json:"points"`
	Ratings   difficulty.Ratings `json:"ratings"`
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save upserts a trip and replaces its points.
func (s *Store) Save(ctx context.Context, t session.Trip) error {
	return s.save(ctx, t, false)
}

// SaveTemp stores t as the single in-progress trip, replacing any other.
func (s *Store) SaveTemp(ctx context.Context, t session.Trip) error {
	return s.save(ctx, t, true)
}

func (s *Store) save(ctx context.Context, t session.Trip, temp bool) error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("trip id is required")
	}
	vehicle, err := json.Marshal(t.Vehicle)
	if err != nil {
		return fmt.Errorf("encode vehicle: %w", err)
	}
	weather := t.Weather
	if weather == nil {
		weather = []difficulty.WeatherSnapshot{}
	}
	wx, err := json.Marshal(weather)
	if err != nil {
		return fmt.Errorf("encode weather: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	id := t.ID.String()
	if temp {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE is_temp = 1 AND id <> ?`, id); err != nil {
			return fmt.Errorf("clear temp trips: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trips (
			id, title, started_at_ns, ended_at_ns, distance_m,
			max_pitch_deg, max_roll_deg, max_gforce, airtime_ns,
			sutton_score, jeep_badge, wells_rating, usfs_rating, international_rating,
			vehicle_json, weather_json, is_temp, updated_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			started_at_ns = excluded.started_at_ns,
			ended_at_ns = excluded.ended_at_ns,
			distance_m = excluded.distance_m,
			max_pitch_deg = excluded.max_pitch_deg,
			max_roll_deg = excluded.max_roll_deg,
			max_gforce = excluded.max_gforce,
			airtime_ns = excluded.airtime_ns,
			sutton_score = excluded.sutton_score,
			jeep_badge = excluded.jeep_badge,
			wells_rating = excluded.wells_rating,
			usfs_rating = excluded.usfs_rating,
			international_rating = excluded.international_rating,
			vehicle_json = excluded.vehicle_json,
			weather_json = excluded.weather_json,
			is_temp = excluded.is_temp,
			updated_at_ns = excluded.updated_at_ns`,
		id, t.Title, t.StartedAt.UnixNano(), nullableTime(t.EndedAt), t.DistanceM,
		t.Stats.MaxPitchDeg, t.Stats.MaxRollDeg, t.Stats.MaxGForce, int64(t.Stats.TotalAirtime),
		t.Ratings.SuttonScore, t.Ratings.JeepBadge, t.Ratings.WellsRating, t.Ratings.USFSRating, t.Ratings.InternationalRating,
		string(vehicle), string(wx), boolInt(temp), s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert trip %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trip_points WHERE trip_id = ?`, id); err != nil {
		return fmt.Errorf("clear points: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trip_points (
			trip_id, seq, ts_ns, lat, lng, fused_alt_m, speed_mps, heading_deg,
			roughness, pitch_deg, roll_deg, gforce, grade_percent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range t.Points {
		if _, err := stmt.ExecContext(ctx, id, i, p.Timestamp.UnixNano(), p.Lat, p.Lng, p.FusedAltM,
			p.SpeedMps, p.HeadingDeg, p.Roughness, p.PitchDeg, p.RollDeg, p.GForce, p.GradePercent); err != nil {
			return fmt.Errorf("insert point %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Get loads a saved trip with its points.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (session.Trip, error) {
	return s.load(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ? AND is_temp = 0`, id.String())
}

// LoadTemp returns the in-progress trip left by a previous run.
func (s *Store) LoadTemp(ctx context.Context) (session.Trip, error) {
	return s.load(ctx, `SELECT `+tripColumns+` FROM trips WHERE is_temp = 1 ORDER BY updated_at_ns DESC LIMIT 1`)
}

func (s *Store) ClearTemp(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE is_temp = 1`)
	return err
}

// List returns saved trips newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.started_at_ns, t.ended_at_ns, t.distance_m,
			t.sutton_score, t.jeep_badge, t.wells_rating, t.usfs_rating, t.international_rating,
			(SELECT COUNT(*) FROM trip_points p WHERE p.trip_id = t.id)
		FROM trips t
		WHERE t.is_temp = 0
		ORDER BY t.started_at_ns DESC, t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			id      string
			started int64
			ended   sql.NullInt64
		)
		r := &sum.Ratings
		if err := rows.Scan(&id, &sum.Title, &started, &ended, &sum.DistanceM,
			&r.SuttonScore, &r.JeepBadge, &r.WellsRating, &r.USFSRating, &r.InternationalRating, &sum.Points); err != nil {
			return nil, err
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("trip id %q: %w", id, err)
		}
		sum.StartedAt = fromNanos(started)
		if ended.Valid {
			sum.EndedAt = fromNanos(ended.Int64)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const tripColumns = `id, title, started_at_ns, ended_at_ns, distance_m,
	max_pitch_deg, max_roll_deg, max_gforce, airtime_ns,
	sutton_score, jeep_badge, wells_rating, usfs_rating, international_rating,
	vehicle_json, weather_json`

func (s *Store) load(ctx context.Context, query string, args ...any) (session.Trip, error) {
	var (
		t       session.Trip
		id      string
		started int64
		ended   sql.NullInt64
		airtime int64
		vehicle string
		weather string
	)
	r := &t.Ratings
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &t.Title, &started, &ended, &t.DistanceM,
		&t.Stats.MaxPitchDeg, &t.Stats.MaxRollDeg, &t.Stats.MaxGForce, &airtime,
		&r.SuttonScore, &r.JeepBadge, &r.WellsRating, &r.USFSRating, &r.InternationalRating,
		&vehicle, &weather)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Trip{}, ErrNotFound
	}
	if err != nil {
		return session.Trip{}, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return session.Trip{}, fmt.Errorf("trip id %q: %w", id, err)
	}
	t.StartedAt = fromNanos(started)
	if ended.Valid {
		t.EndedAt = fromNanos(ended.Int64)
	}
	t.Stats.TotalAirtime = time.Duration(airtime)
	if err := json.Unmarshal([]byte(vehicle), &t.Vehicle); err != nil {
		return session.Trip{}, fmt.Errorf("decode vehicle: %w", err)
	}
	if err := json.Unmarshal([]byte(weather), &t.Weather); err != nil {
		return session.Trip{}, fmt.Errorf("decode weather: %w", err)
	}
	if len(t.Weather) == 0 {
		t.Weather = nil
	}

	t.Points, err = s.points(ctx, id)
	if err != nil {
		return session.Trip{}, err
	}
	return t, nil
}

func (s *Store) points(ctx context.Context, id string) ([]trail.Point, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_ns, lat, lng, fused_alt_m, speed_mps, heading_deg,
			roughness, pitch_deg, roll_deg, gforce, grade_percent
		FROM trip_points WHERE trip_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trail.Point
	for rows.Next() {
		var (
			p  trail.Point
			ts int64
		)
		if err := rows.Scan(&ts, &p.Lat, &p.Lng, &p.FusedAltM, &p.SpeedMps, &p.HeadingDeg,
			&p.Roughness, &p.PitchDeg, &p.RollDeg, &p.GForce, &p.GradePercent); err != nil {
			return nil, err
		}
		p.Timestamp = fromNanos(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
