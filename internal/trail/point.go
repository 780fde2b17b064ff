// Package trail turns accepted GPS fixes into validated trail points, pairing
// each fix with the fused altitude and the nearest motion snapshot, and computes
// the grade between consecutive points.
package trail

import (
	"math"
	"time"

	"trailguardian/internal/monitoring"
	"trailguardian/internal/motion"
)

type Config struct {
	// MaxAccuracyM rejects fixes whose horizontal accuracy is worse than this.
	MaxAccuracyM float64

	// Flat-earth scale factors for the equirectangular distance.
	MetersPerDegreeLat float64
	MetersPerDegreeLng float64

	// Fused altitude must lie strictly inside (MinAltitudeM, MaxAltitudeM).
	MinAltitudeM float64
	MaxAltitudeM float64
}

func DefaultConfig() Config {
	return Config{
		MaxAccuracyM:       100,
		MetersPerDegreeLat: 111000,
		MetersPerDegreeLng: 111000,
		MinAltitudeM:       -500,
		MaxAltitudeM:       9000,
	}
}

// Fix is one GPS position report. Speed is m/s, Heading is degrees true;
// negative Heading or HorizontalAccuracyM means the receiver did not report it.
type Fix struct {
	Timestamp           time.Time
	Lat                 float64
	Lng                 float64
	AltitudeM           float64
	SpeedMps            float64
	HeadingDeg          float64
	HorizontalAccuracyM float64
}

// Point is one immutable, validated trail sample.
type Point struct {
	Timestamp    time.Time `json:"timestamp"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	FusedAltM    float64   `json:"fused_alt_m"`
	SpeedMps     float64   `json:"speed_mps"`
	HeadingDeg   float64   `json:"heading_deg"`
	Roughness    float64   `json:"roughness"`
	PitchDeg     float64   `json:"pitch_deg"`
	RollDeg      float64   `json:"roll_deg"`
	GForce       float64   `json:"g_force"`
	GradePercent float64   `json:"grade_percent"`
}

// AltitudeSource publishes the current fused altitude.
type AltitudeSource interface {
	FusedAltitude() float64
}

// MotionSource exposes the motion history and the instantaneous state.
type MotionSource interface {
	NearestSnapshot(t time.Time) (motion.Snapshot, bool)
	Current() motion.Snapshot
}

// Builder reads published values only; it never mutates its sources.
type Builder struct {
	cfg    Config
	alt    AltitudeSource
	motion MotionSource
}

func NewBuilder(cfg Config, alt AltitudeSource, ms MotionSource) *Builder {
	def := DefaultConfig()
	if cfg.MaxAccuracyM <= 0 {
		cfg.MaxAccuracyM = def.MaxAccuracyM
	}
	if cfg.MetersPerDegreeLat <= 0 {
		cfg.MetersPerDegreeLat = def.MetersPerDegreeLat
	}
	if cfg.MetersPerDegreeLng <= 0 {
		cfg.MetersPerDegreeLng = def.MetersPerDegreeLng
	}
	if cfg.MinAltitudeM == 0 && cfg.MaxAltitudeM == 0 {
		cfg.MinAltitudeM, cfg.MaxAltitudeM = def.MinAltitudeM, def.MaxAltitudeM
	}
	return &Builder{cfg: cfg, alt: alt, motion: ms}
}

func (b *Builder) Config() Config { return b.cfg }

// Build returns the point for fix, or false if the fix or the resulting point
// is invalid. prev is the last appended point, nil for the first fix.
func (b *Builder) Build(fix Fix, prev *Point) (Point, bool) {
	if !finite(fix.Lat, fix.Lng) {
		monitoring.Logf("trail: non-finite fix lat=%v lng=%v dropped", fix.Lat, fix.Lng)
		return Point{}, false
	}
	acc := fix.HorizontalAccuracyM
	if math.IsNaN(acc) || acc < 0 || acc > b.cfg.MaxAccuracyM {
		monitoring.Logf("trail: fix accuracy=%v outside [0,%v] dropped", acc, b.cfg.MaxAccuracyM)
		return Point{}, false
	}

	snap, ok := b.motion.NearestSnapshot(fix.Timestamp)
	if !ok {
		snap = b.motion.Current()
		snap.Timestamp = fix.Timestamp
	}

	heading := fix.HeadingDeg
	if heading < 0 {
		heading = 0
	}

	p := Point{
		Timestamp:  fix.Timestamp,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		FusedAltM:  b.alt.FusedAltitude(),
		SpeedMps:   math.Max(0, fix.SpeedMps),
		HeadingDeg: heading,
		Roughness:  snap.Roughness,
		PitchDeg:   snap.PitchDeg,
		RollDeg:    snap.RollDeg,
		GForce:     snap.GForce,
	}
	if prev != nil {
		p.GradePercent = Grade(b.cfg, *prev, p)
	}

	if !b.valid(p) {
		monitoring.Logf("trail: point at %s failed validation dropped", p.Timestamp.Format(time.RFC3339))
		return Point{}, false
	}
	return p, true
}

func (b *Builder) valid(p Point) bool {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return false
	}
	if !(p.FusedAltM > b.cfg.MinAltitudeM && p.FusedAltM < b.cfg.MaxAltitudeM) {
		return false
	}
	return finite(p.Lat, p.Lng, p.FusedAltM, p.SpeedMps, p.HeadingDeg,
		p.Roughness, p.PitchDeg, p.RollDeg, p.GForce, p.GradePercent)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
