package trail

import (
	"math"
	"time"
)

// Distance is the equirectangular planar distance in meters between two
// positions. The longitude term is scaled by cos of the first latitude. This
// is a flat-earth approximation, not WGS84 geodesy.
func Distance(cfg Config, lat1, lng1, lat2, lng2 float64) float64 {
	dx := (lat2 - lat1) * cfg.MetersPerDegreeLat
	dy := (lng2 - lng1) * cfg.MetersPerDegreeLng * math.Cos(lat1*math.Pi/180)
	return math.Sqrt(dx*dx + dy*dy)
}

// Grade is the slope from prev to cur in percent. Coincident points yield 0.
func Grade(cfg Config, prev, cur Point) float64 {
	d := Distance(cfg, prev.Lat, prev.Lng, cur.Lat, cur.Lng)
	if d <= 0 {
		return 0
	}
	return (cur.FusedAltM - prev.FusedAltM) / d * 100
}

// TotalDistanceM sums segment distances over an ordered point sequence.
func TotalDistanceM(cfg Config, points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		total += Distance(cfg, a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return total
}

// TelemetryStats are trip-wide motion extrema. Pitch and roll are absolute
// values in degrees.
type TelemetryStats struct {
	MaxPitchDeg  float64       `json:"max_pitch_deg"`
	MaxRollDeg   float64       `json:"max_roll_deg"`
	MaxGForce    float64       `json:"max_g_force"`
	TotalAirtime time.Duration `json:"total_airtime"`
}

// Extrema reduces the motion fields attached to each point.
func Extrema(points []Point) TelemetryStats {
	var st TelemetryStats
	for _, p := range points {
		st.MaxPitchDeg = math.Max(st.MaxPitchDeg, math.Abs(p.PitchDeg))
		st.MaxRollDeg = math.Max(st.MaxRollDeg, math.Abs(p.RollDeg))
		st.MaxGForce = math.Max(st.MaxGForce, p.GForce)
	}
	return st
}
