// Package difficulty reduces a finished trip into the 0-100 Sutton Score and
// its derived rating labels.
package difficulty

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"trailguardian/internal/trail"
)

// Ratings is always replaced in full; there are no partial updates.
type Ratings struct {
	SuttonScore         int    `json:"sutton_score"`
	JeepBadge           int    `json:"jeep_badge"`
	WellsRating         string `json:"wells_rating"`
	USFSRating          string `json:"usfs_rating"`
	InternationalRating string `json:"international_rating"`
}

// DefaultRatings is the result for a trip without points.
func DefaultRatings() Ratings {
	return Ratings{
		WellsRating:         "Green Circle",
		USFSRating:          "Easiest",
		InternationalRating: "Blue",
	}
}

// VehicleBonus holds the additive points for the off-road vehicle variant.
type VehicleBonus struct {
	RockCrawl    float64
	Baja         float64
	SandMud      float64
	Slippery     float64
	Locker       float64
	FourWDLow    float64
	Winch        float64
	TrailAssists float64
}

type Config struct {
	GradeDivisor float64
	GradeCap     float64

	RoughnessMultiplier float64
	RoughnessCap        float64

	GForceMultiplier float64
	GForceCap        float64

	PitchDivisor float64
	PitchCap     float64

	// WeatherPenalty applies when any snapshot exceeds PrecipitationThresholdIn.
	WeatherPenalty           float64
	PrecipitationThresholdIn float64

	// Trips whose mean roughness is below OffroadRoughnessFloor are scaled by
	// SmoothRoadFactor after every component and bonus is summed.
	OffroadRoughnessFloor float64
	SmoothRoadFactor      float64

	// BonusVehicle is the only vehicle type that earns Vehicle bonuses.
	BonusVehicle VehicleType
	Vehicle      VehicleBonus
}

func DefaultConfig() Config {
	return Config{
		GradeDivisor:             2.5,
		GradeCap:                 40,
		RoughnessMultiplier:      100,
		RoughnessCap:             30,
		GForceMultiplier:         10,
		GForceCap:                20,
		PitchDivisor:             2,
		PitchCap:                 10,
		WeatherPenalty:           2,
		PrecipitationThresholdIn: 0.1,
		OffroadRoughnessFloor:    0.05,
		SmoothRoadFactor:         0.5,
		BonusVehicle:             VehicleBronco,
		Vehicle: VehicleBonus{
			RockCrawl:    5,
			Baja:         3,
			SandMud:      2,
			Slippery:     1,
			Locker:       3,
			FourWDLow:    2,
			Winch:        4,
			TrailAssists: 1,
		},
	}
}

// Breakdown exposes the intermediate terms of a score.
type Breakdown struct {
	MaxGrade          float64 `json:"max_grade"`
	AvgRoughness      float64 `json:"avg_roughness"`
	GradeComponent    float64 `json:"grade_component"`
	RoughComponent    float64 `json:"roughness_component"`
	GForceComponent   float64 `json:"g_force_component"`
	PitchComponent    float64 `json:"pitch_component"`
	WeatherPenalty    float64 `json:"weather_penalty"`
	VehicleAdjustment float64 `json:"vehicle_adjustment"`
	RealOffroading    bool    `json:"real_offroading"`
	Total             float64 `json:"total"`
}

// Scorer is stateless; Score may be re-run on a stored trip with the same result.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes ratings with the default configuration.
func Score(points []trail.Point, ext trail.TelemetryStats, weather []WeatherSnapshot, vehicle VehicleState) Ratings {
	r, _ := NewScorer(DefaultConfig()).Explain(points, ext, weather, vehicle)
	return r
}

func (s *Scorer) Score(points []trail.Point, ext trail.TelemetryStats, weather []WeatherSnapshot, vehicle VehicleState) Ratings {
	r, _ := s.Explain(points, ext, weather, vehicle)
	return r
}

// Explain is Score plus the breakdown of each term.
func (s *Scorer) Explain(points []trail.Point, ext trail.TelemetryStats, weather []WeatherSnapshot, vehicle VehicleState) (Ratings, Breakdown) {
	if len(points) == 0 {
		return DefaultRatings(), Breakdown{}
	}
	c := s.cfg

	grades := make([]float64, len(points))
	rough := make([]float64, len(points))
	for i, p := range points {
		grades[i] = math.Abs(p.GradePercent)
		rough[i] = p.Roughness
	}

	var b Breakdown
	b.MaxGrade = floats.Max(grades)
	b.AvgRoughness = stat.Mean(rough, nil)
	b.RealOffroading = b.AvgRoughness >= c.OffroadRoughnessFloor

	for _, w := range weather {
		if w.PrecipitationIn > c.PrecipitationThresholdIn {
			b.WeatherPenalty = c.WeatherPenalty
			break
		}
	}
	b.VehicleAdjustment = s.vehicleAdjustment(vehicle)

	b.GradeComponent = math.Min(c.GradeCap, b.MaxGrade/c.GradeDivisor)
	b.RoughComponent = math.Min(c.RoughnessCap, b.AvgRoughness*c.RoughnessMultiplier)
	b.GForceComponent = math.Min(c.GForceCap, ext.MaxGForce*c.GForceMultiplier)
	b.PitchComponent = math.Min(c.PitchCap, ext.MaxPitchDeg/c.PitchDivisor)

	b.Total = b.GradeComponent + b.RoughComponent + b.GForceComponent + b.PitchComponent +
		b.WeatherPenalty + b.VehicleAdjustment
	if !b.RealOffroading {
		b.Total *= c.SmoothRoadFactor
	}

	score := 0
	if !math.IsNaN(b.Total) {
		score = clampInt(int(math.Max(-1, math.Min(101, math.Round(b.Total)))), 0, 100)
	}
	return Rate(score), b
}

func (s *Scorer) vehicleAdjustment(v VehicleState) float64 {
	if v.Type != s.cfg.BonusVehicle || v.Type == "" {
		return 0
	}
	bonus := s.cfg.Vehicle
	adj := 0.0
	switch v.TerrainMode {
	case TerrainRockCrawl:
		adj += bonus.RockCrawl
	case TerrainBaja:
		adj += bonus.Baja
	case TerrainSandMud:
		adj += bonus.SandMud
	case TerrainSlippery:
		adj += bonus.Slippery
	}
	if v.FrontLocker || v.RearLocker {
		adj += bonus.Locker
	}
	if v.DriveMode == DriveFourWDLow {
		adj += bonus.FourWDLow
	}
	if v.WinchUsed {
		adj += bonus.Winch
	}
	if v.TrailControl || v.TrailTurnAssist {
		adj += bonus.TrailAssists
	}
	return adj
}

// Rate derives the labels and badge for a clamped score. Thresholds are
// exclusive lower bounds checked from the top.
func Rate(score int) Ratings {
	r := Ratings{SuttonScore: score, JeepBadge: clampInt(score/10, 1, 10)}
	switch {
	case score > 70:
		r.WellsRating, r.USFSRating, r.InternationalRating = "Double Black", "Most Difficult", "Double Black"
	case score > 40:
		r.WellsRating, r.USFSRating, r.InternationalRating = "Black Diamond", "More Difficult", "Black"
	case score > 30:
		r.WellsRating, r.USFSRating, r.InternationalRating = "Blue Square", "More Difficult", "Red"
	default:
		r.WellsRating, r.USFSRating, r.InternationalRating = "Green Circle", "Easiest", "Blue"
	}
	return r
}

// Band is the coarse colour band shown next to a score.
func Band(score int) string {
	switch {
	case score < 0 || score > 100:
		return "Unknown"
	case score <= 30:
		return "Easy"
	case score <= 50:
		return "Moderate"
	case score <= 70:
		return "Difficult"
	default:
		return "Extreme"
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
