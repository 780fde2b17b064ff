// Package motion records device attitude and acceleration and keeps a bounded,
// time-ordered history of motion snapshots.
package motion

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"trailguardian/internal/monitoring"
)

type Config struct {
	// HistoryCapacity bounds the snapshot history (7200 is ~2h at 1 Hz).
	HistoryCapacity int
	// AirborneG is the net user acceleration (g) below which the device is
	// considered in free fall.
	AirborneG float64
}

func DefaultConfig() Config {
	return Config{HistoryCapacity: 7200, AirborneG: 0.5}
}

// Snapshot is one immutable sample of inertial telemetry. The zero Snapshot is
// the state before any sensor sample: IsAirborne stays false until the first
// user-acceleration sample derives it from GForce.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Roughness  float64   `json:"roughness"`
	PitchDeg   float64   `json:"pitch_deg"`
	RollDeg    float64   `json:"roll_deg"`
	GForce     float64   `json:"g_force"`
	IsAirborne bool      `json:"is_airborne"`
}

// Recorder serializes every sensor callback through mu. Consumers only get
// copies of the current state or of the history.
type Recorder struct {
	cfg Config

	mu      sync.RWMutex
	cur     Snapshot
	buf     ring
	airtime time.Duration
}

func New(cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.AirborneG <= 0 {
		cfg.AirborneG = def.AirborneG
	}
	return &Recorder{cfg: cfg, buf: newRing(cfg.HistoryCapacity)}
}

// OnAttitude takes device pitch and roll in radians.
func (r *Recorder) OnAttitude(pitchRad, rollRad float64) {
	if !finite(pitchRad, rollRad) {
		monitoring.Logf("motion: non-finite attitude pitch=%v roll=%v dropped", pitchRad, rollRad)
		return
	}
	r.mu.Lock()
	r.cur.PitchDeg = pitchRad * 180 / math.Pi
	r.cur.RollDeg = rollRad * 180 / math.Pi
	r.mu.Unlock()
}

// OnUserAcceleration takes linear acceleration with gravity removed (g units)
// and drives g-force and airborne detection.
func (r *Recorder) OnUserAcceleration(ax, ay, az float64) {
	if !finite(ax, ay, az) {
		monitoring.Logf("motion: non-finite user acceleration dropped")
		return
	}
	g := floats.Norm([]float64{ax, ay, az}, 2)
	r.mu.Lock()
	r.cur.GForce = g
	r.cur.IsAirborne = g < r.cfg.AirborneG
	r.mu.Unlock()
}

// OnRawAcceleration takes the raw accelerometer vector (gravity included).
// Its magnitude is the roughness proxy, and every call appends one snapshot
// stamped at to the history.
func (r *Recorder) OnRawAcceleration(at time.Time, ax, ay, az float64) {
	if !finite(ax, ay, az) {
		monitoring.Logf("motion: non-finite raw acceleration dropped")
		return
	}
	rms := floats.Norm([]float64{ax, ay, az}, 2)
	r.mu.Lock()
	r.cur.Roughness = rms
	r.cur.Timestamp = at
	if r.buf.n > 0 {
		if prev := r.buf.at(r.buf.n - 1); prev.IsAirborne && at.After(prev.Timestamp) {
			r.airtime += at.Sub(prev.Timestamp)
		}
	}
	r.buf.push(r.cur)
	r.mu.Unlock()
}

// Current returns the instantaneous state.
func (r *Recorder) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// History returns the retained snapshots, oldest first.
func (r *Recorder) History() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.slice()
}

// Airtime is the time spent airborne since the last Clear: each interval that
// starts at an airborne snapshot counts, including snapshots the history has
// since evicted.
func (r *Recorder) Airtime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.airtime
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.n
}

// NearestSnapshot returns the snapshot closest in time to t. On a tie the
// earlier snapshot wins.
func (r *Recorder) NearestSnapshot(t time.Time) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.buf.n == 0 {
		return Snapshot{}, false
	}
	best := r.buf.at(0)
	bestD := absDur(best.Timestamp.Sub(t))
	for i := 1; i < r.buf.n; i++ {
		s := r.buf.at(i)
		if d := absDur(s.Timestamp.Sub(t)); d < bestD {
			best, bestD = s, d
		}
	}
	return best, true
}

// Clear drops the history and airtime and returns the instantaneous state to
// the zero Snapshot.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.cur = Snapshot{}
	r.airtime = 0
	r.buf.reset()
	r.mu.Unlock()
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
