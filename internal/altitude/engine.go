// Package altitude fuses GPS altitude and barometric relative altitude into a
// single continuously updated elevation estimate.
package altitude

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"trailguardian/internal/monitoring"
)

type Config struct {
	// Window is the moving-average length for each sensor buffer.
	Window int

	// Candidate altitudes must lie strictly inside (MinValidM, MaxValidM).
	MinValidM float64
	MaxValidM float64

	GPSWeight  float64
	BaroWeight float64
}

func DefaultConfig() Config {
	return Config{
		Window:     10,
		MinValidM:  -500, // Dead Sea is ~-430m
		MaxValidM:  9000, // Everest is ~8850m
		GPSWeight:  0.3,
		BaroWeight: 0.7,
	}
}

// CalibrationState tags whether the barometric baseline has been captured.
type CalibrationState int

const (
	Uncalibrated CalibrationState = iota
	Calibrated
)

func (c CalibrationState) String() string {
	if c == Calibrated {
		return "calibrated"
	}
	return "uncalibrated"
}

// Calibration is the barometric baseline. Baseline is meaningful only when
// State is Calibrated.
type Calibration struct {
	State    CalibrationState
	Baseline float64
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	FusedM      float64
	GPSSamples  int
	BaroSamples int
	Calibration Calibration
	UpdatedAt   time.Time
}

// Engine owns the fusion buffers. All mutation happens under mu so buffer
// append+evict and the published fused value change as one step.
type Engine struct {
	cfg Config

	mu    sync.RWMutex
	gps   []float64
	baro  []float64
	calib Calibration
	fused float64
	at    time.Time
}

func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinValidM == 0 && cfg.MaxValidM == 0 {
		cfg.MinValidM, cfg.MaxValidM = def.MinValidM, def.MaxValidM
	}
	if cfg.GPSWeight == 0 && cfg.BaroWeight == 0 {
		cfg.GPSWeight, cfg.BaroWeight = def.GPSWeight, def.BaroWeight
	}
	return &Engine{
		cfg:  cfg,
		gps:  make([]float64, 0, cfg.Window),
		baro: make([]float64, 0, cfg.Window),
	}
}

// Update feeds one GPS altitude and one barometric relative altitude (meters).
//
// A barometric reading of exactly 0 means the sensor is not reporting yet: it
// neither sets the baseline nor produces an absolute candidate.
func (e *Engine) Update(gpsAltM, baroRelM float64, at time.Time) {
	if e == nil {
		return
	}
	if !isFinite(gpsAltM) || !isFinite(baroRelM) {
		monitoring.Logf("altitude: non-finite input gps=%v baro=%v dropped", gpsAltM, baroRelM)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.calib.State == Uncalibrated && baroRelM != 0 {
		e.calib = Calibration{State: Calibrated, Baseline: baroRelM}
	}

	var validGPS *float64
	if e.valid(gpsAltM) {
		v := gpsAltM
		validGPS = &v
		e.gps = push(e.gps, v, e.cfg.Window)
	}
	if baroRelM != 0 && e.calib.State == Calibrated {
		abs := e.calib.Baseline + baroRelM
		if e.valid(abs) {
			e.baro = push(e.baro, abs, e.cfg.Window)
		}
	}

	e.fused = e.compute(validGPS)
	e.at = at
}

func (e *Engine) compute(fallbackGPS *float64) float64 {
	switch {
	case len(e.gps) > 0 && len(e.baro) > 0:
		return stat.Mean(e.gps, nil)*e.cfg.GPSWeight + stat.Mean(e.baro, nil)*e.cfg.BaroWeight
	case len(e.gps) > 0:
		return stat.Mean(e.gps, nil)
	case len(e.baro) > 0:
		return stat.Mean(e.baro, nil)
	case fallbackGPS != nil:
		return *fallbackGPS
	default:
		return e.fused
	}
}

// FusedAltitude returns the last published estimate in meters.
func (e *Engine) FusedAltitude() float64 {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fused
}

func (e *Engine) Snapshot() Snapshot {
	if e == nil {
		return Snapshot{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		FusedM:      e.fused,
		GPSSamples:  len(e.gps),
		BaroSamples: len(e.baro),
		Calibration: e.calib,
		UpdatedAt:   e.at,
	}
}

// Reset clears both buffers, the calibration and the published value.
func (e *Engine) Reset() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gps = e.gps[:0]
	e.baro = e.baro[:0]
	e.calib = Calibration{}
	e.fused = 0
	e.at = time.Time{}
}

func (e *Engine) valid(m float64) bool {
	return isFinite(m) && m > e.cfg.MinValidM && m < e.cfg.MaxValidM
}

// push appends v and evicts from the front so len(buf) <= window.
func push(buf []float64, v float64, window int) []float64 {
	if len(buf) >= window {
		n := copy(buf, buf[len(buf)-window+1:])
		buf = buf[:n]
	}
	return append(buf, v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
