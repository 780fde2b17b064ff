// Package ahrs turns an I2C IMU and barometer into the attitude, acceleration
// and relative altitude callbacks a tracking session consumes.
package ahrs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"trailguardian/internal/i2c"
	"trailguardian/internal/monitoring"
	"trailguardian/internal/sensors/bmp280"
	"trailguardian/internal/sensors/icm20948"
)

type Config struct {
	Enable   bool
	I2CBus   int
	IMUAddr  uint16
	BaroAddr uint16
	// Interval is the sampling cadence of both sensors.
	Interval time.Duration
	// GyroWeight is the complementary filter's trust in the integrated gyro.
	GyroWeight float64
	// GravityAlpha smooths the gravity estimate removed from user acceleration.
	GravityAlpha float64
}

func DefaultConfig() Config {
	return Config{
		I2CBus:       1,
		IMUAddr:      icm20948.DefaultAddress,
		BaroAddr:     bmp280.DefaultAddress,
		Interval:     100 * time.Millisecond,
		GyroWeight:   0.98,
		GravityAlpha: 0.9,
	}
}

// Sink receives sensor callbacks. *session.Session implements it.
type Sink interface {
	OnBarometer(relAltM float64)
	OnAttitude(pitchRad, rollRad float64)
	OnUserAcceleration(ax, ay, az float64)
	OnRawAcceleration(at time.Time, ax, ay, az float64)
}

type Snapshot struct {
	Enabled      bool    `json:"enabled"`
	IMUDetected  bool    `json:"imu_detected"`
	BaroDetected bool    `json:"baro_detected"`
	PitchDeg     float64 `json:"pitch_deg"`
	RollDeg      float64 `json:"roll_deg"`
	PressurePa   float64 `json:"pressure_pa,omitempty"`
	RelAltM      float64 `json:"rel_alt_m"`
	Samples      uint64  `json:"samples"`
	LastSample   string  `json:"last_sample_utc,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
}

type imuReader interface {
	Read() (icm20948.Sample, error)
}

type baroReader interface {
	Read() (bmp280.Reading, error)
}

type Service struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot

	bus    *i2c.Bus
	imu    imuReader
	baro   baroReader
	filter attitudeFilter
	zero   baroZero

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Service {
	def := DefaultConfig()
	if cfg.I2CBus == 0 {
		cfg.I2CBus = def.I2CBus
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = def.IMUAddr
	}
	if cfg.BaroAddr == 0 {
		cfg.BaroAddr = def.BaroAddr
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.GyroWeight <= 0 || cfg.GyroWeight >= 1 {
		cfg.GyroWeight = def.GyroWeight
	}
	if cfg.GravityAlpha <= 0 || cfg.GravityAlpha >= 1 {
		cfg.GravityAlpha = def.GravityAlpha
	}
	return &Service{cfg: cfg, snap: Snapshot{Enabled: cfg.Enable}}
}

// Start opens the bus and samples until ctx is done or Close is called. A
// missing barometer is logged and sampling continues with the IMU alone.
func (s *Service) Start(ctx context.Context, sink Sink) error {
	if !s.cfg.Enable {
		return nil
	}
	if sink == nil {
		return errors.New("ahrs: sink is nil")
	}
	path := i2c.BusPath(s.cfg.I2CBus)
	bus, err := i2c.Open(path)
	if err != nil {
		s.setError(fmt.Sprintf("open %s: %v", path, err))
		return err
	}
	imu, err := icm20948.New(bus.Device(s.cfg.IMUAddr))
	if err != nil {
		_ = bus.Close()
		s.setError(err.Error())
		return err
	}
	s.bus = bus
	s.imu = imu
	s.mu.Lock()
	s.snap.IMUDetected = true
	s.mu.Unlock()

	if baro, err := bmp280.New(bus.Device(s.cfg.BaroAddr)); err != nil {
		monitoring.Logf("ahrs: barometer unavailable addr=0x%02X: %v", s.cfg.BaroAddr, err)
		s.setError(err.Error())
	} else {
		s.baro = baro
		s.mu.Lock()
		s.snap.BaroDetected = true
		s.mu.Unlock()
	}
	monitoring.Logf("ahrs: sampling bus=%s interval=%s baro=%t", path, s.cfg.Interval, s.baro != nil)

	s.startLoop(ctx, sink)
	return nil
}

func (s *Service) startLoop(ctx context.Context, sink Sink) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tick := time.NewTicker(s.cfg.Interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				s.step(sink)
			}
		}
	}()
}

func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.bus != nil {
		_ = s.bus.Close()
		s.bus = nil
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// step takes one IMU sample and, when present, one barometer sample.
func (s *Service) step(sink Sink) {
	sample, err := s.imu.Read()
	if err != nil {
		s.setError(err.Error())
		return
	}
	pitch, roll, user := s.filter.update(sample, s.cfg.GyroWeight, s.cfg.GravityAlpha)
	a := sample.Accel
	// The raw callback appends a history snapshot, so it goes last.
	sink.OnAttitude(pitch, roll)
	sink.OnUserAcceleration(user[0], user[1], user[2])
	sink.OnRawAcceleration(sample.Time, a[0], a[1], a[2])

	var (
		baroOK   bool
		pressure float64
		rel      float64
	)
	if s.baro != nil {
		r, err := s.baro.Read()
		if err != nil {
			s.setError(err.Error())
		} else {
			baroOK, pressure = true, r.PressurePa
			rel = s.zero.relative(r.PressurePa)
			sink.OnBarometer(rel)
		}
	}

	s.mu.Lock()
	s.snap.PitchDeg = pitch * 180 / math.Pi
	s.snap.RollDeg = roll * 180 / math.Pi
	if baroOK {
		s.snap.PressurePa = pressure
		s.snap.RelAltM = rel
	}
	s.snap.Samples++
	s.snap.LastSample = sample.Time.UTC().Format(time.RFC3339Nano)
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.snap.LastError = msg
	s.mu.Unlock()
}

// attitudeFilter blends integrated gyro rates with the accelerometer's tilt
// and tracks a low-passed gravity vector. Angles are radians.
type attitudeFilter struct {
	have        bool
	last        time.Time
	pitch, roll float64
	gravity     [3]float64
}

func (f *attitudeFilter) update(s icm20948.Sample, gyroWeight, alpha float64) (pitch, roll float64, user [3]float64) {
	ax, ay, az := s.Accel[0], s.Accel[1], s.Accel[2]
	accRoll := math.Atan2(ay, az)
	accPitch := math.Atan2(-ax, math.Hypot(ay, az))

	dt := s.Time.Sub(f.last).Seconds()
	if !f.have || dt <= 0 || dt > 0.5 {
		f.pitch, f.roll = accPitch, accRoll
		f.gravity = s.Accel
		f.have = true
	} else {
		f.pitch = gyroWeight*(f.pitch+s.Gyro[1]*dt) + (1-gyroWeight)*accPitch
		f.roll = gyroWeight*(f.roll+s.Gyro[0]*dt) + (1-gyroWeight)*accRoll
		for i := range f.gravity {
			f.gravity[i] = alpha*f.gravity[i] + (1-alpha)*s.Accel[i]
		}
	}
	f.last = s.Time
	for i := range user {
		user[i] = s.Accel[i] - f.gravity[i]
	}
	return f.pitch, f.roll, user
}

// baroZero reports altitude relative to the first reading, so the first
// callback after start is always 0.
type baroZero struct {
	have bool
	refM float64
}

func (z *baroZero) relative(pressurePa float64) float64 {
	alt := bmp280.AltitudeM(pressurePa)
	if !z.have {
		z.have, z.refM = true, alt
	}
	return alt - z.refM
}
