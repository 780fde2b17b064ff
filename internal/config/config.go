package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trailguardian/internal/ahrs"
	"trailguardian/internal/altitude"
	"trailguardian/internal/difficulty"
	"trailguardian/internal/gps"
	"trailguardian/internal/motion"
	"trailguardian/internal/session"
	"trailguardian/internal/trail"
)

type Config struct {
	Altitude   AltitudeConfig          `yaml:"altitude"`
	Motion     MotionConfig            `yaml:"motion"`
	Trail      TrailConfig             `yaml:"trail"`
	Difficulty DifficultyConfig        `yaml:"difficulty"`
	Vehicle    difficulty.VehicleState `yaml:"vehicle"`
	GPS        GPSConfig               `yaml:"gps"`
	IMU        IMUConfig               `yaml:"imu"`
	Store      StoreConfig             `yaml:"store"`
	Web        WebConfig               `yaml:"web"`
	Autosave   AutosaveConfig          `yaml:"autosave"`
	Record     RecordConfig            `yaml:"record"`
}

type AltitudeConfig struct {
	Window     int     `yaml:"window"`
	MinValidM  float64 `yaml:"min_valid_m"`
	MaxValidM  float64 `yaml:"max_valid_m"`
	GPSWeight  float64 `yaml:"gps_weight"`
	BaroWeight float64 `yaml:"baro_weight"`
}

type MotionConfig struct {
	HistoryCapacity int     `yaml:"history_capacity"`
	AirborneG       float64 `yaml:"airborne_g"`
}

type TrailConfig struct {
	MaxAccuracyM       float64 `yaml:"max_accuracy_m"`
	MetersPerDegreeLat float64 `yaml:"meters_per_degree_lat"`
	MetersPerDegreeLng float64 `yaml:"meters_per_degree_lng"`
}

type DifficultyConfig struct {
	GradeDivisor             float64     `yaml:"grade_divisor"`
	GradeCap                 float64     `yaml:"grade_cap"`
	RoughnessMultiplier      float64     `yaml:"roughness_multiplier"`
	RoughnessCap             float64     `yaml:"roughness_cap"`
	GForceMultiplier         float64     `yaml:"gforce_multiplier"`
	GForceCap                float64     `yaml:"gforce_cap"`
	PitchDivisor             float64     `yaml:"pitch_divisor"`
	PitchCap                 float64     `yaml:"pitch_cap"`
	WeatherPenalty           float64     `yaml:"weather_penalty"`
	PrecipitationThresholdIn float64     `yaml:"precipitation_threshold_in"`
	OffroadRoughnessFloor    float64     `yaml:"offroad_roughness_floor"`
	SmoothRoadFactor         float64     `yaml:"smooth_road_factor"`
	BonusVehicle             string      `yaml:"bonus_vehicle"`
	Bonus                    BonusConfig `yaml:"bonus"`
}

type BonusConfig struct {
	RockCrawl    float64 `yaml:"rock_crawl"`
	Baja         float64 `yaml:"baja"`
	SandMud      float64 `yaml:"sand_mud"`
	Slippery     float64 `yaml:"slippery"`
	Locker       float64 `yaml:"locker"`
	FourWDLow    float64 `yaml:"four_wd_low"`
	Winch        float64 `yaml:"winch"`
	TrailAssists float64 `yaml:"trail_assists"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`
	// Source is "nmea" (serial) or "gpsd".
	Source   string `yaml:"source"`
	GPSDAddr string `yaml:"gpsd_addr"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	// UERE converts HDOP into an approximate horizontal accuracy (meters).
	UEREM float64 `yaml:"uere_m"`
}

// IMUConfig selects the I2C motion sensor (ICM-20948) and barometer (BMP280).
type IMUConfig struct {
	Enable       bool          `yaml:"enable"`
	I2CBus       int           `yaml:"i2c_bus"`
	IMUAddr      uint16        `yaml:"imu_addr"`
	BaroAddr     uint16        `yaml:"baro_addr"`
	Interval     time.Duration `yaml:"interval"`
	GyroWeight   float64       `yaml:"gyro_weight"`
	GravityAlpha float64       `yaml:"gravity_alpha"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	// Listen is host:port for the JSON API. Empty disables it.
	Listen string `yaml:"listen"`
}

type AutosaveConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RecordConfig struct {
	// Path, when set, captures live fixes to a replay log.
	Path string `yaml:"path"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() Config {
	a := altitude.DefaultConfig()
	m := motion.DefaultConfig()
	tr := trail.DefaultConfig()
	d := difficulty.DefaultConfig()
	imu := ahrs.DefaultConfig()
	return Config{
		Altitude: AltitudeConfig{Window: a.Window, MinValidM: a.MinValidM, MaxValidM: a.MaxValidM, GPSWeight: a.GPSWeight, BaroWeight: a.BaroWeight},
		Motion:   MotionConfig{HistoryCapacity: m.HistoryCapacity, AirborneG: m.AirborneG},
		Trail:    TrailConfig{MaxAccuracyM: tr.MaxAccuracyM, MetersPerDegreeLat: tr.MetersPerDegreeLat, MetersPerDegreeLng: tr.MetersPerDegreeLng},
		Difficulty: DifficultyConfig{
			GradeDivisor:             d.GradeDivisor,
			GradeCap:                 d.GradeCap,
			RoughnessMultiplier:      d.RoughnessMultiplier,
			RoughnessCap:             d.RoughnessCap,
			GForceMultiplier:         d.GForceMultiplier,
			GForceCap:                d.GForceCap,
			PitchDivisor:             d.PitchDivisor,
			PitchCap:                 d.PitchCap,
			WeatherPenalty:           d.WeatherPenalty,
			PrecipitationThresholdIn: d.PrecipitationThresholdIn,
			OffroadRoughnessFloor:    d.OffroadRoughnessFloor,
			SmoothRoadFactor:         d.SmoothRoadFactor,
			BonusVehicle:             string(d.BonusVehicle),
			Bonus: BonusConfig{
				RockCrawl:    d.Vehicle.RockCrawl,
				Baja:         d.Vehicle.Baja,
				SandMud:      d.Vehicle.SandMud,
				Slippery:     d.Vehicle.Slippery,
				Locker:       d.Vehicle.Locker,
				FourWDLow:    d.Vehicle.FourWDLow,
				Winch:        d.Vehicle.Winch,
				TrailAssists: d.Vehicle.TrailAssists,
			},
		},
		GPS:      GPSConfig{Baud: 9600, UEREM: 5},
		Store:    StoreConfig{Path: "./trailguardian.db"},
		Autosave: AutosaveConfig{Interval: 60 * time.Second},
		IMU: IMUConfig{
			I2CBus:       imu.I2CBus,
			IMUAddr:      imu.IMUAddr,
			BaroAddr:     imu.BaroAddr,
			Interval:     imu.Interval,
			GyroWeight:   imu.GyroWeight,
			GravityAlpha: imu.GravityAlpha,
		},
	}
}

var yamlLinePrefix = regexp.MustCompile(`^line \d+: `)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown fields
// are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			msgs := make([]string, 0, len(te.Errors))
			for _, e := range te.Errors {
				msgs = append(msgs, yamlLinePrefix.ReplaceAllString(e, ""))
			}
			if strings.Contains(strings.Join(msgs, ""), "not found in type") {
				return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
			}
			return Config{}, fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return Config{}, err
	}

	if cfg.Autosave.Interval <= 0 {
		cfg.Autosave.Interval = 60 * time.Second
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = "./trailguardian.db"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	a := c.Altitude
	if a.Window <= 0 {
		return fmt.Errorf("altitude.window must be > 0")
	}
	if a.MinValidM >= a.MaxValidM {
		return fmt.Errorf("altitude.min_valid_m must be < altitude.max_valid_m")
	}
	if a.GPSWeight < 0 || a.BaroWeight < 0 {
		return fmt.Errorf("altitude weights must be >= 0")
	}
	if a.GPSWeight+a.BaroWeight <= 0 {
		return fmt.Errorf("altitude.gps_weight + altitude.baro_weight must be > 0")
	}

	if c.Motion.HistoryCapacity <= 0 {
		return fmt.Errorf("motion.history_capacity must be > 0")
	}
	if c.Motion.AirborneG <= 0 {
		return fmt.Errorf("motion.airborne_g must be > 0")
	}

	if c.Trail.MaxAccuracyM <= 0 {
		return fmt.Errorf("trail.max_accuracy_m must be > 0")
	}
	if c.Trail.MetersPerDegreeLat <= 0 || c.Trail.MetersPerDegreeLng <= 0 {
		return fmt.Errorf("trail.meters_per_degree_lat and trail.meters_per_degree_lng must be > 0")
	}

	d := c.Difficulty
	if d.GradeDivisor <= 0 {
		return fmt.Errorf("difficulty.grade_divisor must be > 0")
	}
	if d.PitchDivisor <= 0 {
		return fmt.Errorf("difficulty.pitch_divisor must be > 0")
	}
	if d.SmoothRoadFactor < 0 || d.SmoothRoadFactor > 1 {
		return fmt.Errorf("difficulty.smooth_road_factor must be within [0,1]")
	}

	if c.GPS.Enable && c.GPS.Source != "gpsd" {
		switch c.GPS.Baud {
		case 4800, 9600, 19200, 38400, 57600, 115200:
		default:
			return fmt.Errorf("gps.baud %d is not supported", c.GPS.Baud)
		}
	}
	switch c.GPS.Source {
	case "", "nmea", "gpsd":
	default:
		return fmt.Errorf("gps.source must be 'nmea' or 'gpsd'")
	}
	if c.GPS.UEREM <= 0 {
		return fmt.Errorf("gps.uere_m must be > 0")
	}

	m := c.IMU
	if m.Interval <= 0 {
		return fmt.Errorf("imu.interval must be > 0")
	}
	if m.I2CBus < 0 {
		return fmt.Errorf("imu.i2c_bus must be >= 0")
	}
	if m.IMUAddr > 0x7F || m.BaroAddr > 0x7F {
		return fmt.Errorf("imu addresses must be 7-bit")
	}
	if m.GyroWeight <= 0 || m.GyroWeight >= 1 {
		return fmt.Errorf("imu.gyro_weight must be within (0,1)")
	}
	if m.GravityAlpha <= 0 || m.GravityAlpha >= 1 {
		return fmt.Errorf("imu.gravity_alpha must be within (0,1)")
	}
	return nil
}

// GPSService builds the receiver configuration.
func (c Config) GPSService() gps.Config {
	return gps.Config{
		Enable:   c.GPS.Enable,
		Source:   c.GPS.Source,
		GPSDAddr: c.GPS.GPSDAddr,
		Device:   c.GPS.Device,
		Baud:     c.GPS.Baud,
		UEREM:    c.GPS.UEREM,
	}
}

func (c Config) IMUService() ahrs.Config {
	return ahrs.Config{
		Enable:       c.IMU.Enable,
		I2CBus:       c.IMU.I2CBus,
		IMUAddr:      c.IMU.IMUAddr,
		BaroAddr:     c.IMU.BaroAddr,
		Interval:     c.IMU.Interval,
		GyroWeight:   c.IMU.GyroWeight,
		GravityAlpha: c.IMU.GravityAlpha,
	}
}

// Session builds the component configuration for a tracking session.
func (c Config) Session() session.Config {
	sc := session.DefaultConfig()
	sc.Altitude = altitude.Config{
		Window:     c.Altitude.Window,
		MinValidM:  c.Altitude.MinValidM,
		MaxValidM:  c.Altitude.MaxValidM,
		GPSWeight:  c.Altitude.GPSWeight,
		BaroWeight: c.Altitude.BaroWeight,
	}
	sc.Motion = motion.Config{HistoryCapacity: c.Motion.HistoryCapacity, AirborneG: c.Motion.AirborneG}
	sc.Trail = trail.Config{
		MaxAccuracyM:       c.Trail.MaxAccuracyM,
		MetersPerDegreeLat: c.Trail.MetersPerDegreeLat,
		MetersPerDegreeLng: c.Trail.MetersPerDegreeLng,
		MinAltitudeM:       c.Altitude.MinValidM,
		MaxAltitudeM:       c.Altitude.MaxValidM,
	}
	sc.Difficulty = c.Scoring()
	sc.AutosaveInterval = c.Autosave.Interval
	return sc
}

func (c Config) Scoring() difficulty.Config {
	d := c.Difficulty
	return difficulty.Config{
		GradeDivisor:             d.GradeDivisor,
		GradeCap:                 d.GradeCap,
		RoughnessMultiplier:      d.RoughnessMultiplier,
		RoughnessCap:             d.RoughnessCap,
		GForceMultiplier:         d.GForceMultiplier,
		GForceCap:                d.GForceCap,
		PitchDivisor:             d.PitchDivisor,
		PitchCap:                 d.PitchCap,
		WeatherPenalty:           d.WeatherPenalty,
		PrecipitationThresholdIn: d.PrecipitationThresholdIn,
		OffroadRoughnessFloor:    d.OffroadRoughnessFloor,
		SmoothRoadFactor:         d.SmoothRoadFactor,
		BonusVehicle:             difficulty.VehicleType(d.BonusVehicle),
		Vehicle: difficulty.VehicleBonus{
			RockCrawl:    d.Bonus.RockCrawl,
			Baja:         d.Bonus.Baja,
			SandMud:      d.Bonus.SandMud,
			Slippery:     d.Bonus.Slippery,
			Locker:       d.Bonus.Locker,
			FourWDLow:    d.Bonus.FourWDLow,
			Winch:        d.Bonus.Winch,
			TrailAssists: d.Bonus.TrailAssists,
		},
	}
}
