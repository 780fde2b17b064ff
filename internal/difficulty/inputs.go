package difficulty

import "time"

// WeatherSnapshot is one weather observation taken during a trip.
type WeatherSnapshot struct {
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	TemperatureF    float64   `json:"temperature_f" yaml:"temperature_f"`
	Condition       string    `json:"condition" yaml:"condition"`
	WindSpeedMph    float64   `json:"wind_speed_mph" yaml:"wind_speed_mph"`
	PrecipitationIn float64   `json:"precipitation_in" yaml:"precipitation_in"`
}

type VehicleType string

const (
	VehicleBronco            VehicleType = "Ford Bronco"
	VehicleJeepWrangler      VehicleType = "Jeep Wrangler"
	VehicleJeepGladiator     VehicleType = "Jeep Gladiator"
	VehicleToyota4Runner     VehicleType = "Toyota 4Runner"
	VehicleToyotaTacoma      VehicleType = "Toyota Tacoma"
	VehicleChevyColorado     VehicleType = "Chevy Colorado/ZR2"
	VehicleFordRanger        VehicleType = "Ford Ranger"
	VehicleNissanFrontier    VehicleType = "Nissan Frontier"
	VehicleRam1500           VehicleType = "Ram 1500 TRX/Rebel"
	VehicleLandRoverDefender VehicleType = "Land Rover Defender"
	VehicleOther             VehicleType = "Other"
)

type TerrainMode string

const (
	TerrainNone      TerrainMode = ""
	TerrainNormal    TerrainMode = "Normal"
	TerrainEco       TerrainMode = "Eco"
	TerrainSport     TerrainMode = "Sport"
	TerrainSlippery  TerrainMode = "Slippery"
	TerrainSandMud   TerrainMode = "Sand/Mud"
	TerrainRockCrawl TerrainMode = "Rock Crawl"
	TerrainBaja      TerrainMode = "Baja"
)

type DriveMode string

const (
	DriveNone       DriveMode = ""
	DriveTwoWD      DriveMode = "2WD"
	DriveFourWDAuto DriveMode = "4WD Auto"
	DriveFourWDHigh DriveMode = "4WD High"
	DriveFourWDLow  DriveMode = "4WD Low"
)

// VehicleState is the vehicle configuration observed during a trip. The zero
// value contributes nothing to the score.
type VehicleState struct {
	Type                VehicleType `json:"type,omitempty" yaml:"type"`
	TerrainMode         TerrainMode `json:"terrain_mode,omitempty" yaml:"terrain_mode"`
	DriveMode           DriveMode   `json:"drive_mode,omitempty" yaml:"drive_mode"`
	FrontLocker         bool        `json:"front_locker,omitempty" yaml:"front_locker"`
	RearLocker          bool        `json:"rear_locker,omitempty" yaml:"rear_locker"`
	SwayBarDisconnected bool        `json:"sway_bar_disconnected,omitempty" yaml:"sway_bar_disconnected"`
	TrailControl        bool        `json:"trail_control,omitempty" yaml:"trail_control"`
	TrailTurnAssist     bool        `json:"trail_turn_assist,omitempty" yaml:"trail_turn_assist"`
	WinchUsed           bool        `json:"winch_used,omitempty" yaml:"winch_used"`
}
