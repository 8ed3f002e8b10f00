package main

import (
	"math"
	"time"

	"github.com/pkg/errors"
	rdkutils "go.viam.com/rdk/utils"
	goutils "go.viam.com/utils"

	"swerve/canio"
	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
)

const (
	defaultChannel         = "can0"
	defaultControlPeriodMs = 20

	// 4 inch wheels
	defaultWheelCircumferenceMm = 2 * math.Pi * 50.8
)

// ModuleOffset is a module's position from the chassis centre; x forward, y left.
type ModuleOffset struct {
	XMm float64 `json:"x_mm"`
	YMm float64 `json:"y_mm"`
}

// Config is the swerve base's attribute map.
type Config struct {
	MovementSensor string `json:"movement_sensor"`
	CANChannel     string `json:"can_channel,omitempty"`

	// Either WheelbaseMm and TrackWidthMm for a rectangular chassis, or four explicit
	// ModuleOffsetsMm ordered front-left, front-right, back-left, back-right.
	WheelbaseMm          float64        `json:"wheelbase_mm,omitempty"`
	TrackWidthMm         float64        `json:"track_width_mm,omitempty"`
	ModuleOffsetsMm      []ModuleOffset `json:"module_offsets_mm,omitempty"`
	WheelCircumferenceMm float64        `json:"wheel_circumference_mm,omitempty"`

	MaxSpeedMmPerSec             float64            `json:"max_speed_mm_per_sec"`
	MaxAngularVelocityDegsPerSec float64            `json:"max_angular_velocity_degs_per_sec"`
	ControlPeriodMs              int                `json:"control_period_ms,omitempty"`
	AngleDeadbandMmPerSec        float64            `json:"angle_deadband_mm_per_sec,omitempty"`
	AngleOffsetsDeg              []float64          `json:"angle_offsets_deg,omitempty"`
	Feedforward                  *drive.Feedforward `json:"feedforward,omitempty"`
	FieldRelative                bool               `json:"field_relative,omitempty"`

	VisionTrust      []float64 `json:"vision_trust,omitempty"`
	HistoryWindowSec float64   `json:"history_window_sec,omitempty"`

	CommsTimeoutMs int `json:"comms_timeout_ms,omitempty"`
	StaleAfterMs   int `json:"stale_after_ms,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the implicit
// movement sensor dependency.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.MovementSensor == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "movement_sensor")
	}
	if !(cfg.MaxSpeedMmPerSec > 0) {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "max_speed_mm_per_sec")
	}
	if !(cfg.MaxAngularVelocityDegsPerSec > 0) {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "max_angular_velocity_degs_per_sec")
	}
	if n := len(cfg.AngleOffsetsDeg); n != 0 && n != kinematics.NumModules {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("angle_offsets_deg needs %d entries, got %d", kinematics.NumModules, n))
	}
	if n := len(cfg.VisionTrust); n != 0 && n != 3 {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("vision_trust needs x, y and heading entries, got %d", n))
	}
	if cfg.ControlPeriodMs < 0 || cfg.CommsTimeoutMs < 0 || cfg.StaleAfterMs < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.New("durations must not be negative"))
	}
	if _, err := cfg.kinematics(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	if err := cfg.driveConfig().Validate(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	if err := cfg.estimatorConfig().Validate(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	return []string{cfg.MovementSensor}, nil
}

func (cfg *Config) channel() string {
	if cfg.CANChannel == "" {
		return defaultChannel
	}
	return cfg.CANChannel
}

func (cfg *Config) moduleLocations() ([kinematics.NumModules]geometry.Translation, error) {
	var locations [kinematics.NumModules]geometry.Translation
	switch {
	case len(cfg.ModuleOffsetsMm) == kinematics.NumModules:
		for i, o := range cfg.ModuleOffsetsMm {
			locations[i] = geometry.Translation{X: o.XMm / 1000, Y: o.YMm / 1000}
		}
	case len(cfg.ModuleOffsetsMm) != 0:
		return locations, errors.Errorf("module_offsets_mm needs %d entries, got %d",
			kinematics.NumModules, len(cfg.ModuleOffsetsMm))
	case cfg.WheelbaseMm > 0 && cfg.TrackWidthMm > 0:
		x, y := cfg.WheelbaseMm/2000, cfg.TrackWidthMm/2000
		locations = [kinematics.NumModules]geometry.Translation{
			{X: x, Y: y},
			{X: x, Y: -y},
			{X: -x, Y: y},
			{X: -x, Y: -y},
		}
	default:
		return locations, errors.New("either wheelbase_mm and track_width_mm or module_offsets_mm must be set")
	}
	return locations, nil
}

func (cfg *Config) kinematics() (*kinematics.SwerveKinematics, error) {
	locations, err := cfg.moduleLocations()
	if err != nil {
		return nil, err
	}
	return kinematics.NewSwerveKinematics(locations[:]...)
}

// widthMeters is the lateral extent of the module footprint.
func (cfg *Config) widthMeters() float64 {
	locations, err := cfg.moduleLocations()
	if err != nil {
		return 0
	}
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, l := range locations {
		minY = math.Min(minY, l.Y)
		maxY = math.Max(maxY, l.Y)
	}
	return maxY - minY
}

func (cfg *Config) wheelCircumferenceMeters() float64 {
	if cfg.WheelCircumferenceMm > 0 {
		return cfg.WheelCircumferenceMm / 1000
	}
	return defaultWheelCircumferenceMm / 1000
}

func (cfg *Config) period() time.Duration {
	if cfg.ControlPeriodMs == 0 {
		return defaultControlPeriodMs * time.Millisecond
	}
	return time.Duration(cfg.ControlPeriodMs) * time.Millisecond
}

func (cfg *Config) driveConfig() drive.Config {
	dc := drive.Config{
		MaxSpeed:           cfg.MaxSpeedMmPerSec / 1000,
		MaxAngularVelocity: rdkutils.DegToRad(cfg.MaxAngularVelocityDegsPerSec),
		Period:             cfg.period(),
		AngleDeadband:      cfg.AngleDeadbandMmPerSec / 1000,
	}
	if cfg.Feedforward != nil {
		dc.Feedforward = *cfg.Feedforward
	}
	return dc
}

func (cfg *Config) estimatorConfig() estimator.Config {
	ec := estimator.Config{HistoryWindow: cfg.HistoryWindowSec}
	if len(cfg.VisionTrust) == 3 {
		ec.VisionTrust = &[3]float64{cfg.VisionTrust[0], cfg.VisionTrust[1], cfg.VisionTrust[2]}
	}
	return ec
}

func (cfg *Config) actuatorConfig() canio.ActuatorConfig {
	return canio.ActuatorConfig{CommsTimeout: time.Duration(cfg.CommsTimeoutMs) * time.Millisecond}
}

func (cfg *Config) readerConfig() canio.ReaderConfig {
	rc := canio.ReaderConfig{StaleAfter: time.Duration(cfg.StaleAfterMs) * time.Millisecond}
	for i, deg := range cfg.AngleOffsetsDeg {
		rc.AngleOffsets[i] = geometry.FromDegrees(deg)
	}
	return rc
}
