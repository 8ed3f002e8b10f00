package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	rdkutils "go.viam.com/rdk/utils"
	"gopkg.in/yaml.v3"

	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
	"swerve/sim"
)

const defaultPeriod = 20 * time.Millisecond

// Scenario is a scripted drive against the simulated plant.
type Scenario struct {
	Period      time.Duration     `yaml:"period"`
	Chassis     Chassis           `yaml:"chassis"`
	Drive       DriveLimits       `yaml:"drive"`
	Estimator   EstimatorTuning   `yaml:"estimator"`
	Plant       sim.PlantConfig   `yaml:"plant"`
	Camera      *sim.CameraConfig `yaml:"camera"`
	InitialPose FieldPose         `yaml:"initial_pose"`
	Segments    []Segment         `yaml:"segments"`
}

// Chassis is a rectangular module layout in metres.
type Chassis struct {
	WheelbaseM  float64 `yaml:"wheelbase_m"`
	TrackWidthM float64 `yaml:"track_width_m"`
}

// DriveLimits mirrors drive.Config in scenario units.
type DriveLimits struct {
	MaxSpeed                 float64           `yaml:"max_speed"`
	MaxAngularVelocityDegSec float64           `yaml:"max_angular_velocity_deg"`
	AngleDeadband            float64           `yaml:"angle_deadband"`
	Feedforward              drive.Feedforward `yaml:"feedforward"`
}

// EstimatorTuning mirrors estimator.Config.
type EstimatorTuning struct {
	HistoryWindowS float64   `yaml:"history_window_s"`
	VisionTrust    []float64 `yaml:"vision_trust"`
}

// FieldPose is a pose on the field in metres and degrees.
type FieldPose struct {
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	ThetaDeg float64 `yaml:"theta_deg"`
}

func (p FieldPose) pose() geometry.Pose2D {
	return geometry.NewPose2D(p.X, p.Y, rdkutils.DegToRad(p.ThetaDeg))
}

// Segment holds one request for Duration.
type Segment struct {
	Duration      time.Duration `yaml:"duration"`
	Vx            float64       `yaml:"vx"`
	Vy            float64       `yaml:"vy"`
	OmegaDeg      float64       `yaml:"omega_deg"`
	FieldRelative bool          `yaml:"field_relative"`
	OpenLoop      bool          `yaml:"open_loop"`
	Lock          bool          `yaml:"lock"`
	Stop          bool          `yaml:"stop"`

	// SensorDropouts fails this many sensor reads at the start of the segment.
	SensorDropouts int `yaml:"sensor_dropouts"`
}

func (s Segment) speeds() kinematics.ChassisSpeeds {
	return kinematics.ChassisSpeeds{Vx: s.Vx, Vy: s.Vy, Omega: rdkutils.DegToRad(s.OmegaDeg)}
}

func loadScenario(path string) (*Scenario, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenario %q", path)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.Wrap(err, "parsing scenario")
	}
	if sc.Period == 0 {
		sc.Period = defaultPeriod
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Period < 0 {
		return errors.Errorf("period must be positive, got %v", sc.Period)
	}
	if len(sc.Segments) == 0 {
		return errors.New("scenario has no segments")
	}
	for i, seg := range sc.Segments {
		if seg.Duration <= 0 {
			return errors.Errorf("segment %d duration must be positive, got %v", i, seg.Duration)
		}
		if !seg.speeds().IsFinite() {
			return errors.Errorf("segment %d speeds must be finite", i)
		}
	}
	if n := len(sc.Estimator.VisionTrust); n != 0 && n != 3 {
		return errors.Errorf("vision_trust needs x, y and heading entries, got %d", n)
	}
	if _, err := sc.kinematics(); err != nil {
		return err
	}
	if err := sc.driveConfig().Validate(); err != nil {
		return err
	}
	return sc.estimatorConfig().Validate()
}

func (sc *Scenario) kinematics() (*kinematics.SwerveKinematics, error) {
	x, y := sc.Chassis.WheelbaseM/2, sc.Chassis.TrackWidthM/2
	return kinematics.NewSwerveKinematics(
		geometry.Translation{X: x, Y: y},
		geometry.Translation{X: x, Y: -y},
		geometry.Translation{X: -x, Y: y},
		geometry.Translation{X: -x, Y: -y},
	)
}

func (sc *Scenario) driveConfig() drive.Config {
	return drive.Config{
		MaxSpeed:           sc.Drive.MaxSpeed,
		MaxAngularVelocity: rdkutils.DegToRad(sc.Drive.MaxAngularVelocityDegSec),
		Period:             sc.Period,
		AngleDeadband:      sc.Drive.AngleDeadband,
		Feedforward:        sc.Drive.Feedforward,
	}
}

func (sc *Scenario) estimatorConfig() estimator.Config {
	ec := estimator.Config{HistoryWindow: sc.Estimator.HistoryWindowS}
	if t := sc.Estimator.VisionTrust; len(t) == 3 {
		ec.VisionTrust = &[3]float64{t[0], t[1], t[2]}
	}
	return ec
}

func (sc *Scenario) plantConfig() sim.PlantConfig {
	pc := sc.Plant
	if pc.MaxSpeed == 0 {
		pc.MaxSpeed = sc.Drive.MaxSpeed
	}
	return pc
}

// cycles returns how many control periods a segment lasts, at least one.
func (sc *Scenario) cycles(seg Segment) int {
	n := int(seg.Duration / sc.Period)
	if n < 1 {
		return 1
	}
	return n
}
