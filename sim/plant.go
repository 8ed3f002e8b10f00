// Package sim simulates a swerve drivetrain and a latency-prone vision camera so the
// drive stack can run without hardware.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"swerve/drive"
	"swerve/geometry"
	"swerve/kinematics"
)

// PlantConfig describes the simulated hardware.
type PlantConfig struct {
	// MaxSpeed converts open-loop percent output to wheel speed, in m/s.
	MaxSpeed float64 `yaml:"max_speed"`
	// SteerRate limits how fast a module turns, in rad/s. Zero turns instantly.
	SteerRate float64 `yaml:"steer_rate"`
	// GyroDrift is the gyro bias growth in rad/s.
	GyroDrift float64 `yaml:"gyro_drift"`
	// WheelSlip makes encoders over-report distance by this fraction.
	WheelSlip float64 `yaml:"wheel_slip"`
}

type simModule struct {
	angle    geometry.Rotation
	speed    float64
	distance float64
	current  float64
}

// Plant is the simulated drivetrain. It accepts module commands, moves a ground-truth
// pose when stepped and reports encoder and gyro readings. Safe for concurrent use.
type Plant struct {
	kin *kinematics.SwerveKinematics
	cfg PlantConfig

	mu        sync.Mutex
	commands  [kinematics.NumModules]drive.ModuleCommand
	modules   [kinematics.NumModules]simModule
	pose      geometry.Pose2D
	gyroBias  float64
	failReads int
}

// NewPlant returns a plant at rest at pose.
func NewPlant(kin *kinematics.SwerveKinematics, pose geometry.Pose2D, cfg PlantConfig) (*Plant, error) {
	if kin == nil {
		return nil, errors.New("plant needs kinematics")
	}
	if !(cfg.MaxSpeed > 0) {
		return nil, errors.Errorf("plant max speed must be positive, got %v", cfg.MaxSpeed)
	}
	if cfg.SteerRate < 0 || cfg.WheelSlip <= -1 {
		return nil, errors.New("plant steer rate must not be negative and wheel slip must exceed -1")
	}
	p := &Plant{kin: kin, cfg: cfg, pose: pose}
	for i := range p.commands {
		p.commands[i] = drive.ModuleCommand{Index: i, OpenLoop: true}
	}
	return p, nil
}

// Actuate stores the commands applied on the next Step.
func (p *Plant) Actuate(ctx context.Context, cmds [kinematics.NumModules]drive.ModuleCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = cmds
	return nil
}

// Read reports encoder and gyro readings.
func (p *Plant) Read(ctx context.Context) (drive.SensorReading, error) {
	var reading drive.SensorReading
	if err := ctx.Err(); err != nil {
		return reading, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failReads > 0 {
		p.failReads--
		return reading, errors.New("simulated sensor dropout")
	}
	reading.Gyro = p.pose.Rotation.Plus(geometry.NewRotation(p.gyroBias))
	for i, m := range p.modules {
		reading.Modules[i] = drive.ModuleReading{
			Position:      kinematics.ModulePosition{Distance: m.distance, Angle: m.angle},
			Velocity:      m.speed * (1 + p.cfg.WheelSlip),
			Current:       m.current,
			AbsoluteAngle: m.angle,
		}
	}
	return reading, nil
}

// FailReads makes the next n reads fail.
func (p *Plant) FailReads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failReads = n
}

// TruePose returns the ground-truth pose.
func (p *Plant) TruePose() geometry.Pose2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pose
}

// Step advances the simulation by dt.
func (p *Plant) Step(dt time.Duration) {
	seconds := dt.Seconds()
	if seconds <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var deltas [kinematics.NumModules]kinematics.ModulePosition
	for i := range p.modules {
		m := &p.modules[i]
		cmd := p.commands[i]
		m.angle = p.steer(m.angle, cmd.State.Angle, seconds)

		speed := cmd.State.Speed
		if cmd.OpenLoop {
			speed = cmd.PercentOutput * p.cfg.MaxSpeed
		}
		speed = math.Max(-p.cfg.MaxSpeed, math.Min(p.cfg.MaxSpeed, speed))
		// crude torque model: current follows acceleration plus a rolling load
		m.current = math.Abs(speed-m.speed)/seconds*0.5 + math.Abs(speed)*2
		m.speed = speed

		deltas[i] = kinematics.ModulePosition{Distance: speed * seconds, Angle: m.angle}
		m.distance += speed * seconds * (1 + p.cfg.WheelSlip)
	}
	p.pose = p.pose.Exp(p.kin.ToTwist2D(deltas))
	p.gyroBias += p.cfg.GyroDrift * seconds
}

func (p *Plant) steer(from, to geometry.Rotation, seconds float64) geometry.Rotation {
	if p.cfg.SteerRate == 0 {
		return to
	}
	limit := p.cfg.SteerRate * seconds
	delta := to.Delta(from)
	if math.Abs(delta) <= limit {
		return to
	}
	return from.Plus(geometry.NewRotation(math.Copysign(limit, delta)))
}
