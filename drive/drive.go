// Package drive runs one swerve control cycle: it turns chassis velocity requests into
// module commands and keeps the pose estimate current from sensor and vision input.
package drive

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
)

// sensorFailureLogEvery throttles the sensor-failure log line.
const sensorFailureLogEvery = 50

// Config holds the drive limits and tuning.
type Config struct {
	// MaxSpeed is the wheel speed ceiling in m/s.
	MaxSpeed float64
	// MaxAngularVelocity scales open-loop rotation requests, in rad/s.
	MaxAngularVelocity float64
	// Period is the control loop period used for skew correction.
	Period time.Duration
	// AngleDeadband keeps the last steering angle for speeds at or below it (m/s).
	AngleDeadband float64
	Feedforward   Feedforward
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.MaxSpeed > 0) || math.IsInf(c.MaxSpeed, 0) {
		return errors.Errorf("max speed must be positive, got %v", c.MaxSpeed)
	}
	if !(c.MaxAngularVelocity > 0) || math.IsInf(c.MaxAngularVelocity, 0) {
		return errors.Errorf("max angular velocity must be positive, got %v", c.MaxAngularVelocity)
	}
	if c.Period <= 0 {
		return errors.Errorf("control period must be positive, got %v", c.Period)
	}
	if c.AngleDeadband < 0 {
		return errors.Errorf("angle deadband must not be negative, got %v", c.AngleDeadband)
	}
	return nil
}

// Orchestrator owns the kinematics, the pose estimator and the module arena.
//
// Periodic, Drive, SetModuleStates, Lock and Stop must all be called from the same
// goroutine. ResetPose and the telemetry sink are the only cross-goroutine entry points.
type Orchestrator struct {
	kin     *kinematics.SwerveKinematics
	est     *estimator.PoseEstimator
	act     Actuator
	sensors SensorSource
	vision  VisionSource
	telem   TelemetrySink
	clock   clock.Clock
	cfg     Config
	logger  logging.Logger

	records [kinematics.NumModules]moduleRecord
	resets  estimator.Mailbox[geometry.Pose2D]

	lastCycle       time.Time
	gyro            geometry.Rotation
	angularVelocity float64
	sensed          bool
	sensorFailures  int
}

// New returns an orchestrator. vision and telem may be nil.
func New(
	kin *kinematics.SwerveKinematics,
	est *estimator.PoseEstimator,
	act Actuator,
	sensors SensorSource,
	vision VisionSource,
	telem TelemetrySink,
	clk clock.Clock,
	cfg Config,
	logger logging.Logger,
) (*Orchestrator, error) {
	if kin == nil || est == nil {
		return nil, errors.New("drive needs kinematics and a pose estimator")
	}
	if act == nil || sensors == nil {
		return nil, errors.New("drive needs an actuator and a sensor source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	o := &Orchestrator{
		kin:     kin,
		est:     est,
		act:     act,
		sensors: sensors,
		vision:  vision,
		telem:   telem,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
	}
	for i, loc := range kin.Locations() {
		o.records[i] = moduleRecord{
			index:    i,
			location: loc,
			steer:    kinematics.NewModule(geometry.Rotation{}, cfg.AngleDeadband),
		}
		o.records[i].command = ModuleCommand{Index: i, OpenLoop: true}
	}
	return o, nil
}

// Timestamp converts a clock reading to estimator seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Now returns the current time in estimator seconds.
func (o *Orchestrator) Now() float64 {
	return Timestamp(o.clock.Now())
}

// Periodic runs the sensing half of a cycle: applies a pending pose reset, reads the
// sensors into the arena and the estimator, applies at most one vision sample and
// publishes telemetry. A failed sensor read holds the pose for this cycle.
func (o *Orchestrator) Periodic(ctx context.Context) geometry.Pose2D {
	now := o.clock.Now()
	ts := Timestamp(now)
	var dt float64
	if !o.lastCycle.IsZero() {
		dt = now.Sub(o.lastCycle).Seconds()
	}
	o.lastCycle = now

	if pose, ok := o.resets.Poll(); ok {
		o.est.ResetPosition(pose)
	}

	reading, err := o.sensors.Read(ctx)
	if err != nil {
		o.sensorFailures++
		if o.sensorFailures%sensorFailureLogEvery == 1 {
			o.logger.Debugw("sensor read failed, holding pose", "error", err, "failures", o.sensorFailures)
		}
	} else {
		o.observe(reading, dt)
		var positions [kinematics.NumModules]kinematics.ModulePosition
		for i := range o.records {
			positions[i] = o.records[i].position
		}
		o.est.Update(ts, reading.Gyro, positions)
	}

	if o.vision != nil {
		if sample, ok := o.vision.Poll(); ok {
			o.est.AddVisionMeasurement(sample)
		}
	}

	if o.telem != nil {
		o.telem.Publish(o.snapshot(ts))
	}
	return o.est.Pose()
}

func (o *Orchestrator) observe(reading SensorReading, dt float64) {
	if o.sensed && dt > 0 {
		o.angularVelocity = reading.Gyro.Delta(o.gyro) / dt
	}
	o.gyro = reading.Gyro
	o.sensed = true
	for i := range o.records {
		o.records[i].observe(reading.Modules[i], dt)
	}
}

func (o *Orchestrator) snapshot(ts float64) Snapshot {
	snap := Snapshot{
		Timestamp:       ts,
		Pose:            o.est.Pose(),
		OdometryPose:    o.est.OdometryPose(),
		YawDeg:          o.gyro.Degrees(),
		Measured:        o.kin.ToChassisSpeeds(o.ModuleStates()),
		AngularVelocity: o.angularVelocity,
		VisionCount:     o.est.VisionCount(),
		SensorFailures:  o.sensorFailures,
	}
	for i := range o.records {
		snap.Modules[i] = o.records[i].telemetry()
	}
	return snap
}

// Drive commands a chassis velocity. Field-relative requests are rotated by the current
// pose heading after skew correction. Open-loop requests are sent as percent output.
func (o *Orchestrator) Drive(ctx context.Context, speeds kinematics.ChassisSpeeds, fieldRelative, openLoop bool) error {
	if !speeds.IsFinite() {
		return errors.Errorf("chassis speeds must be finite, got %s", speeds)
	}
	corrected := kinematics.Discretize(speeds, o.cfg.Period)
	if fieldRelative {
		corrected = kinematics.FromFieldRelativeSpeeds(corrected, o.est.Pose().Rotation)
	}

	var headings [kinematics.NumModules]geometry.Rotation
	for i := range o.records {
		headings[i] = o.records[i].heading
	}
	states := o.kin.ToModuleStates(corrected, &headings)
	for i := range o.records {
		o.records[i].heading = headings[i]
	}
	return o.command(ctx, kinematics.DesaturateWheelSpeeds(states, o.cfg.MaxSpeed), openLoop)
}

// SetModuleStates commands module states directly in closed loop, as a path follower does.
func (o *Orchestrator) SetModuleStates(ctx context.Context, states [kinematics.NumModules]kinematics.ModuleState) error {
	for i, s := range states {
		if math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0) || math.IsNaN(s.Angle.Radians()) {
			return errors.Errorf("module %d state is not finite", i)
		}
	}
	for i, s := range states {
		if s.Speed != 0 {
			o.records[i].heading = s.Angle
		}
	}
	return o.command(ctx, kinematics.DesaturateWheelSpeeds(states, o.cfg.MaxSpeed), false)
}

// Lock points every module at the chassis centre line through its own offset, forming
// an X, at zero speed. Later zero requests keep the X.
func (o *Orchestrator) Lock(ctx context.Context) error {
	var states [kinematics.NumModules]kinematics.ModuleState
	for i := range o.records {
		states[i] = kinematics.ModuleState{Angle: o.records[i].location.Angle()}
		o.records[i].heading = states[i].Angle
	}
	return o.commandWith(ctx, states, true, true)
}

// Stop zeroes every drive motor while each module holds its last commanded angle.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var cmds [kinematics.NumModules]ModuleCommand
	for i := range o.records {
		rec := &o.records[i]
		rec.command = ModuleCommand{Index: i, State: rec.steer.Hold(), OpenLoop: true}
		cmds[i] = rec.command
	}
	return o.act.Actuate(ctx, cmds)
}

func (o *Orchestrator) command(ctx context.Context, states [kinematics.NumModules]kinematics.ModuleState, openLoop bool) error {
	return o.commandWith(ctx, states, openLoop, false)
}

func (o *Orchestrator) commandWith(
	ctx context.Context,
	states [kinematics.NumModules]kinematics.ModuleState,
	openLoop, exact bool,
) error {
	var cmds [kinematics.NumModules]ModuleCommand
	dt := o.cfg.Period.Seconds()
	for i := range o.records {
		rec := &o.records[i]
		var target kinematics.ModuleState
		var reversed bool
		if exact {
			target, reversed = rec.steer.Point(states[i], rec.currentAngle())
		} else {
			target, reversed = rec.steer.Target(states[i], rec.currentAngle())
		}
		cmd := ModuleCommand{Index: i, State: target, OpenLoop: openLoop, Reversed: reversed}
		if openLoop {
			cmd.PercentOutput = percentOutput(target.Speed, o.cfg.MaxSpeed)
		} else {
			accel := (target.Speed - rec.command.State.Speed) / dt
			cmd.FeedforwardVolts = o.cfg.Feedforward.Calculate(target.Speed, accel)
		}
		rec.command = cmd
		cmds[i] = cmd
	}
	return o.act.Actuate(ctx, cmds)
}

// ResetPose asks the next cycle to override the estimate with pose. Safe from any goroutine.
func (o *Orchestrator) ResetPose(pose geometry.Pose2D) {
	o.resets.Offer(pose)
}

// Pose returns the fused pose estimate.
func (o *Orchestrator) Pose() geometry.Pose2D {
	return o.est.Pose()
}

// ModuleStates returns the measured module states.
func (o *Orchestrator) ModuleStates() [kinematics.NumModules]kinematics.ModuleState {
	var states [kinematics.NumModules]kinematics.ModuleState
	for i := range o.records {
		states[i] = o.records[i].measured
	}
	return states
}

// ModulePositions returns the last module positions.
func (o *Orchestrator) ModulePositions() [kinematics.NumModules]kinematics.ModulePosition {
	var positions [kinematics.NumModules]kinematics.ModulePosition
	for i := range o.records {
		positions[i] = o.records[i].position
	}
	return positions
}

// Commands returns the last command sent to each module.
func (o *Orchestrator) Commands() [kinematics.NumModules]ModuleCommand {
	var cmds [kinematics.NumModules]ModuleCommand
	for i := range o.records {
		cmds[i] = o.records[i].command
	}
	return cmds
}

// MaxSpeed returns the configured wheel speed ceiling in m/s.
func (o *Orchestrator) MaxSpeed() float64 {
	return o.cfg.MaxSpeed
}

// MaxAngularVelocity returns the configured rotation ceiling in rad/s.
func (o *Orchestrator) MaxAngularVelocity() float64 {
	return o.cfg.MaxAngularVelocity
}
