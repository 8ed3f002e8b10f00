package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
)

// DoCommand keys.
const (
	cmdAddVisionMeasurement = "add_vision_measurement"
	cmdGetPose              = "get_pose"
	cmdResetPose            = "reset_pose"
	cmdLock                 = "lock"
	cmdSetFieldRelative     = "set_field_relative"
	cmdGetTelemetry         = "get_telemetry"
	cmdResetToAbsolute      = "reset_modules_to_absolute"

	argX         = "x_m"
	argY         = "y_m"
	argTheta     = "theta_deg"
	argTimestamp = "timestamp_s"
	argEnabled   = "enabled"
)

type intentKind int

const (
	intentStop intentKind = iota
	intentVelocity
	intentLock
)

// absoluteResetter is implemented by sensor sources that can re-zero the relative
// steering angles against the absolute encoders.
type absoluteResetter interface {
	ResetToAbsolute() error
}

// intent is what the control loop keeps doing until the next one arrives.
type intent struct {
	kind     intentKind
	speeds   kinematics.ChassisSpeeds
	openLoop bool
}

// swerveBase is a base.Base whose RPC methods only post intents; a single control loop
// goroutine owns the orchestrator and turns the latest intent into module commands
// every period.
type swerveBase struct {
	resource.Named
	resource.AlwaysRebuild

	cfg        *Config
	geometries []spatialmath.Geometry
	clock      clock.Clock
	logger     logging.Logger

	orch      *drive.Orchestrator
	sensors   drive.SensorSource
	telemetry *drive.TelemetryStore
	vision    estimator.Mailbox[estimator.VisionSample]
	intents   estimator.Mailbox[intent]

	// control loop only
	current intent

	pose          atomic.Pointer[geometry.Pose2D]
	fieldRelative atomic.Bool
	isMoving      atomic.Bool

	closers                 []func() error
	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

func newSwerveBase(
	named resource.Named,
	cfg *Config,
	geometries []spatialmath.Geometry,
	act drive.Actuator,
	sensors drive.SensorSource,
	clk clock.Clock,
	logger logging.Logger,
	closers ...func() error,
) (*swerveBase, error) {
	kin, err := cfg.kinematics()
	if err != nil {
		return nil, err
	}
	est, err := estimator.NewPoseEstimator(kin, geometry.Pose2D{}, cfg.estimatorConfig(), logger)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	sb := &swerveBase{
		Named:      named,
		cfg:        cfg,
		geometries: geometries,
		clock:      clk,
		logger:     logger,
		sensors:    sensors,
		telemetry:  drive.NewTelemetryStore(),
		closers:    closers,
		cancelCtx:  cancelCtx,
		cancel:     cancel,
	}
	sb.orch, err = drive.New(kin, est, act, sensors, &sb.vision, sb.telemetry, clk, cfg.driveConfig(), logger)
	if err != nil {
		cancel()
		return nil, err
	}
	sb.fieldRelative.Store(cfg.FieldRelative)
	return sb, nil
}

func (sb *swerveBase) startControlLoop() {
	sb.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		sb.controlLoop(sb.cancelCtx)
	}, sb.activeBackgroundWorkers.Done)
}

// controlLoop runs one cycle per control period until the base is closed.
func (sb *swerveBase) controlLoop(ctx context.Context) {
	ticker := sb.clock.Ticker(sb.cfg.period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sb.runCycle(ctx)
	}
}

func (sb *swerveBase) runCycle(ctx context.Context) {
	pose := sb.orch.Periodic(ctx)
	sb.pose.Store(&pose)

	if next, ok := sb.intents.Poll(); ok {
		sb.current = next
	}
	var err error
	switch sb.current.kind {
	case intentVelocity:
		err = sb.orch.Drive(ctx, sb.current.speeds, sb.fieldRelative.Load(), sb.current.openLoop)
	case intentLock:
		err = sb.orch.Lock(ctx)
	default:
		err = sb.orch.Stop(ctx)
	}
	if err != nil && ctx.Err() == nil {
		sb.logger.Errorw("drive command failed, stopping", "error", err)
		sb.current = intent{kind: intentStop}
		sb.isMoving.Store(false)
	}
}

func (sb *swerveBase) setIntent(ctx context.Context, next intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sb.cancelCtx.Err() != nil {
		return errors.New("base is closed")
	}
	if !next.speeds.IsFinite() {
		return errors.Errorf("non-finite chassis speeds %v", next.speeds)
	}
	sb.intents.Offer(next)
	sb.isMoving.Store(next.kind == intentVelocity && !next.speeds.IsZero())
	return nil
}

func (sb *swerveBase) stop() {
	sb.intents.Offer(intent{kind: intentStop})
	sb.isMoving.Store(false)
}

// velocityToSpeeds maps viam's base frame (y forward, x right, mm/s and deg/s) onto
// chassis speeds (x forward, y left, m/s and rad/s).
func velocityToSpeeds(linear, angular r3.Vector) kinematics.ChassisSpeeds {
	return kinematics.ChassisSpeeds{
		Vx:    linear.Y / 1000,
		Vy:    -linear.X / 1000,
		Omega: rdkutils.DegToRad(angular.Z),
	}
}

// MoveStraight drives forward distanceMm at mmPerSec, then stops.
func (sb *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 || mmPerSec == 0 {
		return sb.Stop(ctx, extra)
	}
	speed := math.Abs(mmPerSec)
	if (distanceMm < 0) != (mmPerSec < 0) {
		speed = -speed
	}
	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	return sb.moveFor(ctx, velocityToSpeeds(r3.Vector{Y: speed}, r3.Vector{}), duration)
}

// Spin turns the base in place by angleDeg at degsPerSec, then stops.
func (sb *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 || degsPerSec == 0 {
		return sb.Stop(ctx, extra)
	}
	rate := math.Abs(degsPerSec)
	if (angleDeg < 0) != (degsPerSec < 0) {
		rate = -rate
	}
	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	return sb.moveFor(ctx, velocityToSpeeds(r3.Vector{}, r3.Vector{Z: rate}), duration)
}

func (sb *swerveBase) moveFor(ctx context.Context, speeds kinematics.ChassisSpeeds, duration time.Duration) error {
	if err := sb.setIntent(ctx, intent{kind: intentVelocity, speeds: speeds}); err != nil {
		return err
	}
	defer sb.stop()

	if !viamutils.SelectContextOrWait(ctx, duration) {
		return ctx.Err()
	}
	return nil
}

// SetPower sets the linear and angular [-1, 1] drive power as fractions of the
// configured maximum speeds, open loop.
func (sb *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	// Some vector components do not apply to a 2D base
	if linear.Z != 0 || angular.X != 0 || angular.Y != 0 {
		sb.logger.Warnw("SetPower components outside the ground plane have no effect",
			"linear.Z", linear.Z, "angular.X", angular.X, "angular.Y", angular.Y)
	}
	clamp := func(v float64) float64 { return math.Max(-1, math.Min(1, v)) }
	speeds := kinematics.ChassisSpeeds{
		Vx:    clamp(linear.Y) * sb.orch.MaxSpeed(),
		Vy:    -clamp(linear.X) * sb.orch.MaxSpeed(),
		Omega: clamp(angular.Z) * sb.orch.MaxAngularVelocity(),
	}
	return sb.setIntent(ctx, intent{kind: intentVelocity, speeds: speeds, openLoop: true})
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity, closed loop.
func (sb *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	return sb.setIntent(ctx, intent{kind: intentVelocity, speeds: velocityToSpeeds(linear, angular)})
}

// Stop zeroes the wheels and holds the module angles.
func (sb *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	sb.stop()
	return nil
}

func (sb *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	return sb.isMoving.Load(), nil
}

func (sb *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		WidthMeters:              sb.cfg.widthMeters(),
		WheelCircumferenceMeters: sb.cfg.wheelCircumferenceMeters(),
	}, nil
}

func (sb *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return sb.geometries, nil
}

func (sb *swerveBase) currentPose() geometry.Pose2D {
	if p := sb.pose.Load(); p != nil {
		return *p
	}
	return geometry.Pose2D{}
}

// DoCommand executes the pose and vision commands beyond the Base{} interface.
func (sb *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case cmdAddVisionMeasurement:
		pose, err := poseArgs(cmd)
		if err != nil {
			return nil, err
		}
		timestamp := drive.Timestamp(sb.clock.Now())
		if _, ok := cmd[argTimestamp]; ok {
			if timestamp, err = floatArg(cmd, argTimestamp); err != nil {
				return nil, err
			}
		}
		sb.vision.Offer(estimator.VisionSample{Pose: pose, Timestamp: timestamp})
		return map[string]interface{}{"return": cmdAddVisionMeasurement + " command processed"}, nil

	case cmdGetPose:
		pose := sb.currentPose()
		return map[string]interface{}{
			argX:     pose.X(),
			argY:     pose.Y(),
			argTheta: pose.Rotation.Degrees(),
		}, nil

	case cmdResetPose:
		pose, err := poseArgs(cmd)
		if err != nil {
			return nil, err
		}
		sb.orch.ResetPose(pose)
		return map[string]interface{}{"return": cmdResetPose + " command processed"}, nil

	case cmdLock:
		if err := sb.setIntent(ctx, intent{kind: intentLock}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": cmdLock + " command processed"}, nil

	case cmdSetFieldRelative:
		enabledRaw, ok := cmd[argEnabled]
		if !ok {
			return nil, errors.New("enabled must be set and a boolean value")
		}
		enabled, ok := enabledRaw.(bool)
		if !ok {
			return nil, errors.New("enabled value must be a boolean")
		}
		sb.fieldRelative.Store(enabled)
		return map[string]interface{}{"return": fmt.Sprintf("%s command processed: %t", cmdSetFieldRelative, enabled)}, nil

	case cmdResetToAbsolute:
		resetter, ok := sb.sensors.(absoluteResetter)
		if !ok {
			return nil, errors.New("sensors have no absolute encoders to reset to")
		}
		if err := resetter.ResetToAbsolute(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": cmdResetToAbsolute + " command processed"}, nil

	case cmdGetTelemetry:
		telemetry := sb.telemetry.Map()
		telemetry["field_relative"] = sb.fieldRelative.Load()
		return telemetry, nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

func floatArg(cmd map[string]interface{}, key string) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return 0, errors.Errorf("%s must be set to a float", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("%s value must be a float but is type %T", key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("%s value must be finite", key)
	}
	return v, nil
}

func poseArgs(cmd map[string]interface{}) (geometry.Pose2D, error) {
	x, err := floatArg(cmd, argX)
	if err != nil {
		return geometry.Pose2D{}, err
	}
	y, err := floatArg(cmd, argY)
	if err != nil {
		return geometry.Pose2D{}, err
	}
	theta, err := floatArg(cmd, argTheta)
	if err != nil {
		return geometry.Pose2D{}, err
	}
	return geometry.NewPose2D(x, y, rdkutils.DegToRad(theta)), nil
}

// Close stops the control loop, leaves the modules holding and releases the transport.
func (sb *swerveBase) Close(ctx context.Context) error {
	var err error
	sb.closeOnce.Do(func() {
		sb.stop()
		sb.cancel()
		sb.activeBackgroundWorkers.Wait()

		err = sb.orch.Stop(ctx)
		for _, closer := range sb.closers {
			err = multierr.Append(err, closer())
		}
	})
	return err
}
