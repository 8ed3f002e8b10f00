package drive

import (
	"context"

	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
)

// ModuleCommand is the actuation intent for one module.
type ModuleCommand struct {
	Index int
	State kinematics.ModuleState
	// OpenLoop commands drive with PercentOutput; otherwise the module runs its own
	// velocity loop toward State.Speed with FeedforwardVolts added.
	OpenLoop         bool
	PercentOutput    float64
	FeedforwardVolts float64
	Reversed         bool
}

// Actuator drives the physical (or simulated) modules.
type Actuator interface {
	Actuate(ctx context.Context, cmds [kinematics.NumModules]ModuleCommand) error
}

// ModuleReading is one module's sensor sample.
type ModuleReading struct {
	Position kinematics.ModulePosition
	// Velocity is the measured wheel surface speed in m/s.
	Velocity float64
	// Current is the drive motor current in amps.
	Current float64
	// AbsoluteAngle is the steering angle from the absolute encoder. It survives power
	// cycles, unlike Position.Angle, and is reported for checking the two agree.
	AbsoluteAngle geometry.Rotation
}

// SensorReading is everything read once per cycle.
type SensorReading struct {
	Gyro    geometry.Rotation
	Modules [kinematics.NumModules]ModuleReading
}

// SensorSource supplies the per-cycle readings.
type SensorSource interface {
	Read(ctx context.Context) (SensorReading, error)
}

// VisionSource hands over at most one fresh vision sample per call without blocking.
// *estimator.Mailbox[estimator.VisionSample] satisfies it.
type VisionSource interface {
	Poll() (estimator.VisionSample, bool)
}

// TelemetrySink receives a snapshot every cycle. Implementations must not block.
type TelemetrySink interface {
	Publish(Snapshot)
}
