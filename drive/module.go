package drive

import (
	"swerve/geometry"
	"swerve/kinematics"
)

// moduleRecord is the arena slot for one swerve module. Everything the orchestrator
// knows about module i lives in records[i].
type moduleRecord struct {
	index    int
	location geometry.Translation
	steer    kinematics.Module
	// heading is the last kinematic (pre-optimization) angle, fed back into the inverse
	// kinematics so a zero request keeps it.
	heading geometry.Rotation

	command  ModuleCommand
	measured kinematics.ModuleState
	position kinematics.ModulePosition
	current  float64
	absolute geometry.Rotation
	sensed   bool

	prevDistance      float64
	estimatedVelocity float64
}

// currentAngle is the best known steering angle: measured once readings exist,
// otherwise the last commanded one.
func (r *moduleRecord) currentAngle() geometry.Rotation {
	if r.sensed {
		return r.measured.Angle
	}
	return r.steer.LastAngle()
}

func (r *moduleRecord) observe(reading ModuleReading, dt float64) {
	if r.sensed && dt > 0 {
		r.estimatedVelocity = (reading.Position.Distance - r.prevDistance) / dt
	}
	r.prevDistance = reading.Position.Distance
	r.position = reading.Position
	r.measured = kinematics.ModuleState{Speed: reading.Velocity, Angle: reading.Position.Angle}
	r.current = reading.Current
	r.absolute = reading.AbsoluteAngle
	r.sensed = true
}

func (r *moduleRecord) telemetry() ModuleTelemetry {
	return ModuleTelemetry{
		AngleDeg:          r.measured.Angle.Degrees(),
		Speed:             r.measured.Speed,
		Distance:          r.position.Distance,
		EstimatedVelocity: r.estimatedVelocity,
		Current:           r.current,
		AbsoluteAngleDeg:  r.absolute.Degrees(),
		TargetAngleDeg:    r.command.State.Angle.Degrees(),
		TargetSpeed:       r.command.State.Speed,
	}
}
