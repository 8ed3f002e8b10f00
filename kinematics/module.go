package kinematics

import (
	"math"

	"swerve/geometry"
)

// Optimize returns the module state equivalent to desired that needs at most a 90°
// turn from current: when the shortest turn to the desired angle exceeds 90°, the target
// is flipped by 180° and the wheel is driven backwards. The second return value reports
// whether the flip happened.
func Optimize(desired ModuleState, current geometry.Rotation) (ModuleState, bool) {
	delta := desired.Angle.Delta(current)
	if math.Abs(delta) > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: desired.Angle.Plus(geometry.NewRotation(math.Pi)),
		}, true
	}
	return desired, false
}

// Module is the steering state of a single swerve module: the angle it was last told
// to hold. It lives in the drive's module arena, addressed by module index.
type Module struct {
	lastAngle geometry.Rotation
	deadband  float64
}

// NewModule returns a module whose last commanded angle is initial. Requests with a
// speed magnitude at or under deadband (m/s) keep the last angle; zero disables this.
func NewModule(initial geometry.Rotation, deadband float64) Module {
	return Module{lastAngle: initial, deadband: math.Abs(deadband)}
}

// LastAngle returns the last commanded steering angle.
func (m *Module) LastAngle() geometry.Rotation {
	return m.lastAngle
}

// Target optimizes desired against the measured angle, records the resulting angle as
// the last commanded one, and reports whether the drive direction was reversed.
func (m *Module) Target(desired ModuleState, current geometry.Rotation) (ModuleState, bool) {
	optimized, reversed := Optimize(desired, current)
	if m.deadband > 0 && math.Abs(optimized.Speed) <= m.deadband {
		optimized.Angle = m.lastAngle
	}
	m.lastAngle = optimized.Angle
	return optimized, reversed
}

// Point is Target without the deadband, for zero-speed poses such as the lock X.
func (m *Module) Point(desired ModuleState, current geometry.Rotation) (ModuleState, bool) {
	optimized, reversed := Optimize(desired, current)
	m.lastAngle = optimized.Angle
	return optimized, reversed
}

// Hold returns a zero-speed state at the last commanded angle.
func (m *Module) Hold() ModuleState {
	return ModuleState{Angle: m.lastAngle}
}
