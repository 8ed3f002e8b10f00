// Package kinematics converts between chassis velocities and the states of the four
// independently steered swerve modules.
package kinematics

import (
	"fmt"
	"math"

	"swerve/geometry"
)

// NumModules is the number of swerve modules on the chassis. Every per-module array in
// the repository is indexed 0..NumModules-1 in the same order as the module geometry.
const NumModules = 4

// ChassisSpeeds is the whole-body velocity of the robot: Vx and Vy in m/s, Omega in
// rad/s counter-clockwise.
type ChassisSpeeds struct {
	Vx    float64
	Vy    float64
	Omega float64
}

// IsZero reports whether the chassis is being asked to stand still.
func (s ChassisSpeeds) IsZero() bool {
	return s.Vx == 0 && s.Vy == 0 && s.Omega == 0
}

// IsFinite reports whether every component is a finite number.
func (s ChassisSpeeds) IsFinite() bool {
	for _, v := range []float64{s.Vx, s.Vy, s.Omega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s ChassisSpeeds) String() string {
	return fmt.Sprintf("ChassisSpeeds(vx: %.3f m/s, vy: %.3f m/s, omega: %.3f rad/s)", s.Vx, s.Vy, s.Omega)
}

// FromFieldRelativeSpeeds converts a field-oriented velocity into the robot frame given
// the robot's heading on the field.
func FromFieldRelativeSpeeds(speeds ChassisSpeeds, robotAngle geometry.Rotation) ChassisSpeeds {
	v := geometry.Translation{X: speeds.Vx, Y: speeds.Vy}.RotateBy(robotAngle.Neg())
	return ChassisSpeeds{Vx: v.X, Vy: v.Y, Omega: speeds.Omega}
}

// ModuleState is the commanded or measured speed (m/s) and steering angle of one module.
type ModuleState struct {
	Speed float64
	Angle geometry.Rotation
}

func (s ModuleState) String() string {
	return fmt.Sprintf("ModuleState(%.3f m/s, %.2f°)", s.Speed, s.Angle.Degrees())
}

// ModulePosition is the cumulative drive distance (m) and steering angle of one module.
type ModulePosition struct {
	Distance float64
	Angle    geometry.Rotation
}

// IsFinite reports whether the reading is usable.
func (p ModulePosition) IsFinite() bool {
	return !math.IsNaN(p.Distance) && !math.IsInf(p.Distance, 0) &&
		!math.IsNaN(p.Angle.Radians()) && !math.IsInf(p.Angle.Radians(), 0)
}
