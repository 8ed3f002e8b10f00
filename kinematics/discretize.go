package kinematics

import (
	"time"

	"swerve/geometry"
)

// Discretize corrects a chassis velocity for skew. Commanding a constant velocity for
// one control period assumes the robot moves in a straight line while it turns, which
// drifts sideways when translating and rotating together. Discretize returns the
// velocity whose constant-curvature arc over period ends at the pose the naive
// straight-line command was aiming for.
func Discretize(speeds ChassisSpeeds, period time.Duration) ChassisSpeeds {
	dt := period.Seconds()
	if dt <= 0 {
		return speeds
	}

	// the rotation stays unwrapped so a turn past half a revolution per period keeps its sign
	twist := geometry.LogArc(geometry.Translation{X: speeds.Vx * dt, Y: speeds.Vy * dt}, speeds.Omega*dt)
	return ChassisSpeeds{
		Vx:    twist.Dx / dt,
		Vy:    twist.Dy / dt,
		Omega: twist.Dtheta / dt,
	}
}
