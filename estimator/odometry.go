package estimator

import (
	"swerve/geometry"
	"swerve/kinematics"
)

// Odometry dead-reckons the chassis pose from module position deltas and the gyro.
//
// Absolute drive distances never enter the pose: the first update after construction
// or a reset only captures the module positions and the gyro offset, and every later
// update integrates the change since the previous one.
type Odometry struct {
	kin *kinematics.SwerveKinematics

	pose       geometry.Pose2D
	gyroOffset geometry.Rotation
	prevAngle  geometry.Rotation
	prev       [kinematics.NumModules]kinematics.ModulePosition
	primed     bool
}

// NewOdometry returns odometry starting at pose.
func NewOdometry(kin *kinematics.SwerveKinematics, pose geometry.Pose2D) *Odometry {
	return &Odometry{kin: kin, pose: pose}
}

// Pose returns the dead-reckoned pose.
func (o *Odometry) Pose() geometry.Pose2D {
	return o.pose
}

// Primed reports whether a baseline reading has been captured.
func (o *Odometry) Primed() bool {
	return o.primed
}

// Reset moves the odometry to pose; the next update re-captures the baseline.
func (o *Odometry) Reset(pose geometry.Pose2D) {
	o.pose = pose
	o.primed = false
}

// Update integrates one set of readings and returns the new pose. It returns false and
// leaves the pose untouched when the integration would produce a non-finite pose.
func (o *Odometry) Update(gyro geometry.Rotation, positions [kinematics.NumModules]kinematics.ModulePosition) (geometry.Pose2D, bool) {
	if !o.primed {
		o.gyroOffset = o.pose.Rotation.Minus(gyro)
		o.prevAngle = o.pose.Rotation
		o.prev = positions
		o.primed = true
		return o.pose, true
	}

	angle := gyro.Plus(o.gyroOffset)

	var deltas [kinematics.NumModules]kinematics.ModulePosition
	for i, p := range positions {
		deltas[i] = kinematics.ModulePosition{Distance: p.Distance - o.prev[i].Distance, Angle: p.Angle}
	}
	twist := o.kin.ToTwist2D(deltas)
	twist.Dtheta = angle.Delta(o.prevAngle)

	next := o.pose.Exp(twist)
	next.Rotation = angle
	if !next.IsFinite() {
		return o.pose, false
	}

	o.pose = next
	o.prev = positions
	o.prevAngle = angle
	return o.pose, true
}
