package geometry

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"
)

// FromSpatialPose collapses a 3-D pose (millimetres, any orientation) onto the floor
// plane: x and y in metres and the yaw of its orientation.
func FromSpatialPose(pose spatialmath.Pose) Pose2D {
	pt := pose.Point()
	return Pose2D{
		Translation: Translation{X: pt.X / 1000, Y: pt.Y / 1000},
		Rotation:    NewRotation(pose.Orientation().EulerAngles().Yaw),
	}
}

// ToSpatialPose lifts a planar pose into the 3-D convention used by rdk: millimetres,
// rotation about +Z.
func ToSpatialPose(p Pose2D) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.Translation.X * 1000, Y: p.Translation.Y * 1000},
		&spatialmath.OrientationVectorDegrees{OZ: 1, Theta: rdkutils.RadToDeg(p.Rotation.Radians())},
	)
}
