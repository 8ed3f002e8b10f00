package geometry

import (
	"fmt"
	"math"
)

// smallAngle is the threshold under which the exp/log maps switch to their series expansions.
const smallAngle = 1e-9

// Translation is a planar vector in metres.
type Translation struct {
	X float64
	Y float64
}

// Norm returns the length of the translation.
func (t Translation) Norm() float64 {
	return math.Hypot(t.X, t.Y)
}

// Angle returns the direction of the translation.
func (t Translation) Angle() Rotation {
	return FromComponents(t.X, t.Y)
}

// Plus adds two translations.
func (t Translation) Plus(other Translation) Translation {
	return Translation{X: t.X + other.X, Y: t.Y + other.Y}
}

// Minus subtracts other from t.
func (t Translation) Minus(other Translation) Translation {
	return Translation{X: t.X - other.X, Y: t.Y - other.Y}
}

// Times scales the translation.
func (t Translation) Times(scalar float64) Translation {
	return Translation{X: t.X * scalar, Y: t.Y * scalar}
}

// RotateBy rotates the translation counter-clockwise about the origin.
func (t Translation) RotateBy(r Rotation) Translation {
	c, s := r.Cos(), r.Sin()
	return Translation{X: t.X*c - t.Y*s, Y: t.X*s + t.Y*c}
}

// Pose2D is a position and heading on the field.
type Pose2D struct {
	Translation Translation
	Rotation    Rotation
}

// NewPose2D returns a pose from its components, heading in radians.
func NewPose2D(x, y, headingRadians float64) Pose2D {
	return Pose2D{Translation: Translation{X: x, Y: y}, Rotation: NewRotation(headingRadians)}
}

// X returns the x coordinate in metres.
func (p Pose2D) X() float64 { return p.Translation.X }

// Y returns the y coordinate in metres.
func (p Pose2D) Y() float64 { return p.Translation.Y }

func (p Pose2D) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.2f°)", p.Translation.X, p.Translation.Y, p.Rotation.Degrees())
}

// IsFinite reports whether every component of the pose is a finite number.
func (p Pose2D) IsFinite() bool {
	return finite(p.Translation.X) && finite(p.Translation.Y) && finite(p.Rotation.radians)
}

// TransformBy applies a transform expressed in this pose's frame.
func (p Pose2D) TransformBy(t Transform2D) Pose2D {
	return Pose2D{
		Translation: p.Translation.Plus(t.Translation.RotateBy(p.Rotation)),
		Rotation:    p.Rotation.Plus(t.Rotation),
	}
}

// RelativeTo returns p expressed in the frame of origin, as the transform taking origin onto p.
func (p Pose2D) RelativeTo(origin Pose2D) Transform2D {
	return Transform2D{
		Translation: p.Translation.Minus(origin.Translation).RotateBy(origin.Rotation.Neg()),
		Rotation:    p.Rotation.Minus(origin.Rotation),
	}
}

// Exp integrates a body-frame twist onto the pose, following the constant-curvature
// arc the twist describes instead of a straight line.
func (p Pose2D) Exp(twist Twist2D) Pose2D {
	dtheta := twist.Dtheta
	sinTheta, cosTheta := math.Sin(dtheta), math.Cos(dtheta)

	var s, c float64
	if math.Abs(dtheta) < smallAngle {
		s = 1 - dtheta*dtheta/6
		c = dtheta / 2
	} else {
		s = sinTheta / dtheta
		c = (1 - cosTheta) / dtheta
	}
	return p.TransformBy(Transform2D{
		Translation: Translation{
			X: twist.Dx*s - twist.Dy*c,
			Y: twist.Dx*c + twist.Dy*s,
		},
		Rotation: FromComponents(cosTheta, sinTheta),
	})
}

// Log returns the twist that, applied to p with Exp, yields end.
func (p Pose2D) Log(end Pose2D) Twist2D {
	return Log(end.RelativeTo(p))
}

// Interpolate returns the pose a fraction t of the way along the twist from p to end.
func (p Pose2D) Interpolate(end Pose2D, t float64) Pose2D {
	switch {
	case t <= 0:
		return p
	case t >= 1:
		return end
	}
	return p.Exp(p.Log(end).Times(t))
}

// Transform2D is a rigid transform between two frames.
type Transform2D struct {
	Translation Translation
	Rotation    Rotation
}

// Twist2D is a body-frame displacement along a constant-curvature arc.
type Twist2D struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// Times scales every component of the twist.
func (t Twist2D) Times(scalar float64) Twist2D {
	return Twist2D{Dx: t.Dx * scalar, Dy: t.Dy * scalar, Dtheta: t.Dtheta * scalar}
}

// IsFinite reports whether every component of the twist is a finite number.
func (t Twist2D) IsFinite() bool {
	return finite(t.Dx) && finite(t.Dy) && finite(t.Dtheta)
}

// Log is the matrix logarithm of a planar rigid transform: the twist whose exponential
// from the origin produces the transform. The rotation is taken in [-π, π).
func Log(transform Transform2D) Twist2D {
	return LogArc(transform.Translation, transform.Rotation.Radians())
}

// LogArc is Log for a transform whose rotation dtheta has not been wrapped, so an arc
// that turns further than half a revolution keeps its direction. Near zero rotation the
// θ/tan(θ/2) term is replaced by its series expansion.
func LogArc(translation Translation, dtheta float64) Twist2D {
	halfDtheta := dtheta / 2

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(dtheta) < smallAngle {
		halfThetaByTanOfHalfDtheta = 1 - dtheta*dtheta/12
	} else {
		halfThetaByTanOfHalfDtheta = halfDtheta / math.Tan(halfDtheta)
	}

	// rotate by (halfThetaByTan, -halfDtheta) and scale by its magnitude
	x, y := translation.X, translation.Y
	return Twist2D{
		Dx:     x*halfThetaByTanOfHalfDtheta + y*halfDtheta,
		Dy:     y*halfThetaByTanOfHalfDtheta - x*halfDtheta,
		Dtheta: dtheta,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
