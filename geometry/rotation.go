// Package geometry implements the planar rigid-body types used by the swerve drive:
// rotations, translations, poses and twists, with the exponential and logarithm maps
// between them.
package geometry

import (
	"math"

	rdkutils "go.viam.com/rdk/utils"
)

// Rotation is a planar rotation stored in radians, normalized to [-π, π).
type Rotation struct {
	radians float64
}

// NewRotation returns the rotation for the given angle in radians.
func NewRotation(radians float64) Rotation {
	return Rotation{radians: normalize(radians)}
}

// FromDegrees returns the rotation for the given angle in degrees.
func FromDegrees(degrees float64) Rotation {
	return NewRotation(rdkutils.DegToRad(degrees))
}

// FromComponents returns the rotation whose cosine and sine are proportional to x and y.
func FromComponents(x, y float64) Rotation {
	if x == 0 && y == 0 {
		return Rotation{}
	}
	return NewRotation(math.Atan2(y, x))
}

// Radians returns the angle in radians in [-π, π).
func (r Rotation) Radians() float64 {
	return r.radians
}

// Degrees returns the angle in degrees in [-180, 180).
func (r Rotation) Degrees() float64 {
	return rdkutils.RadToDeg(r.radians)
}

// Cos returns the cosine of the rotation.
func (r Rotation) Cos() float64 {
	return math.Cos(r.radians)
}

// Sin returns the sine of the rotation.
func (r Rotation) Sin() float64 {
	return math.Sin(r.radians)
}

// Plus returns r rotated further by other.
func (r Rotation) Plus(other Rotation) Rotation {
	return NewRotation(r.radians + other.radians)
}

// Minus returns the rotation taking other onto r.
func (r Rotation) Minus(other Rotation) Rotation {
	return NewRotation(r.radians - other.radians)
}

// Neg returns the inverse rotation.
func (r Rotation) Neg() Rotation {
	return NewRotation(-r.radians)
}

// Times scales the angle.
func (r Rotation) Times(scalar float64) Rotation {
	return NewRotation(r.radians * scalar)
}

// AlmostEqual reports whether two rotations are within tol radians of each other,
// accounting for wraparound.
func (r Rotation) AlmostEqual(other Rotation, tol float64) bool {
	return math.Abs(r.Minus(other).radians) <= tol
}

// Delta returns the signed shortest angle from other to r in (-π, π].
func (r Rotation) Delta(other Rotation) float64 {
	d := r.Minus(other).radians
	if d == -math.Pi {
		return math.Pi
	}
	return d
}

func normalize(radians float64) float64 {
	if math.IsNaN(radians) || math.IsInf(radians, 0) {
		return radians
	}
	a := math.Mod(radians+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
