package geometry

import (
	"math"
	"testing"

	"go.viam.com/test"
)

const tol = 1e-9

func TestRotationNormalization(t *testing.T) {
	test.That(t, FromDegrees(190).Degrees(), test.ShouldAlmostEqual, -170, tol)
	test.That(t, FromDegrees(-190).Degrees(), test.ShouldAlmostEqual, 170, tol)
	test.That(t, FromDegrees(180).Degrees(), test.ShouldAlmostEqual, -180, tol)
	test.That(t, FromDegrees(720+45).Degrees(), test.ShouldAlmostEqual, 45, tol)

	t.Run("delta", func(t *testing.T) {
		test.That(t, FromDegrees(-10).Delta(FromDegrees(170)), test.ShouldAlmostEqual, math.Pi, tol)
		test.That(t, FromDegrees(20).Delta(FromDegrees(340)), test.ShouldAlmostEqual, math.Pi*40/180, tol)
		test.That(t, FromDegrees(340).Delta(FromDegrees(20)), test.ShouldAlmostEqual, -math.Pi*40/180, tol)
	})

	t.Run("almost equal across wrap", func(t *testing.T) {
		test.That(t, FromDegrees(179.99999).AlmostEqual(FromDegrees(-179.99999), 1e-6), test.ShouldBeTrue)
		test.That(t, FromDegrees(10).AlmostEqual(FromDegrees(11), 1e-6), test.ShouldBeFalse)
	})
}

func TestExpLog(t *testing.T) {
	t.Run("straight line", func(t *testing.T) {
		end := Pose2D{}.Exp(Twist2D{Dx: 1.5, Dy: -0.5})
		test.That(t, end.X(), test.ShouldAlmostEqual, 1.5, tol)
		test.That(t, end.Y(), test.ShouldAlmostEqual, -0.5, tol)
		test.That(t, end.Rotation.Radians(), test.ShouldAlmostEqual, 0, tol)
	})

	t.Run("quarter circle", func(t *testing.T) {
		// driving forward pi/2 metres while turning pi/2 traces a unit-radius arc
		end := Pose2D{}.Exp(Twist2D{Dx: math.Pi / 2, Dtheta: math.Pi / 2})
		test.That(t, end.X(), test.ShouldAlmostEqual, 1, tol)
		test.That(t, end.Y(), test.ShouldAlmostEqual, 1, tol)
		test.That(t, end.Rotation.Degrees(), test.ShouldAlmostEqual, 90, tol)
	})

	t.Run("log inverts exp", func(t *testing.T) {
		start := NewPose2D(2, -1, 0.7)
		twist := Twist2D{Dx: 0.3, Dy: 0.2, Dtheta: -1.1}
		got := start.Log(start.Exp(twist))
		test.That(t, got.Dx, test.ShouldAlmostEqual, twist.Dx, tol)
		test.That(t, got.Dy, test.ShouldAlmostEqual, twist.Dy, tol)
		test.That(t, got.Dtheta, test.ShouldAlmostEqual, twist.Dtheta, tol)
	})

	t.Run("unwrapped arc inverts exp", func(t *testing.T) {
		twist := Twist2D{Dx: 0.02, Dy: -0.01, Dtheta: 4}
		end := Pose2D{}.Exp(twist)
		got := LogArc(end.Translation, twist.Dtheta)
		test.That(t, got.Dx, test.ShouldAlmostEqual, twist.Dx, tol)
		test.That(t, got.Dy, test.ShouldAlmostEqual, twist.Dy, tol)
		test.That(t, got.Dtheta, test.ShouldAlmostEqual, 4, tol)

		// the wrapped form turns the other way
		test.That(t, Log(Transform2D{Translation: end.Translation, Rotation: end.Rotation}).Dtheta, test.ShouldBeLessThan, 0)
	})

	t.Run("tiny rotation stays finite", func(t *testing.T) {
		for _, theta := range []float64{0, 1e-12, -1e-12, 1e-10} {
			twist := Log(Transform2D{Translation: Translation{X: 0.02, Y: 0.01}, Rotation: NewRotation(theta)})
			test.That(t, twist.IsFinite(), test.ShouldBeTrue)
			test.That(t, twist.Dx, test.ShouldAlmostEqual, 0.02, 1e-9)
			test.That(t, twist.Dy, test.ShouldAlmostEqual, 0.01, 1e-9)

			end := Pose2D{}.Exp(Twist2D{Dx: 0.02, Dy: 0.01, Dtheta: theta})
			test.That(t, end.IsFinite(), test.ShouldBeTrue)
		}
	})
}

func TestRelativeAndInterpolate(t *testing.T) {
	origin := NewPose2D(1, 1, math.Pi/2)
	p := NewPose2D(1, 2, math.Pi)

	rel := p.RelativeTo(origin)
	test.That(t, rel.Translation.X, test.ShouldAlmostEqual, 1, tol)
	test.That(t, rel.Translation.Y, test.ShouldAlmostEqual, 0, tol)
	test.That(t, rel.Rotation.Degrees(), test.ShouldAlmostEqual, 90, tol)

	back := origin.TransformBy(rel)
	test.That(t, back.X(), test.ShouldAlmostEqual, p.X(), tol)
	test.That(t, back.Y(), test.ShouldAlmostEqual, p.Y(), tol)
	test.That(t, back.Rotation.AlmostEqual(p.Rotation, tol), test.ShouldBeTrue)

	start := NewPose2D(0, 0, 0)
	end := NewPose2D(2, 0, 0)
	mid := start.Interpolate(end, 0.25)
	test.That(t, mid.X(), test.ShouldAlmostEqual, 0.5, tol)
	test.That(t, start.Interpolate(end, -1), test.ShouldResemble, start)
	test.That(t, start.Interpolate(end, 2), test.ShouldResemble, end)
}

func TestSpatialRoundTrip(t *testing.T) {
	p := NewPose2D(1.25, -0.5, 2.0)
	got := FromSpatialPose(ToSpatialPose(p))
	test.That(t, got.X(), test.ShouldAlmostEqual, p.X(), 1e-9)
	test.That(t, got.Y(), test.ShouldAlmostEqual, p.Y(), 1e-9)
	test.That(t, got.Rotation.AlmostEqual(p.Rotation, 1e-6), test.ShouldBeTrue)
}
