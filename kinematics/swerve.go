package kinematics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"swerve/geometry"
)

// ErrDegenerateGeometry is returned when module offsets cannot define a chassis velocity.
var ErrDegenerateGeometry = errors.New("degenerate swerve module geometry")

// SwerveKinematics maps chassis velocities to module states and back. The inverse
// matrix and its least-squares pseudo-inverse are computed once at construction and
// never mutated, so a single value can be shared by every component.
type SwerveKinematics struct {
	locations [NumModules]geometry.Translation
	inverse   *mat.Dense // (2*NumModules)x3
	forward   *mat.Dense // 3x(2*NumModules)
}

// NewSwerveKinematics builds the kinematics for modules at the given offsets (metres)
// from the centre of rotation, in module-index order.
func NewSwerveKinematics(locations ...geometry.Translation) (*SwerveKinematics, error) {
	if len(locations) != NumModules {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "need exactly %d module locations, got %d", NumModules, len(locations))
	}

	k := &SwerveKinematics{inverse: mat.NewDense(2*NumModules, 3, nil)}
	for i, loc := range locations {
		if !finite(loc.X) || !finite(loc.Y) {
			return nil, errors.Wrapf(ErrDegenerateGeometry, "module %d location is not finite", i)
		}
		for j := 0; j < i; j++ {
			if locations[j] == loc {
				return nil, errors.Wrapf(ErrDegenerateGeometry, "modules %d and %d share location (%.3f, %.3f)", j, i, loc.X, loc.Y)
			}
		}
		k.locations[i] = loc
		k.inverse.SetRow(2*i, []float64{1, 0, -loc.Y})
		k.inverse.SetRow(2*i+1, []float64{0, 1, loc.X})
	}

	// forward = (AᵀA)⁻¹Aᵀ
	var normal mat.Dense
	normal.Mul(k.inverse.T(), k.inverse)
	var normalInv mat.Dense
	if err := normalInv.Inverse(&normal); err != nil {
		return nil, errors.Wrap(ErrDegenerateGeometry, err.Error())
	}
	k.forward = mat.NewDense(3, 2*NumModules, nil)
	k.forward.Mul(&normalInv, k.inverse.T())

	return k, nil
}

// Locations returns the module offsets in module-index order.
func (k *SwerveKinematics) Locations() [NumModules]geometry.Translation {
	return k.locations
}

// ToModuleStates returns the module states that reproduce the requested chassis speeds.
//
// headings, when non-nil, holds the last commanded angle of every module. A request of
// exactly zero returns zero speeds at those angles instead of snapping the modules back
// to 0°; any other request overwrites them with the new angles.
func (k *SwerveKinematics) ToModuleStates(speeds ChassisSpeeds, headings *[NumModules]geometry.Rotation) [NumModules]ModuleState {
	var states [NumModules]ModuleState
	if speeds.IsZero() {
		if headings != nil {
			for i := range states {
				states[i] = ModuleState{Angle: headings[i]}
			}
		}
		return states
	}

	var v mat.VecDense
	v.MulVec(k.inverse, mat.NewVecDense(3, []float64{speeds.Vx, speeds.Vy, speeds.Omega}))
	for i := range states {
		x, y := v.AtVec(2*i), v.AtVec(2*i+1)
		states[i] = ModuleState{Speed: math.Hypot(x, y), Angle: geometry.FromComponents(x, y)}
		if headings != nil {
			headings[i] = states[i].Angle
		}
	}
	return states
}

// ToChassisSpeeds returns the least-squares chassis velocity best matching the
// measured module states.
func (k *SwerveKinematics) ToChassisSpeeds(states [NumModules]ModuleState) ChassisSpeeds {
	var moduleVectors [2 * NumModules]float64
	for i, s := range states {
		moduleVectors[2*i] = s.Speed * s.Angle.Cos()
		moduleVectors[2*i+1] = s.Speed * s.Angle.Sin()
	}
	vx, vy, omega := k.solve(moduleVectors)
	return ChassisSpeeds{Vx: vx, Vy: vy, Omega: omega}
}

// ToTwist2D returns the least-squares body displacement for the given module
// displacements. Each delta carries the distance travelled since the previous sample
// and the module's current angle.
func (k *SwerveKinematics) ToTwist2D(deltas [NumModules]ModulePosition) geometry.Twist2D {
	var moduleVectors [2 * NumModules]float64
	for i, d := range deltas {
		moduleVectors[2*i] = d.Distance * d.Angle.Cos()
		moduleVectors[2*i+1] = d.Distance * d.Angle.Sin()
	}
	dx, dy, dtheta := k.solve(moduleVectors)
	return geometry.Twist2D{Dx: dx, Dy: dy, Dtheta: dtheta}
}

func (k *SwerveKinematics) solve(moduleVectors [2 * NumModules]float64) (float64, float64, float64) {
	var out mat.VecDense
	out.MulVec(k.forward, mat.NewVecDense(2*NumModules, moduleVectors[:]))
	return out.AtVec(0), out.AtVec(1), out.AtVec(2)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
