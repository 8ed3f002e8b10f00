package kinematics

import "math"

// DesaturateWheelSpeeds scales every module speed by the same factor when any of them
// exceeds maxSpeed, so the ratios between wheels, and with them the path curvature, are
// kept. Angles are never touched and states already within the limit are returned as is.
func DesaturateWheelSpeeds(states [NumModules]ModuleState, maxSpeed float64) [NumModules]ModuleState {
	realMax := 0.0
	for _, s := range states {
		realMax = math.Max(realMax, math.Abs(s.Speed))
	}
	if realMax <= maxSpeed || maxSpeed <= 0 {
		return states
	}

	k := maxSpeed / realMax
	for i := range states {
		states[i].Speed *= k
	}
	return states
}
