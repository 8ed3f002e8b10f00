package drive

import "math"

// Feedforward is a permanent-magnet DC motor model giving the voltage needed to hold a
// wheel speed: kS·sgn(v) + kV·v + kA·a.
type Feedforward struct {
	KS float64 `json:"ks" yaml:"ks"`
	KV float64 `json:"kv" yaml:"kv"`
	KA float64 `json:"ka" yaml:"ka"`
}

// Calculate returns volts for velocity (m/s) and acceleration (m/s²).
func (f Feedforward) Calculate(velocity, acceleration float64) float64 {
	var sign float64
	switch {
	case velocity > 0:
		sign = 1
	case velocity < 0:
		sign = -1
	}
	return f.KS*sign + f.KV*velocity + f.KA*acceleration
}

// percentOutput converts a speed to a fraction of maxSpeed in [-1, 1].
func percentOutput(speed, maxSpeed float64) float64 {
	if maxSpeed <= 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, speed/maxSpeed))
}
