package swerve

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"swerve/geometry"
)

// ChassisSpeeds is a body frame velocity: Vx forward and Vy left in m/s, Omega
// counter-clockwise in rad/s.
type ChassisSpeeds struct {
	Vx    float64
	Vy    float64
	Omega float64
}

// ModuleState is the velocity of one module: wheel speed in m/s and steering angle in the
// robot frame.
type ModuleState struct {
	Speed float64
	Angle s1.Angle
}

// Vector returns the module velocity as a robot frame vector.
func (s ModuleState) Vector() r2.Point {
	sin, cos := math.Sincos(s.Angle.Radians())
	return r2.Point{X: s.Speed * cos, Y: s.Speed * sin}
}

// ModuleDelta is the distance a wheel rolled during one cycle and the angle it rolled at.
type ModuleDelta struct {
	Distance float64
	Angle    s1.Angle
}

// Kinematics converts between chassis motion and module motion for a rigid planar body.
// It is immutable after construction and safe to share.
type Kinematics struct {
	positions      [NumModules]r2.Point
	maxModuleSpeed float64

	// inverse is the least squares inverse of the forward map, rows vx, vy, omega over the
	// interleaved module vector (vx0, vy0, vx1, vy1, ...).
	inverse [3][2 * NumModules]float64
}

// NewKinematics builds the kinematics for modules at the given positions. maxModuleSpeed is
// the top wheel speed in m/s.
func NewKinematics(positions [NumModules]r2.Point, maxModuleSpeed float64) (*Kinematics, error) {
	if !(maxModuleSpeed > 0) {
		return nil, errors.Errorf("max module speed must be positive, got %v", maxModuleSpeed)
	}

	forward := mat.NewDense(2*NumModules, 3, nil)
	for i, p := range positions {
		forward.SetRow(2*i, []float64{1, 0, -p.Y})
		forward.SetRow(2*i+1, []float64{0, 1, p.X})
	}

	var normal, normalInv, pinv mat.Dense
	normal.Mul(forward.T(), forward)
	if err := normalInv.Inverse(&normal); err != nil {
		return nil, errors.Wrap(err, "module positions do not determine chassis motion")
	}
	pinv.Mul(&normalInv, forward.T())

	k := &Kinematics{positions: positions, maxModuleSpeed: maxModuleSpeed}
	for r := 0; r < 3; r++ {
		for c := 0; c < 2*NumModules; c++ {
			k.inverse[r][c] = pinv.At(r, c)
		}
	}
	return k, nil
}

// MaxModuleSpeed returns the top wheel speed in m/s.
func (k *Kinematics) MaxModuleSpeed() float64 {
	return k.maxModuleSpeed
}

// Positions returns the module positions the kinematics were built from.
func (k *Kinematics) Positions() [NumModules]r2.Point {
	return k.positions
}

// Decompose returns the module states that produce the given chassis speeds.
// A module with zero velocity reports angle 0.
func (k *Kinematics) Decompose(speeds ChassisSpeeds) [NumModules]ModuleState {
	var states [NumModules]ModuleState
	for i, p := range k.positions {
		vx := speeds.Vx - speeds.Omega*p.Y
		vy := speeds.Vy + speeds.Omega*p.X
		states[i] = ModuleState{
			Speed: math.Hypot(vx, vy),
			Angle: s1.Angle(math.Atan2(vy, vx)),
		}
	}
	return states
}

// NormalizeToBound scales every module speed by the same factor so that none exceeds
// maxSpeed. Directions and speed ratios are preserved; states already within the bound are
// returned unchanged.
func (k *Kinematics) NormalizeToBound(states [NumModules]ModuleState, maxSpeed float64) [NumModules]ModuleState {
	maxObserved := 0.0
	for _, s := range states {
		maxObserved = math.Max(maxObserved, math.Abs(s.Speed))
	}
	if maxObserved == 0 || maxObserved <= maxSpeed {
		return states
	}
	scale := maxSpeed / maxObserved
	for i := range states {
		states[i].Speed *= scale
	}
	return states
}

// Recompose returns the chassis speeds that best explain the measured module states.
func (k *Kinematics) Recompose(states [NumModules]ModuleState) ChassisSpeeds {
	var v [2 * NumModules]float64
	for i, s := range states {
		vec := s.Vector()
		v[2*i] = vec.X
		v[2*i+1] = vec.Y
	}
	out := k.solve(&v)
	return ChassisSpeeds{Vx: out[0], Vy: out[1], Omega: out[2]}
}

// RecomposeTwist returns the body frame displacement that best explains one cycle of wheel
// travel.
func (k *Kinematics) RecomposeTwist(deltas [NumModules]ModuleDelta) geometry.Twist {
	var v [2 * NumModules]float64
	for i, d := range deltas {
		sin, cos := math.Sincos(d.Angle.Radians())
		v[2*i] = d.Distance * cos
		v[2*i+1] = d.Distance * sin
	}
	out := k.solve(&v)
	return geometry.Twist{Dx: out[0], Dy: out[1], Dtheta: s1.Angle(out[2])}
}

func (k *Kinematics) solve(v *[2 * NumModules]float64) [3]float64 {
	var out [3]float64
	for r := range out {
		for c, x := range v {
			out[r] += k.inverse[r][c] * x
		}
	}
	return out
}

// Optimize returns a state equivalent to desired that never turns the module more than 90
// degrees from current, reversing the wheel instead.
func Optimize(desired ModuleState, current s1.Angle) ModuleState {
	delta := (desired.Angle - current).Normalized()
	if math.Abs(delta.Radians()) > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: (desired.Angle + s1.Angle(math.Pi)).Normalized(),
		}
	}
	return desired
}
