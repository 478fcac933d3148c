package swerve

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/test"
)

var squareChassis = [NumModules]r2.Point{
	{X: 0.3, Y: 0.3},
	{X: 0.3, Y: -0.3},
	{X: -0.3, Y: 0.3},
	{X: -0.3, Y: -0.3},
}

func newSquareKinematics(t *testing.T) *Kinematics {
	t.Helper()
	k, err := NewKinematics(squareChassis, 4.5)
	test.That(t, err, test.ShouldBeNil)
	return k
}

func TestDecomposeStraight(t *testing.T) {
	k := newSquareKinematics(t)
	states := k.Decompose(ChassisSpeeds{Vx: 1})
	for _, s := range states {
		test.That(t, s.Speed, test.ShouldAlmostEqual, 1, 1e-12)
		test.That(t, s.Angle.Radians(), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

func TestDecomposeRotation(t *testing.T) {
	k := newSquareKinematics(t)
	states := k.Decompose(ChassisSpeeds{Omega: 1})
	radius := math.Hypot(0.3, 0.3)
	for i, s := range states {
		test.That(t, s.Speed, test.ShouldAlmostEqual, radius, 1e-12)
		// wheel is tangent to its position vector
		tangent := s1.Angle(math.Atan2(squareChassis[i].X, -squareChassis[i].Y))
		test.That(t, (s.Angle - tangent).Normalized().Radians(), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

func TestDecomposeZero(t *testing.T) {
	k := newSquareKinematics(t)
	for _, s := range k.Decompose(ChassisSpeeds{}) {
		test.That(t, s.Speed, test.ShouldEqual, 0)
		test.That(t, s.Angle, test.ShouldEqual, s1.Angle(0))
	}
}

func TestRoundTrip(t *testing.T) {
	k := newSquareKinematics(t)
	for _, speeds := range []ChassisSpeeds{
		{Vx: 1},
		{Vy: -2},
		{Omega: 3},
		{Vx: 0.5, Vy: 1.2, Omega: -1.7},
		{Vx: -2.1, Vy: 0.4, Omega: 2.5},
	} {
		got := k.Recompose(k.Decompose(speeds))
		test.That(t, got.Vx, test.ShouldAlmostEqual, speeds.Vx, 1e-9)
		test.That(t, got.Vy, test.ShouldAlmostEqual, speeds.Vy, 1e-9)
		test.That(t, got.Omega, test.ShouldAlmostEqual, speeds.Omega, 1e-9)
	}
}

func TestRoundTripAsymmetricChassis(t *testing.T) {
	k, err := NewKinematics([NumModules]r2.Point{
		{X: 0.35, Y: 0.25},
		{X: 0.35, Y: -0.25},
		{X: -0.2, Y: 0.25},
		{X: -0.2, Y: -0.25},
	}, 4.5)
	test.That(t, err, test.ShouldBeNil)

	speeds := ChassisSpeeds{Vx: 0.8, Vy: -0.6, Omega: 1.1}
	got := k.Recompose(k.Decompose(speeds))
	test.That(t, got.Vx, test.ShouldAlmostEqual, speeds.Vx, 1e-9)
	test.That(t, got.Vy, test.ShouldAlmostEqual, speeds.Vy, 1e-9)
	test.That(t, got.Omega, test.ShouldAlmostEqual, speeds.Omega, 1e-9)
}

func TestRecomposeTwist(t *testing.T) {
	k := newSquareKinematics(t)
	var deltas [NumModules]ModuleDelta
	for i, s := range k.Decompose(ChassisSpeeds{Vx: 1, Omega: 0.5}) {
		deltas[i] = ModuleDelta{Distance: s.Speed * 0.02, Angle: s.Angle}
	}
	twist := k.RecomposeTwist(deltas)
	test.That(t, twist.Dx, test.ShouldAlmostEqual, 0.02, 1e-12)
	test.That(t, twist.Dy, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, twist.Dtheta.Radians(), test.ShouldAlmostEqual, 0.01, 1e-12)
}

func TestNormalizeToBound(t *testing.T) {
	k := newSquareKinematics(t)

	t.Run("scales proportionally", func(t *testing.T) {
		states := k.Decompose(ChassisSpeeds{Vx: 4, Vy: 1, Omega: 6})
		scaled := k.NormalizeToBound(states, 4.5)

		maxSpeed := 0.0
		for i := range scaled {
			maxSpeed = math.Max(maxSpeed, scaled[i].Speed)
			test.That(t, scaled[i].Angle, test.ShouldEqual, states[i].Angle)
		}
		test.That(t, maxSpeed, test.ShouldAlmostEqual, 4.5, 1e-9)

		for i := range scaled {
			for j := range scaled {
				if states[j].Speed == 0 {
					continue
				}
				test.That(t, scaled[i].Speed/scaled[j].Speed, test.ShouldAlmostEqual, states[i].Speed/states[j].Speed, 1e-9)
			}
		}
	})

	t.Run("within bound is unchanged", func(t *testing.T) {
		states := k.Decompose(ChassisSpeeds{Vx: 1, Omega: 1})
		test.That(t, k.NormalizeToBound(states, 4.5), test.ShouldResemble, states)
	})

	t.Run("all zero", func(t *testing.T) {
		var states [NumModules]ModuleState
		scaled := k.NormalizeToBound(states, 4.5)
		for _, s := range scaled {
			test.That(t, math.IsNaN(s.Speed), test.ShouldBeFalse)
			test.That(t, s.Speed, test.ShouldEqual, 0)
		}
	})
}

func TestNewKinematicsErrors(t *testing.T) {
	_, err := NewKinematics(squareChassis, 0)
	test.That(t, err, test.ShouldNotBeNil)

	var same [NumModules]r2.Point
	for i := range same {
		same[i] = r2.Point{X: 0.3, Y: 0.3}
	}
	_, err = NewKinematics(same, 4.5)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOptimize(t *testing.T) {
	t.Run("small turn is kept", func(t *testing.T) {
		got := Optimize(ModuleState{Speed: 2, Angle: 30 * s1.Degree}, 0)
		test.That(t, got.Speed, test.ShouldEqual, 2)
		test.That(t, got.Angle.Degrees(), test.ShouldAlmostEqual, 30, 1e-9)
	})

	t.Run("large turn reverses the wheel", func(t *testing.T) {
		got := Optimize(ModuleState{Speed: 2, Angle: 170 * s1.Degree}, 0)
		test.That(t, got.Speed, test.ShouldEqual, -2)
		test.That(t, got.Angle.Degrees(), test.ShouldAlmostEqual, -10, 1e-9)
	})

	t.Run("across the wrap", func(t *testing.T) {
		got := Optimize(ModuleState{Speed: 1, Angle: -170 * s1.Degree}, 170*s1.Degree)
		test.That(t, got.Speed, test.ShouldEqual, 1)
		test.That(t, got.Angle.Degrees(), test.ShouldAlmostEqual, -170, 1e-9)
	})

	t.Run("same velocity vector", func(t *testing.T) {
		desired := ModuleState{Speed: 1.5, Angle: -120 * s1.Degree}
		got := Optimize(desired, 45*s1.Degree)
		want := desired.Vector()
		have := got.Vector()
		test.That(t, have.X, test.ShouldAlmostEqual, want.X, 1e-12)
		test.That(t, have.Y, test.ShouldAlmostEqual, want.Y, 1e-12)
	})
}
