package actuator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/test"

	"swerve/swerve"
)

func newTestSim(t *testing.T) (*Sim, *swerve.Kinematics) {
	t.Helper()
	var modules [swerve.NumModules]swerve.ModuleConfig
	positions := [swerve.NumModules]r2.Point{{X: 0.3, Y: 0.3}, {X: 0.3, Y: -0.3}, {X: -0.3, Y: 0.3}, {X: -0.3, Y: -0.3}}
	for i := range modules {
		modules[i] = swerve.ModuleConfig{
			DriveMotorID: 2 * i,
			SteerMotorID: 2*i + 1,
			EncoderID:    i,
			AngleOffset:  s1.Angle(i) * 10 * s1.Degree,
			Position:     positions[i],
		}
	}
	k, err := swerve.NewKinematics(positions, 4.5)
	test.That(t, err, test.ShouldBeNil)
	return NewSim(modules, k), k
}

func TestSimVelocity(t *testing.T) {
	ctx := context.Background()
	sim, k := newTestSim(t)

	req := VelocityRequest{Speeds: swerve.ChassisSpeeds{Vx: 1}, Modules: k.Decompose(swerve.ChassisSpeeds{Vx: 1})}
	test.That(t, sim.SetRobotVelocity(ctx, req), test.ShouldBeNil)
	kind, _ := sim.LastRequest()
	test.That(t, kind, test.ShouldEqual, RequestRobotVelocity)

	sim.Advance(500 * time.Millisecond)
	fb, err := sim.Feedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.YawValid, test.ShouldBeTrue)
	for i, m := range fb.Modules {
		test.That(t, m.Valid, test.ShouldBeTrue)
		test.That(t, m.Speed, test.ShouldAlmostEqual, 1, 1e-12)
		test.That(t, m.Distance, test.ShouldAlmostEqual, 0.5, 1e-12)
		test.That(t, m.RawAngle.Degrees(), test.ShouldAlmostEqual, float64(i)*10, 1e-9)
	}
}

func TestSimRotationIntegratesYaw(t *testing.T) {
	ctx := context.Background()
	sim, k := newTestSim(t)

	speeds := swerve.ChassisSpeeds{Omega: math.Pi / 2}
	err := sim.SetFieldVelocity(ctx, VelocityRequest{Speeds: speeds, Modules: k.Decompose(speeds)}, 30*s1.Degree)
	test.That(t, err, test.ShouldBeNil)
	kind, heading := sim.LastRequest()
	test.That(t, kind, test.ShouldEqual, RequestFieldVelocity)
	test.That(t, heading.Degrees(), test.ShouldAlmostEqual, 30, 1e-9)

	for i := 0; i < 50; i++ {
		sim.Advance(20 * time.Millisecond)
	}
	fb, err := sim.Feedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Yaw.Degrees(), test.ShouldAlmostEqual, 90, 1e-6)
}

func TestSimVoltageAndBrake(t *testing.T) {
	ctx := context.Background()
	sim, _ := newTestSim(t)

	err := sim.SetVoltage(ctx, VoltageRequest{Volts: [swerve.NumModules]float64{6, 6, -6, 12}})
	test.That(t, err, test.ShouldBeNil)
	states := sim.Commanded()
	test.That(t, states[0].Speed, test.ShouldAlmostEqual, 2.25, 1e-12)
	test.That(t, states[2].Speed, test.ShouldAlmostEqual, -2.25, 1e-12)
	test.That(t, states[3].Speed, test.ShouldAlmostEqual, 4.5, 1e-12)

	angles := [swerve.NumModules]s1.Angle{45 * s1.Degree, -45 * s1.Degree, 135 * s1.Degree, -135 * s1.Degree}
	test.That(t, sim.Brake(ctx, angles), test.ShouldBeNil)
	for i, st := range sim.Commanded() {
		test.That(t, st.Speed, test.ShouldEqual, 0)
		test.That(t, st.Angle, test.ShouldEqual, angles[i])
	}
	kind, _ := sim.LastRequest()
	test.That(t, kind, test.ShouldEqual, RequestBrake)
	test.That(t, kind.String(), test.ShouldEqual, "brake")
}

func TestSimDropFeedback(t *testing.T) {
	ctx := context.Background()
	sim, _ := newTestSim(t)

	test.That(t, sim.DropFeedback(swerve.BackLeft, 2), test.ShouldBeNil)
	test.That(t, sim.DropFeedback(7, 2), test.ShouldNotBeNil)

	for cycle := 0; cycle < 2; cycle++ {
		fb, err := sim.Feedback(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fb.Modules[swerve.BackLeft].Valid, test.ShouldBeFalse)
		test.That(t, fb.Modules[swerve.FrontLeft].Valid, test.ShouldBeTrue)
	}
	fb, err := sim.Feedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Modules[swerve.BackLeft].Valid, test.ShouldBeTrue)
}

func TestSimClose(t *testing.T) {
	ctx := context.Background()
	sim, _ := newTestSim(t)
	test.That(t, sim.Close(ctx), test.ShouldBeNil)
	test.That(t, sim.Brake(ctx, [swerve.NumModules]s1.Angle{}), test.ShouldEqual, ErrClosed)
	_, err := sim.Feedback(ctx)
	test.That(t, err, test.ShouldEqual, ErrClosed)
}
