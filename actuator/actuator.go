// Package actuator is the boundary between the drive controller and the motors. Each request
// variant the controller can issue has its own method on Drivetrain.
package actuator

import (
	"context"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/swerve"
)

// ErrClosed is returned by a drivetrain after Close.
var ErrClosed = errors.New("drivetrain is closed")

// VelocityRequest is a closed-loop velocity command. Speeds is the body frame velocity the
// module states were derived from; Modules are already normalized and optimized, with angles
// in the robot frame.
type VelocityRequest struct {
	Speeds  swerve.ChassisSpeeds
	Modules [swerve.NumModules]swerve.ModuleState
}

// VoltageRequest is an open-loop command used for characterization. Drive motors receive
// Volts while steering holds Angles (robot frame).
type VoltageRequest struct {
	Volts  [swerve.NumModules]float64
	Angles [swerve.NumModules]s1.Angle
}

// ModuleFeedback is what one module reported this cycle.
type ModuleFeedback struct {
	// Valid is false when the module did not respond this cycle. The other fields are then
	// meaningless.
	Valid bool

	// Speed is the measured wheel surface speed in m/s.
	Speed float64
	// RawAngle is the steering encoder reading, before the module's angle offset is removed.
	RawAngle s1.Angle
	// Distance is the total signed wheel travel in meters since startup.
	Distance float64
}

// Feedback is one cycle of drivetrain measurements.
type Feedback struct {
	Modules  [swerve.NumModules]ModuleFeedback
	Yaw      s1.Angle
	YawValid bool
}

// Drivetrain executes module level requests and reports measured module state. Requests are
// latched: the most recent one keeps being applied until replaced.
type Drivetrain interface {
	// SetRobotVelocity drives with a body frame velocity.
	SetRobotVelocity(ctx context.Context, req VelocityRequest) error
	// SetFieldVelocity drives with a velocity that was requested in the field frame and
	// rotated into the body frame using heading.
	SetFieldVelocity(ctx context.Context, req VelocityRequest, heading s1.Angle) error
	// SetVoltage applies open-loop drive voltages.
	SetVoltage(ctx context.Context, req VoltageRequest) error
	// Brake stops the drive motors and steers the modules to angles.
	Brake(ctx context.Context, angles [swerve.NumModules]s1.Angle) error
	// Feedback returns the latest measurements. A module that failed to report is marked
	// invalid rather than failing the whole call.
	Feedback(ctx context.Context) (Feedback, error)
	Close(ctx context.Context) error
}

// RequestKind identifies the latest request a drivetrain received.
type RequestKind int

const (
	RequestNone RequestKind = iota
	RequestRobotVelocity
	RequestFieldVelocity
	RequestVoltage
	RequestBrake
)

func (k RequestKind) String() string {
	switch k {
	case RequestRobotVelocity:
		return "robot_velocity"
	case RequestFieldVelocity:
		return "field_velocity"
	case RequestVoltage:
		return "voltage"
	case RequestBrake:
		return "brake"
	default:
		return "none"
	}
}
