// Package swerve describes the four swerve modules of the drivetrain and the kinematics that
// relate chassis motion to module motion.
package swerve

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// NumModules is the number of swerve modules on the chassis.
const NumModules = 4

// Module indices, in the order every [NumModules] array in this repository uses.
const (
	FrontLeft = iota
	FrontRight
	BackLeft
	BackRight
)

// minModuleSeparation is the smallest distance in meters two contact patches may be apart.
const minModuleSeparation = 0.01

// ErrInvalidModules is returned when the module table cannot describe a real chassis.
var ErrInvalidModules = errors.New("invalid swerve module configuration")

var moduleNames = [NumModules]string{"front_left", "front_right", "back_left", "back_right"}

// ModuleConfig describes one swerve module. It is built once at startup and never modified.
type ModuleConfig struct {
	Name string

	// Vendor addresses of the drive motor, steering motor and absolute steering encoder.
	DriveMotorID int
	SteerMotorID int
	EncoderID    int

	// AngleOffset is the raw encoder reading when the wheel points straight forward.
	AngleOffset s1.Angle

	// Position of the contact patch relative to the chassis center, x forward and y left, meters.
	Position r2.Point
}

// CorrectAngle converts a raw encoder angle into the robot frame.
func (m ModuleConfig) CorrectAngle(raw s1.Angle) s1.Angle {
	return (raw - m.AngleOffset).Normalized()
}

// RawAngle converts a robot frame angle into the encoder's own frame.
func (m ModuleConfig) RawAngle(angle s1.Angle) s1.Angle {
	return (angle + m.AngleOffset).Normalized()
}

func (m ModuleConfig) label(i int) string {
	if m.Name != "" {
		return m.Name
	}
	return moduleNames[i]
}

// ModuleName returns the conventional name of the module at index i.
func ModuleName(i int) string {
	if i < 0 || i >= NumModules {
		return fmt.Sprintf("module_%d", i)
	}
	return moduleNames[i]
}

// Positions returns the contact patch positions of modules in index order.
func Positions(modules [NumModules]ModuleConfig) [NumModules]r2.Point {
	var positions [NumModules]r2.Point
	for i, m := range modules {
		positions[i] = m.Position
	}
	return positions
}

// ValidateModules checks that no two modules share a vendor address and that the positions
// describe a physical chassis. All problems are reported together.
func ValidateModules(modules [NumModules]ModuleConfig) error {
	var errs error
	motors := map[int]string{}
	encoders := map[int]string{}

	for i, m := range modules {
		name := m.label(i)
		for _, id := range []int{m.DriveMotorID, m.SteerMotorID} {
			if owner, ok := motors[id]; ok {
				errs = multierr.Append(errs, errors.Errorf("module %s reuses motor id %d already assigned to %s", name, id, owner))
				continue
			}
			motors[id] = name
		}
		if owner, ok := encoders[m.EncoderID]; ok {
			errs = multierr.Append(errs, errors.Errorf("module %s reuses encoder id %d already assigned to %s", name, m.EncoderID, owner))
		} else {
			encoders[m.EncoderID] = name
		}

		if m.Position.Norm() < minModuleSeparation {
			errs = multierr.Append(errs, errors.Errorf("module %s sits at the chassis center", name))
		}
		for j := 0; j < i; j++ {
			if modules[j].Position.Sub(m.Position).Norm() < minModuleSeparation {
				errs = multierr.Append(errs, errors.Errorf("modules %s and %s share a position", modules[j].label(j), name))
			}
		}
	}

	if errs != nil {
		return errors.Wrapf(ErrInvalidModules, "%v", errs)
	}
	return nil
}
