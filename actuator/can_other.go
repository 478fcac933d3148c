//go:build !linux

package actuator

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/swerve"
)

// CAN is only available on linux.
type CAN struct {
	Drivetrain
}

// NewCAN always fails off linux, where SocketCAN does not exist.
func NewCAN(
	cfg CANConfig,
	modules [swerve.NumModules]swerve.ModuleConfig,
	clk clock.Clock,
	logger logging.Logger,
) (*CAN, error) {
	return nil, errors.New("the CAN drivetrain requires linux SocketCAN")
}
