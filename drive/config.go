package drive

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Config holds the controller's tuning. Speeds are m/s, rates m/s², angular values rad/s.
type Config struct {
	Period             time.Duration
	MaxModuleSpeed     float64
	MaxAngularVelocity float64

	// ForwardRate bounds how fast a limited velocity may increase, ReverseRate (negative) how
	// fast it may decrease.
	ForwardRate float64
	ReverseRate float64

	HeadingKP float64
	HeadingKI float64
	HeadingKD float64

	// FaultThreshold is the number of consecutive cycles a module may miss feedback before it
	// is flagged.
	FaultThreshold int
}

// DefaultConfig returns the tuning used on the competition robot.
func DefaultConfig() Config {
	return Config{
		Period:             20 * time.Millisecond,
		MaxModuleSpeed:     4.5,
		MaxAngularVelocity: 10,
		ForwardRate:        5,
		ReverseRate:        -10,
		HeadingKP:          5,
		FaultThreshold:     5,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs error
	if c.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("period must be positive, got %v", c.Period))
	}
	if !(c.MaxModuleSpeed > 0) {
		errs = multierr.Append(errs, errors.Errorf("max module speed must be positive, got %v", c.MaxModuleSpeed))
	}
	if !(c.MaxAngularVelocity > 0) {
		errs = multierr.Append(errs, errors.Errorf("max angular velocity must be positive, got %v", c.MaxAngularVelocity))
	}
	if !(c.ForwardRate > 0) {
		errs = multierr.Append(errs, errors.Errorf("forward rate must be positive, got %v", c.ForwardRate))
	}
	if !(c.ReverseRate < 0) {
		errs = multierr.Append(errs, errors.Errorf("reverse rate must be negative, got %v", c.ReverseRate))
	}
	if c.FaultThreshold < 1 {
		errs = multierr.Append(errs, errors.Errorf("fault threshold must be at least 1, got %d", c.FaultThreshold))
	}
	return errs
}
