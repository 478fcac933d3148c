// Package sysid runs drivetrain characterization sweeps and logs the response for offline
// feedforward fitting.
package sysid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/command"
	"swerve/drive"
)

// maxVolts is the battery voltage sweeps are clamped to.
const maxVolts = 12.0

// Config tunes the sweeps.
type Config struct {
	// RampRate is the quasistatic ramp in volts per second.
	RampRate float64
	// StepVoltage is the dynamic step in volts.
	StepVoltage float64
	Timeout     time.Duration
	// LogDir receives one CSV per sweep. Empty disables recording.
	LogDir string
}

// DefaultConfig returns the sweep settings used on the robot.
func DefaultConfig() Config {
	return Config{
		RampRate:    1,
		StepVoltage: 7,
		Timeout:     10 * time.Second,
		LogDir:      "logs/sysid/drive",
	}
}

// Routine is the shape of the applied voltage.
type Routine int

const (
	Quasistatic Routine = iota
	Dynamic
)

func (r Routine) String() string {
	if r == Dynamic {
		return "dynamic"
	}
	return "quasistatic"
}

// ParseRoutine parses "quasistatic" or "dynamic".
func ParseRoutine(s string) (Routine, error) {
	switch strings.ToLower(s) {
	case "quasistatic":
		return Quasistatic, nil
	case "dynamic":
		return Dynamic, nil
	default:
		return Quasistatic, errors.Errorf("unknown sysid routine %q", s)
	}
}

// Direction is the sign of the applied voltage.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// ParseDirection parses "forward" or "reverse".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "forward":
		return Forward, nil
	case "reverse":
		return Reverse, nil
	default:
		return Forward, errors.Errorf("unknown sysid direction %q", s)
	}
}

// Voltage returns the voltage to apply elapsed into a sweep.
func (c Config) Voltage(r Routine, d Direction, elapsed time.Duration) float64 {
	var v float64
	if r == Dynamic {
		v = c.StepVoltage
	} else {
		v = c.RampRate * elapsed.Seconds()
	}
	v = math.Min(v, maxVolts)
	if d == Reverse {
		return -v
	}
	return v
}

// Validate checks the sweep settings.
func (c Config) Validate() error {
	if !(c.RampRate > 0) {
		return errors.Errorf("sysid ramp rate must be positive, got %v", c.RampRate)
	}
	if !(c.StepVoltage > 0) || c.StepVoltage > maxVolts {
		return errors.Errorf("sysid step voltage must be in (0, %v], got %v", maxVolts, c.StepVoltage)
	}
	if c.Timeout <= 0 {
		return errors.Errorf("sysid timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Characterizer is the part of the drive controller a sweep drives.
type Characterizer interface {
	BeginCharacterization(axis drive.Axis)
	StepCharacterization(ctx context.Context, volts float64) error
	Snapshot() drive.Snapshot
}

type sweep struct {
	name      string
	ctrl      Characterizer
	cfg       Config
	axis      drive.Axis
	routine   Routine
	direction Direction
	clk       clock.Clock
	logger    logging.Logger

	started  bool
	start    time.Time
	recorder *Recorder
}

// NewCommand returns a command that runs one sweep on axis and stops after cfg.Timeout. The
// drive motors are commanded to 0 V when it ends.
func NewCommand(
	ctrl Characterizer,
	cfg Config,
	axis drive.Axis,
	routine Routine,
	direction Direction,
	clk clock.Clock,
	logger logging.Logger,
) command.Command {
	s := &sweep{
		name:      fmt.Sprintf("sysid_%s_%s_%s", axis, routine, direction),
		ctrl:      ctrl,
		cfg:       cfg,
		axis:      axis,
		routine:   routine,
		direction: direction,
		clk:       clk,
		logger:    logger,
	}
	return command.WithTimeout(s, clk, cfg.Timeout)
}

func (s *sweep) Name() string     { return s.name }
func (s *sweep) Exclusive() bool  { return true }
func (s *sweep) IsFinished() bool { return false }

func (s *sweep) Execute(ctx context.Context) error {
	if !s.started {
		s.started = true
		s.start = s.clk.Now()
		s.ctrl.BeginCharacterization(s.axis)
		if s.cfg.LogDir != "" {
			rec, err := NewRecorder(s.cfg.LogDir, s.axis, s.routine, s.direction)
			if err != nil {
				return err
			}
			s.recorder = rec
		}
		s.logger.Infow("sysid sweep started", "axis", s.axis, "routine", s.routine, "direction", s.direction)
	}

	elapsed := s.clk.Since(s.start)
	volts := s.cfg.Voltage(s.routine, s.direction, elapsed)
	if err := s.ctrl.StepCharacterization(ctx, volts); err != nil {
		return err
	}
	if s.recorder != nil {
		return s.recorder.Record(elapsed, volts, s.ctrl.Snapshot())
	}
	return nil
}

func (s *sweep) End(ctx context.Context, interrupted bool) {
	if err := s.ctrl.StepCharacterization(ctx, 0); err != nil {
		s.logger.Debugw("could not zero sysid voltage", "error", err)
	}
	if s.recorder == nil {
		return
	}
	rows, path := s.recorder.Rows(), s.recorder.Path()
	if err := s.recorder.Close(); err != nil {
		s.logger.Errorw("failed to write sysid log", "path", path, "error", err)
		return
	}
	s.logger.Infow("sysid sweep finished", "path", path, "rows", rows, "interrupted", interrupted)
}
