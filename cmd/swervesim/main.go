// Package main runs the drivetrain against the simulated actuator on the host.
package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"swerve/command"
	"swerve/config"
	"swerve/drive"
	"swerve/robot"
	"swerve/swerve"
	"swerve/sysid"
)

// Arguments are the command line flags of swervesim.
type Arguments struct {
	ConfigFile string `flag:"config,usage=YAML drivetrain config file"`
	Drive      string `flag:"drive,usage=constant field-centric speeds as vx:vy:omega"`
	SysID      string `flag:"sysid,usage=characterization run as axis:routine:direction"`
	Auto       string `flag:"auto,usage=autonomous routine to run from the deploy directory"`
	Duration   string `flag:"duration,usage=how long to run before stopping such as 5s"`
}

const defaultRunTime = 5 * time.Second

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swervesim"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := &config.Config{}
	if argsParsed.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(argsParsed.ConfigFile); err != nil {
			return err
		}
	}
	cfg.Simulate = true
	if _, err := cfg.Validate("swervesim"); err != nil {
		return err
	}

	clk := clock.New()
	r, err := robot.New(cfg, clk, logger)
	if err != nil {
		return err
	}
	r.Start()
	defer func() {
		if err := r.Close(context.Background()); err != nil {
			logger.Errorw("closing drivetrain", "error", err)
		}
	}()

	cmd, err := chooseCommand(r, argsParsed, clk, logger)
	if err != nil {
		return err
	}
	if cmd != nil {
		if err := r.Schedule(ctx, cmd); err != nil {
			return err
		}
		logger.Infow("running", "command", cmd.Name())
	}

	runTime := defaultRunTime
	if argsParsed.Duration != "" {
		if runTime, err = time.ParseDuration(argsParsed.Duration); err != nil {
			return errors.Wrap(err, "parsing -duration")
		}
	}
	goutils.SelectContextOrWait(ctx, runTime)

	snap := r.Ctrl.Snapshot()
	logger.Infow("finished",
		"x", snap.Pose.X(),
		"y", snap.Pose.Y(),
		"heading_deg", snap.Pose.Heading.Degrees(),
		"mode", snap.Mode.String(),
		"cycles", r.Sched.Cycles(),
	)
	return nil
}

// chooseCommand picks at most one of the drive, sysid and auto flags.
func chooseCommand(r *robot.Robot, args Arguments, clk clock.Clock, logger logging.Logger) (command.Command, error) {
	set := 0
	for _, s := range []string{args.Drive, args.SysID, args.Auto} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("choose one of -drive, -sysid and -auto")
	}

	switch {
	case args.Drive != "":
		speeds, err := parseSpeeds(args.Drive)
		if err != nil {
			return nil, err
		}
		return r.Ctrl.FieldCentricCommand(func() swerve.ChassisSpeeds { return speeds }), nil
	case args.SysID != "":
		return parseSysID(r, args.SysID, clk, logger)
	case args.Auto != "":
		return r.Bridge.AutoCommand(args.Auto), nil
	default:
		return nil, nil
	}
}

func parseSpeeds(s string) (swerve.ChassisSpeeds, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return swerve.ChassisSpeeds{}, errors.Errorf("drive wants vx:vy:omega, got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return swerve.ChassisSpeeds{}, errors.Wrapf(err, "drive component %d", i)
		}
		vals[i] = v
	}
	return swerve.ChassisSpeeds{Vx: vals[0], Vy: vals[1], Omega: vals[2]}, nil
}

func parseSysID(r *robot.Robot, s string, clk clock.Clock, logger logging.Logger) (command.Command, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, errors.Errorf("sysid wants axis:routine:direction, got %q", s)
	}
	axis, err := drive.ParseAxis(parts[0])
	if err != nil {
		return nil, err
	}
	routine, err := sysid.ParseRoutine(parts[1])
	if err != nil {
		return nil, err
	}
	direction, err := sysid.ParseDirection(parts[2])
	if err != nil {
		return nil, err
	}
	return sysid.NewCommand(r.Ctrl, r.Config.SysIDConfig(), axis, routine, direction, clk, logger), nil
}
