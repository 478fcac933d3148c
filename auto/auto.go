// Package auto connects the drive controller to an autonomous path-following library.
package auto

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/command"
	"swerve/field"
	"swerve/geometry"
	"swerve/swerve"
)

// ErrAutoNotFound is returned by a Library asked for a routine it does not have.
var ErrAutoNotFound = errors.New("autonomous routine not found")

// ErrNotConfigured is returned when a routine is requested before Configure.
var ErrNotConfigured = errors.New("autonomous library is not configured")

// Hooks are the callbacks a path follower uses to observe and drive the robot.
type Hooks struct {
	Pose              func() geometry.Pose2d
	ResetPose         func(geometry.Pose2d)
	ChassisSpeeds     func() swerve.ChassisSpeeds
	DriveRobotCentric func(ctx context.Context, speeds swerve.ChassisSpeeds)
	// ShouldFlip reports whether paths authored for the blue side must be mirrored.
	ShouldFlip func() bool
}

// Library builds named autonomous routines once configured with the robot's hooks.
type Library interface {
	Configure(hooks Hooks) error
	BuildAuto(name string) (command.Command, error)
}

// Drive is the part of the drive controller the bridge needs.
type Drive interface {
	Pose() geometry.Pose2d
	ResetPose(pose geometry.Pose2d)
	ChassisSpeeds() swerve.ChassisSpeeds
	DriveRobotCentric(ctx context.Context, speeds swerve.ChassisSpeeds)
	BrakeCommand() command.Command
}

// Mechanism actions referenced by autonomous routines. This robot has no such mechanisms, so
// each one only logs.
var placeholderCommands = []string{
	"pickUpNote",
	"intakeOut",
	"stopIntake",
	"armLow",
	"armHigh",
	"shoot",
	"shooterIn",
	"shooterLow",
	"shooterHigh",
	"elevatorHigh",
	"elevatorMid",
	"elevatorLow",
}

// Bridge owns the configured library and the named commands routines may reference.
type Bridge struct {
	registry *command.Registry
	logger   logging.Logger
	lib      Library
}

// NewBridge returns an unconfigured bridge registering named commands into registry.
func NewBridge(registry *command.Registry, logger logging.Logger) *Bridge {
	return &Bridge{registry: registry, logger: logger}
}

// Configure hands the controller's hooks to lib and registers the named commands.
func (b *Bridge) Configure(lib Library, drive Drive, alliance field.AllianceSource) error {
	if lib == nil {
		return errors.New("autonomous library must not be nil")
	}
	if err := b.registry.Register("brake", drive.BrakeCommand); err != nil {
		return err
	}
	for _, name := range placeholderCommands {
		msg := name
		if err := b.registry.Register(name, func() command.Command {
			return command.Print(b.logger, msg)
		}); err != nil {
			return err
		}
	}

	hooks := Hooks{
		Pose:              drive.Pose,
		ResetPose:         drive.ResetPose,
		ChassisSpeeds:     drive.ChassisSpeeds,
		DriveRobotCentric: drive.DriveRobotCentric,
		ShouldFlip: func() bool {
			return field.ShouldFlip(alliance)
		},
	}
	if err := lib.Configure(hooks); err != nil {
		return errors.Wrap(err, "configuring autonomous library")
	}
	b.lib = lib
	return nil
}

// AutoCommand returns the routine called name. Any failure is reported to the operator and
// yields a command that does nothing, so a bad selection never stops the robot from running.
func (b *Bridge) AutoCommand(name string) command.Command {
	cmd, err := b.build(name)
	if err != nil {
		b.logger.Errorw("failed to build autonomous routine", "name", name, "error", err)
		return command.None()
	}
	return cmd
}

func (b *Bridge) build(name string) (command.Command, error) {
	if b.lib == nil {
		return nil, ErrNotConfigured
	}
	cmd, err := b.lib.BuildAuto(name)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, errors.Wrapf(ErrAutoNotFound, "%q", name)
	}
	return cmd, nil
}

const autoExt = ".auto"

// ListAutos returns the names of the routines under <deployDir>/pathplanner, sorted. Any I/O
// failure yields an empty list.
func ListAutos(deployDir string) []string {
	names := []string{}
	root := filepath.Join(deployDir, "pathplanner")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != autoExt {
			return nil
		}
		names = append(names, strings.TrimSuffix(d.Name(), autoExt))
		return nil
	})
	if err != nil {
		return []string{}
	}
	sort.Strings(names)
	return names
}
