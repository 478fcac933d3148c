// Package main is a viam module exposing the swerve drivetrain as a base component.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"swerve/auto"
	"swerve/command"
	"swerve/config"
	"swerve/drive"
	"swerve/field"
	"swerve/geometry"
	"swerve/robot"
	"swerve/scheduler"
	"swerve/swerve"
	"swerve/sysid"
	"swerve/telemetry"
)

var model = resource.NewModel("grits", "swerve", "base")

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	registerBase()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := swerveModule.AddModelFromRegistry(ctx, base.API, model); err != nil {
		return err
	}

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// registerBase adds the base's constructor to the component registry.
func registerBase() {
	resource.RegisterComponent(
		base.API,
		model,
		resource.Registration[base.Base, *config.Config]{Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			conf resource.Config,
			logger logging.Logger,
		) (base.Base, error) {
			native, err := resource.NativeConfig[*config.Config](conf)
			if err != nil {
				return nil, err
			}
			var geometries []spatialmath.Geometry
			if conf.Frame != nil {
				frame, err := conf.Frame.ParseConfig()
				if err != nil {
					return nil, err
				}
				geometries = append(geometries, frame.Geometry())
			}
			return newBase(conf.ResourceName(), native, geometries, clock.New(), logger)
		}})
}

type swerveBase struct {
	resource.Named

	robot      *robot.Robot
	cfg        config.Config
	ctrl       *drive.Controller
	sched      *scheduler.Scheduler
	geometries []spatialmath.Geometry
	clk        clock.Clock
	logger     logging.Logger

	isMoving atomic.Bool
}

// newBase builds the drivetrain stack for cfg and starts the control loop.
func newBase(
	name resource.Name,
	cfg *config.Config,
	geometries []spatialmath.Geometry,
	clk clock.Clock,
	logger logging.Logger,
) (*swerveBase, error) {
	r, err := robot.New(cfg, clk, logger)
	if err != nil {
		return nil, err
	}
	b := &swerveBase{
		Named:      name.AsNamed(),
		robot:      r,
		cfg:        r.Config,
		ctrl:       r.Ctrl,
		sched:      r.Sched,
		geometries: geometries,
		clk:        clk,
		logger:     logger,
	}
	r.Start()
	return b, nil
}

func (b *swerveBase) schedule(ctx context.Context, cmd command.Command) error {
	return b.robot.Schedule(ctx, cmd)
}

func constant(speeds swerve.ChassisSpeeds) drive.SpeedsSupplier {
	return func() swerve.ChassisSpeeds { return speeds }
}

func degToRad(deg float64) float64 {
	return float64(s1.Angle(deg) * s1.Degree)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// MoveStraight drives forward distanceMm at mmPerSec, then stops.
func (b *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 || mmPerSec == 0 {
		return b.Stop(ctx, extra)
	}
	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	speed := sign(float64(distanceMm)*mmPerSec) * math.Abs(mmPerSec) / 1000
	move := b.ctrl.RobotCentricCommand(constant(swerve.ChassisSpeeds{Vx: speed}))
	return b.timedMove(ctx, command.WithTimeout(move, b.clk, duration), duration)
}

// Spin turns angleDeg at degsPerSec, then stops.
func (b *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 || degsPerSec == 0 {
		return b.Stop(ctx, extra)
	}
	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	omega := sign(angleDeg*degsPerSec) * degToRad(math.Abs(degsPerSec))
	spin := b.ctrl.RobotCentricCommand(constant(swerve.ChassisSpeeds{Omega: omega}))
	return b.timedMove(ctx, command.WithTimeout(spin, b.clk, duration), duration)
}

func (b *swerveBase) timedMove(ctx context.Context, cmd command.Command, duration time.Duration) error {
	if err := b.schedule(ctx, cmd); err != nil {
		return err
	}
	b.isMoving.Store(true)
	defer func() {
		b.isMoving.Store(false)
	}()

	timer := b.clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return multierr.Combine(ctx.Err(), b.schedule(context.Background(), b.ctrl.StopCommand()))
	case <-timer.C:
	}
	return nil
}

// SetPower drives robot centric at a fraction of the maximum speeds. Viam's +Y is forward and
// +X is right.
func (b *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	if linear.Z != 0 || angular.X != 0 || angular.Y != 0 {
		b.logger.Debugw("SetPower components outside the ground plane have no effect",
			"linear.Z", linear.Z, "angular.X", angular.X, "angular.Y", angular.Y)
	}
	speeds := swerve.ChassisSpeeds{
		Vx:    clampUnit(linear.Y) * b.cfg.MaxModuleSpeed,
		Vy:    -clampUnit(linear.X) * b.cfg.MaxModuleSpeed,
		Omega: clampUnit(angular.Z) * b.cfg.MaxAngularVelocity,
	}
	return b.driveRobotCentric(ctx, speeds)
}

// SetVelocity drives robot centric with linear in mm/s and angular in deg/s.
func (b *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	speeds := swerve.ChassisSpeeds{
		Vx:    linear.Y / 1000,
		Vy:    -linear.X / 1000,
		Omega: degToRad(angular.Z),
	}
	return b.driveRobotCentric(ctx, speeds)
}

func (b *swerveBase) driveRobotCentric(ctx context.Context, speeds swerve.ChassisSpeeds) error {
	if err := b.schedule(ctx, b.ctrl.RobotCentricCommand(constant(speeds))); err != nil {
		return err
	}
	b.isMoving.Store(speeds != swerve.ChassisSpeeds{})
	return nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// Stop drives at zero velocity. The slew limiters bring the chassis down smoothly.
func (b *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.isMoving.Store(false)
	return b.schedule(ctx, b.ctrl.StopCommand())
}

type driveArgs struct {
	Vx    float64 `mapstructure:"vx"`
	Vy    float64 `mapstructure:"vy"`
	Omega float64 `mapstructure:"omega"`
}

type poseArgs struct {
	X          float64 `mapstructure:"x"`
	Y          float64 `mapstructure:"y"`
	HeadingDeg float64 `mapstructure:"heading_deg"`
}

type headingTargetArgs struct {
	Target     string   `mapstructure:"target"`
	X          *float64 `mapstructure:"x"`
	Y          *float64 `mapstructure:"y"`
	HeadingDeg *float64 `mapstructure:"heading_deg"`
}

type sysidArgs struct {
	Axis      string `mapstructure:"axis"`
	Routine   string `mapstructure:"routine"`
	Direction string `mapstructure:"direction"`
}

type autoArgs struct {
	Name string `mapstructure:"name"`
}

func decodeArgs(cmd map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(decoder.Decode(cmd), "invalid arguments")
}

func processed(name string) map[string]interface{} {
	return map[string]interface{}{"return": fmt.Sprintf("%s command processed", name)}
}

// DoCommand executes the drivetrain's discrete commands. Every command is handed to the
// control loop and takes effect at the start of the next cycle.
func (b *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	nameRaw, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	name, ok := nameRaw.(string)
	if !ok {
		return nil, errors.Errorf("command must be a string but is type %T", nameRaw)
	}

	switch name {
	case drive.CommandIncreaseSpeedLimit, drive.CommandDecreaseSpeedLimit, drive.CommandBrake,
		drive.CommandResetGyro, drive.CommandToggleHeadingHold, drive.CommandToggleSysIDMode:
		c, err := b.robot.Registry.Get(name)
		if err != nil {
			return nil, err
		}
		if err := b.schedule(ctx, c); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "reset_pose":
		var args poseArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, err
		}
		pose := geometry.NewPose2d(args.X, args.Y, s1.Angle(args.HeadingDeg)*s1.Degree)
		if err := b.schedule(ctx, b.ctrl.ResetPoseCommand(pose)); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "drive_field_centric":
		var args driveArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, err
		}
		speeds := swerve.ChassisSpeeds{Vx: args.Vx, Vy: args.Vy, Omega: args.Omega}
		if err := b.schedule(ctx, b.ctrl.FieldCentricCommand(constant(speeds))); err != nil {
			return nil, err
		}
		b.isMoving.Store(speeds != swerve.ChassisSpeeds{})
		return processed(name), nil

	case "set_heading_target":
		target, err := b.headingTarget(cmd)
		if err != nil {
			return nil, err
		}
		if err := b.schedule(ctx, b.ctrl.SetHeadingTargetCommand(target)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": fmt.Sprintf("heading target set to %s", target)}, nil

	case "sysid":
		sweep, err := b.sysidCommand(cmd)
		if err != nil {
			return nil, err
		}
		if err := b.schedule(ctx, sweep); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": fmt.Sprintf("%s started", sweep.Name())}, nil

	case "run_auto":
		var args autoArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, err
		}
		if args.Name == "" {
			return nil, errors.New("name must be set to an autonomous routine")
		}
		routine := b.robot.Bridge.AutoCommand(args.Name)
		if err := b.schedule(ctx, routine); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": fmt.Sprintf("running %s", routine.Name())}, nil

	case "list_autos":
		return map[string]interface{}{"autos": auto.ListAutos(b.cfg.DeployDir)}, nil

	case "get_telemetry":
		return b.telemetrySnapshot()

	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

func (b *swerveBase) headingTarget(cmd map[string]interface{}) (drive.HeadingTarget, error) {
	var args headingTargetArgs
	if err := decodeArgs(cmd, &args); err != nil {
		return drive.HeadingTarget{}, err
	}
	switch {
	case args.Target == "speaker":
		a, ok := b.robot.Alliance.Alliance()
		if !ok {
			a = field.Blue
		}
		return drive.TargetPoint(b.cfg.Field().SpeakerFor(a)), nil
	case args.Target != "":
		return drive.HeadingTarget{}, errors.Errorf("unknown heading target %q", args.Target)
	case args.X != nil && args.Y != nil:
		return drive.TargetPoint(r2.Point{X: *args.X, Y: *args.Y}), nil
	case args.HeadingDeg != nil:
		return drive.TargetHeading(s1.Angle(*args.HeadingDeg) * s1.Degree), nil
	default:
		return drive.HeadingTarget{}, errors.New("set target to speaker, or give x and y, or heading_deg")
	}
}

func (b *swerveBase) sysidCommand(cmd map[string]interface{}) (command.Command, error) {
	args := sysidArgs{Routine: sysid.Quasistatic.String(), Direction: sysid.Forward.String()}
	if err := decodeArgs(cmd, &args); err != nil {
		return nil, err
	}
	axis := b.ctrl.CharacterizationAxis()
	if args.Axis != "" {
		var err error
		if axis, err = drive.ParseAxis(args.Axis); err != nil {
			return nil, err
		}
	}
	routine, err := sysid.ParseRoutine(args.Routine)
	if err != nil {
		return nil, err
	}
	direction, err := sysid.ParseDirection(args.Direction)
	if err != nil {
		return nil, err
	}
	return sysid.NewCommand(b.ctrl, b.cfg.SysIDConfig(), axis, routine, direction, b.clk, b.logger), nil
}

func (b *swerveBase) telemetrySnapshot() (map[string]interface{}, error) {
	payload, err := telemetry.Encode(b.ctrl.Snapshot(), b.clk.Now())
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	out["active_command"] = b.sched.ActiveCommand()
	if b.robot.Publisher != nil {
		if pose, ok := b.robot.Publisher.TargetPose(); ok {
			out["target_pose"] = []float64{pose.X(), pose.Y(), float64(pose.Heading)}
		}
	}
	return out, nil
}

func (b *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

func (b *swerveBase) Reconfigure(context.Context, resource.Dependencies, resource.Config) error {
	return resource.NewMustRebuildError(b.Name())
}

func (b *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		WidthMeters:              b.cfg.TrackWidth,
		WheelCircumferenceMeters: 2 * math.Pi * b.cfg.WheelRadius,
	}, nil
}

func (b *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	return b.isMoving.Load(), nil
}

// Close stops the control loop, then releases the drivetrain.
func (b *swerveBase) Close(ctx context.Context) error {
	b.isMoving.Store(false)
	return b.robot.Close(ctx)
}
