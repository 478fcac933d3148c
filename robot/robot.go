// Package robot assembles the drivetrain stack from a config: actuator, controller, control
// loop, named commands, autonomous bridge and telemetry.
package robot

import (
	"context"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/actuator"
	"swerve/auto"
	"swerve/command"
	"swerve/config"
	"swerve/drive"
	"swerve/field"
	"swerve/scheduler"
	"swerve/swerve"
	"swerve/telemetry"
)

// mqttQuiesceMs is how long Close lets in-flight telemetry drain.
const mqttQuiesceMs = 250

// Robot is a running drivetrain.
type Robot struct {
	Config     config.Config
	Alliance   field.AllianceSource
	Drivetrain actuator.Drivetrain
	// Sim is set when the drivetrain is simulated.
	Sim       *actuator.Sim
	Ctrl      *drive.Controller
	Sched     *scheduler.Scheduler
	Registry  *command.Registry
	Bridge    *auto.Bridge
	Publisher *telemetry.Publisher

	clk        clock.Clock
	logger     logging.Logger
	mqttClient mqtt.Client
}

// New builds the stack for cfg. Defaults are applied to a copy of cfg. Nothing runs until
// Start.
func New(native *config.Config, clk clock.Clock, logger logging.Logger) (*Robot, error) {
	cfg := *native
	cfg.Modules = append([]config.Module(nil), native.Modules...)
	cfg.ApplyDefaults()

	modules, err := cfg.SwerveModules()
	if err != nil {
		return nil, err
	}
	alliance, err := cfg.AllianceSource()
	if err != nil {
		return nil, err
	}
	driveCfg := cfg.DriveConfig()
	kinematics, err := swerve.NewKinematics(swerve.Positions(modules), driveCfg.MaxModuleSpeed)
	if err != nil {
		return nil, err
	}

	r := &Robot{
		Config:   cfg,
		Alliance: alliance,
		Registry: command.NewRegistry(),
		clk:      clk,
		logger:   logger,
	}
	if cfg.Simulate {
		r.Sim = actuator.NewSim(modules, kinematics)
		r.Drivetrain = r.Sim
	} else {
		can, err := actuator.NewCAN(cfg.CANConfig(), modules, clk, logger)
		if err != nil {
			return nil, errors.Wrap(err, "opening CAN drivetrain")
		}
		r.Drivetrain = can
	}

	r.Ctrl, err = drive.NewController(driveCfg, modules, kinematics, r.Drivetrain, logger)
	if err != nil {
		return nil, multierr.Combine(err, r.Drivetrain.Close(context.Background()))
	}
	if err := r.wire(); err != nil {
		return nil, multierr.Combine(err, r.Drivetrain.Close(context.Background()))
	}
	return r, nil
}

func (r *Robot) wire() error {
	r.Sched = scheduler.New(r.clk, r.Config.DriveConfig().Period, r.logger)
	if r.Sim != nil {
		period := r.Sched.Period()
		r.Sched.AddPeriodic("sim", func(context.Context) error {
			r.Sim.Advance(period)
			return nil
		})
	}
	r.Sched.AddPeriodic("drive", r.Ctrl.Periodic)
	if err := r.Sched.SetDefaultCommand(r.Ctrl.StopCommand()); err != nil {
		return err
	}

	if err := drive.RegisterCommands(r.Registry, r.Ctrl); err != nil {
		return err
	}
	r.Bridge = auto.NewBridge(r.Registry, r.logger)
	lib := auto.NewDeployLibrary(r.Config.DeployDir, r.Registry, r.Config.Field(), r.Config.MaxModuleSpeed, r.clk, r.logger)
	if err := r.Bridge.Configure(lib, r.Ctrl, r.Alliance); err != nil {
		return err
	}

	telemCfg, enabled := r.Config.TelemetryConfig()
	if !enabled {
		return nil
	}
	client, err := telemetry.Dial(telemCfg, r.logger)
	if err != nil {
		// Telemetry is optional. The drivetrain still runs without a broker.
		r.logger.Warnw("telemetry disabled", "error", err)
		return nil
	}
	r.Publisher, err = telemetry.NewPublisher(client, r.Ctrl, telemCfg, r.clk, r.logger)
	if err != nil {
		client.Disconnect(mqttQuiesceMs)
		r.logger.Warnw("telemetry disabled", "error", err)
		return nil
	}
	r.mqttClient = client
	return nil
}

// Start runs the control loop and telemetry.
func (r *Robot) Start() {
	r.Sched.Start()
	if r.Publisher != nil {
		r.Publisher.Start()
	}
}

// Schedule hands cmd to the control loop, logging a failure.
func (r *Robot) Schedule(ctx context.Context, cmd command.Command) error {
	if err := r.Sched.Schedule(ctx, cmd); err != nil {
		r.logger.Errorw("could not schedule command", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}

// Close stops the control loop, then releases telemetry and the drivetrain.
func (r *Robot) Close(ctx context.Context) error {
	err := r.Sched.Close(ctx)
	if r.Publisher != nil {
		err = multierr.Combine(err, r.Publisher.Close())
	}
	if r.mqttClient != nil {
		r.mqttClient.Disconnect(mqttQuiesceMs)
	}
	return multierr.Combine(err, r.Drivetrain.Close(ctx))
}
