package drive

import (
	"context"

	"swerve/command"
	"swerve/geometry"
	"swerve/swerve"
)

// SpeedsSupplier returns the velocity to drive with this cycle.
type SpeedsSupplier func() swerve.ChassisSpeeds

// Named commands registered by RegisterCommands.
const (
	CommandBrake              = "brake"
	CommandIncreaseSpeedLimit = "increase_speed_limit"
	CommandDecreaseSpeedLimit = "decrease_speed_limit"
	CommandResetGyro          = "reset_gyro"
	CommandToggleHeadingHold  = "toggle_heading_hold"
	CommandToggleSysIDMode    = "toggle_sysid_mode"
	CommandStop               = "stop"
)

// FieldCentricCommand drives field centric with supplier's velocity every cycle.
func (c *Controller) FieldCentricCommand(supplier SpeedsSupplier) command.Command {
	return command.Run("drive_field_centric", func(ctx context.Context) error {
		c.DriveFieldCentric(ctx, supplier())
		return nil
	})
}

// RobotCentricCommand drives robot centric with supplier's velocity every cycle.
func (c *Controller) RobotCentricCommand(supplier SpeedsSupplier) command.Command {
	return command.Run("drive_robot_centric", func(ctx context.Context) error {
		c.DriveRobotCentric(ctx, supplier())
		return nil
	})
}

// TeleopCommand is the default driver command: field centric, or heading hold when toggled.
func (c *Controller) TeleopCommand(supplier SpeedsSupplier) command.Command {
	return command.Run("teleop", func(ctx context.Context) error {
		c.DriveTeleop(ctx, supplier())
		return nil
	})
}

// TargetAngleCommand holds target while translating with supplier's Vx and Vy.
func (c *Controller) TargetAngleCommand(target HeadingTarget, supplier SpeedsSupplier) command.Command {
	return command.Run("target_angle", func(ctx context.Context) error {
		speeds := supplier()
		c.TargetAngleDrive(ctx, target, speeds.Vx, speeds.Vy)
		return nil
	})
}

// BrakeCommand holds the brake until interrupted.
func (c *Controller) BrakeCommand() command.Command {
	return command.Run(CommandBrake, func(ctx context.Context) error {
		c.Brake(ctx)
		return nil
	})
}

// StopCommand drives at zero velocity until interrupted.
func (c *Controller) StopCommand() command.Command {
	return command.Run(CommandStop, func(ctx context.Context) error {
		c.DriveRobotCentric(ctx, swerve.ChassisSpeeds{})
		return nil
	})
}

// IncreaseSpeedLimitCommand raises the speed limit once.
func (c *Controller) IncreaseSpeedLimitCommand() command.Command {
	return command.RunOnce(CommandIncreaseSpeedLimit, func(context.Context) error {
		c.IncreaseSpeedLimit()
		return nil
	})
}

// DecreaseSpeedLimitCommand lowers the speed limit once.
func (c *Controller) DecreaseSpeedLimitCommand() command.Command {
	return command.RunOnce(CommandDecreaseSpeedLimit, func(context.Context) error {
		c.DecreaseSpeedLimit()
		return nil
	})
}

// ResetGyroCommand zeroes the heading once.
func (c *Controller) ResetGyroCommand() command.Command {
	return command.RunOnce(CommandResetGyro, func(context.Context) error {
		c.ResetGyro()
		return nil
	})
}

// ResetPoseCommand overwrites the pose once.
func (c *Controller) ResetPoseCommand(pose geometry.Pose2d) command.Command {
	return command.RunOnce("reset_pose", func(context.Context) error {
		c.ResetPose(pose)
		return nil
	})
}

// SetHeadingTargetCommand changes the heading hold target once.
func (c *Controller) SetHeadingTargetCommand(target HeadingTarget) command.Command {
	return command.RunOnce("set_heading_target", func(context.Context) error {
		c.SetHeadingTarget(target)
		return nil
	})
}

// ToggleHeadingHoldCommand toggles heading hold once.
func (c *Controller) ToggleHeadingHoldCommand() command.Command {
	return command.RunOnce(CommandToggleHeadingHold, func(context.Context) error {
		c.ToggleHeadingHold()
		return nil
	})
}

// ToggleCharacterizationCommand switches the characterization axis once.
func (c *Controller) ToggleCharacterizationCommand() command.Command {
	return command.RunOnce(CommandToggleSysIDMode, func(context.Context) error {
		c.ToggleCharacterizationAxis()
		return nil
	})
}

// RegisterCommands adds the controller's discrete actions to reg.
func RegisterCommands(reg *command.Registry, c *Controller) error {
	for name, factory := range map[string]command.Factory{
		CommandBrake:              c.BrakeCommand,
		CommandStop:               c.StopCommand,
		CommandIncreaseSpeedLimit: c.IncreaseSpeedLimitCommand,
		CommandDecreaseSpeedLimit: c.DecreaseSpeedLimitCommand,
		CommandResetGyro:          c.ResetGyroCommand,
		CommandToggleHeadingHold:  c.ToggleHeadingHoldCommand,
		CommandToggleSysIDMode:    c.ToggleCharacterizationCommand,
	} {
		if err := reg.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
